package ros

import (
	"strings"
	"time"

	"github.com/qianqian121/cros/internal/xmlrpc"
)

// ParamKind discriminates the dynamic type carried by a Param.
type ParamKind int

// The parameter tree's tagged-variant cases.
const (
	ParamInt ParamKind = iota
	ParamDouble
	ParamBool
	ParamString
	ParamDateTime
	ParamBinary
	ParamArray
	ParamStruct
)

func (k ParamKind) String() string {
	switch k {
	case ParamInt:
		return "int"
	case ParamDouble:
		return "double"
	case ParamBool:
		return "bool"
	case ParamString:
		return "string"
	case ParamDateTime:
		return "datetime"
	case ParamBinary:
		return "binary"
	case ParamArray:
		return "array"
	case ParamStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// paramField is one ordered member of a Struct-kind Param.
type paramField struct {
	Name  string
	Value *Param
}

// Param is the in-memory recursive value used both as an XML-RPC
// argument and as the deliverable payload of parameter updates. Struct
// preserves insertion order so serialization is deterministic.
type Param struct {
	kind   ParamKind
	i      int64
	f      float64
	b      bool
	s      string
	t      time.Time
	bin    []byte
	arr    []*Param
	fields []paramField
}

// Kind reports the dynamic type of p.
func (p *Param) Kind() ParamKind { return p.kind }

// NewIntParam builds an int-kind Param.
func NewIntParam(v int64) *Param { return &Param{kind: ParamInt, i: v} }

// NewDoubleParam builds a double-kind Param.
func NewDoubleParam(v float64) *Param { return &Param{kind: ParamDouble, f: v} }

// NewBoolParam builds a bool-kind Param.
func NewBoolParam(v bool) *Param { return &Param{kind: ParamBool, b: v} }

// NewStringParam builds a string-kind Param.
func NewStringParam(v string) *Param { return &Param{kind: ParamString, s: v} }

// NewDateTimeParam builds a dateTime-kind Param.
func NewDateTimeParam(v time.Time) *Param { return &Param{kind: ParamDateTime, t: v} }

// NewBinaryParam builds a binary-kind Param.
func NewBinaryParam(v []byte) *Param {
	cp := append([]byte(nil), v...)
	return &Param{kind: ParamBinary, bin: cp}
}

// NewArrayParam builds an array-kind Param from the given elements.
func NewArrayParam(elems ...*Param) *Param {
	cp := append([]*Param(nil), elems...)
	return &Param{kind: ParamArray, arr: cp}
}

// NewStructParam builds an empty struct-kind Param; fields are added
// with Set.
func NewStructParam() *Param {
	return &Param{kind: ParamStruct}
}

// Int returns the int value and whether p is int-kind.
func (p *Param) Int() (int64, bool) { return p.i, p.kind == ParamInt }

// Double returns the double value and whether p is double-kind.
func (p *Param) Double() (float64, bool) { return p.f, p.kind == ParamDouble }

// Bool returns the bool value and whether p is bool-kind.
func (p *Param) Bool() (bool, bool) { return p.b, p.kind == ParamBool }

// String returns the string value and whether p is string-kind.
func (p *Param) String() (string, bool) { return p.s, p.kind == ParamString }

// Time returns the dateTime value and whether p is dateTime-kind.
func (p *Param) Time() (time.Time, bool) { return p.t, p.kind == ParamDateTime }

// Bytes returns the binary value and whether p is binary-kind.
func (p *Param) Bytes() ([]byte, bool) { return p.bin, p.kind == ParamBinary }

// Len returns the number of elements/fields of an array or struct Param.
func (p *Param) Len() int {
	switch p.kind {
	case ParamArray:
		return len(p.arr)
	case ParamStruct:
		return len(p.fields)
	default:
		return 0
	}
}

// At returns the i'th element of an array-kind Param.
func (p *Param) At(i int) *Param {
	if p.kind != ParamArray || i < 0 || i >= len(p.arr) {
		return nil
	}
	return p.arr[i]
}

// Append adds an element to an array-kind Param.
func (p *Param) Append(v *Param) {
	if p.kind != ParamArray {
		return
	}
	p.arr = append(p.arr, v)
}

// Get returns the named field of a struct-kind Param.
func (p *Param) Get(name string) (*Param, bool) {
	if p.kind != ParamStruct {
		return nil, false
	}
	for _, f := range p.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set adds or replaces the named field of a struct-kind Param, preserving
// the position of an existing field and appending new ones, so
// serialization order matches the order fields were first set.
func (p *Param) Set(name string, v *Param) {
	if p.kind != ParamStruct {
		return
	}
	for i, f := range p.fields {
		if f.Name == name {
			p.fields[i].Value = v
			return
		}
	}
	p.fields = append(p.fields, paramField{Name: name, Value: v})
}

// Fields returns the ordered field names of a struct-kind Param.
func (p *Param) Fields() []string {
	if p.kind != ParamStruct {
		return nil
	}
	names := make([]string, len(p.fields))
	for i, f := range p.fields {
		names[i] = f.Name
	}
	return names
}

// paramToValue converts a Param tree into the codec's generic Value
// representation, the boundary crossing into the out-of-scope XML-RPC
// text codec.
func paramToValue(p *Param) xmlrpc.Value {
	if p == nil {
		return nil
	}
	switch p.kind {
	case ParamInt:
		return p.i
	case ParamDouble:
		return p.f
	case ParamBool:
		return p.b
	case ParamString:
		return p.s
	case ParamDateTime:
		return p.t
	case ParamBinary:
		return p.bin
	case ParamArray:
		vals := make([]xmlrpc.Value, len(p.arr))
		for i, e := range p.arr {
			vals[i] = paramToValue(e)
		}
		return vals
	case ParamStruct:
		s := make(xmlrpc.Struct, len(p.fields))
		for i, f := range p.fields {
			s[i] = xmlrpc.Member{Name: f.Name, Value: paramToValue(f.Value)}
		}
		return s
	default:
		return nil
	}
}

// valueToParam converts a decoded codec Value back into a Param tree.
func valueToParam(v xmlrpc.Value) *Param {
	switch t := v.(type) {
	case nil:
		return nil
	case int64:
		return NewIntParam(t)
	case int:
		return NewIntParam(int64(t))
	case float64:
		return NewDoubleParam(t)
	case bool:
		return NewBoolParam(t)
	case string:
		return NewStringParam(t)
	case time.Time:
		return NewDateTimeParam(t)
	case []byte:
		return NewBinaryParam(t)
	case []xmlrpc.Value:
		arr := NewArrayParam()
		for _, e := range t {
			arr.Append(valueToParam(e))
		}
		return arr
	case xmlrpc.Struct:
		s := NewStructParam()
		for _, m := range t {
			s.Set(m.Name, valueToParam(m.Value))
		}
		return s
	default:
		return nil
	}
}

// ParamUpdateCallback delivers a paramUpdate slave call matching a
// registered subscription; key is always the full key the master sent,
// even when it is a descendant of the registered prefix.
type ParamUpdateCallback func(key string, value *Param, ctx interface{})

// ParamSubscription is one registered parameter-prefix subscription.
type ParamSubscription struct {
	Key string
	Cb  ParamUpdateCallback
	Ctx interface{}
}

// SubscribeParam registers a parameter subscription on the master and
// records the prefix locally so a later paramUpdate slave call can be
// matched and delivered.
func (n *Node) SubscribeParam(key string, cb ParamUpdateCallback, ctx interface{}) error {
	n.paramSubs = append(n.paramSubs, &ParamSubscription{Key: key, Cb: cb, Ctx: ctx})
	call := &RosApiCall{
		Method:   methodSubscribeParam,
		Params:   []xmlrpc.Value{n.callerID, n.slaveURI(), key},
		Callback: func(*ApiCallResult, interface{}) {},
	}
	return n.enqueueMasterCall(call)
}

// UnsubscribeParam removes a local subscription and tells the master to
// stop sending updates for it.
func (n *Node) UnsubscribeParam(key string) error {
	kept := n.paramSubs[:0]
	for _, sub := range n.paramSubs {
		if sub.Key != key {
			kept = append(kept, sub)
		}
	}
	n.paramSubs = kept
	call := &RosApiCall{
		Method:   methodUnsubscribeParam,
		Params:   []xmlrpc.Value{n.callerID, n.slaveURI(), key},
		Callback: func(*ApiCallResult, interface{}) {},
	}
	return n.enqueueMasterCall(call)
}

// deliverParamUpdate matches key against every registered subscription
// prefix and fires each match's callback with the full key, per §4.4.
func (n *Node) deliverParamUpdate(key string, value *Param) {
	for _, sub := range n.paramSubs {
		if sub.Key == key || strings.HasPrefix(key, strings.TrimSuffix(sub.Key, "/")+"/") {
			if sub.Cb != nil {
				sub.Cb(key, value, sub.Ctx)
			}
		}
	}
}

// ParamResultCallback delivers the outcome of GetParam: the decoded
// value, or the call's error.
type ParamResultCallback func(value *Param, err error)

// GetParam issues getParam on the master slot.
func (n *Node) GetParam(key string, cb ParamResultCallback) error {
	return n.enqueueMasterCall(&RosApiCall{
		Method: methodGetParam,
		Params: []xmlrpc.Value{n.callerID, key},
		Callback: func(res *ApiCallResult, _ interface{}) {
			if cb == nil {
				return
			}
			if res.Err != nil {
				cb(nil, res.Err)
				return
			}
			cb(valueToParam(res.Response.Value), nil)
		},
	})
}

// SetParam issues setParam on the master slot.
func (n *Node) SetParam(key string, value *Param, cb func(error)) error {
	return n.enqueueMasterCall(&RosApiCall{
		Method: methodSetParam,
		Params: []xmlrpc.Value{n.callerID, key, paramToValue(value)},
		Callback: func(res *ApiCallResult, _ interface{}) {
			if cb != nil {
				cb(res.Err)
			}
		},
	})
}

// HasParam issues hasParam on the master slot.
func (n *Node) HasParam(key string, cb func(bool, error)) error {
	return n.enqueueMasterCall(&RosApiCall{
		Method: methodHasParam,
		Params: []xmlrpc.Value{n.callerID, key},
		Callback: func(res *ApiCallResult, _ interface{}) {
			if cb == nil {
				return
			}
			if res.Err != nil {
				cb(false, res.Err)
				return
			}
			b, _ := res.Response.Value.(bool)
			cb(b, nil)
		},
	})
}

// DeleteParam issues deleteParam on the master slot.
func (n *Node) DeleteParam(key string, cb func(error)) error {
	return n.enqueueMasterCall(&RosApiCall{
		Method: methodDeleteParam,
		Params: []xmlrpc.Value{n.callerID, key},
		Callback: func(res *ApiCallResult, _ interface{}) {
			if cb != nil {
				cb(res.Err)
			}
		},
	})
}

// GetParamNames issues getParamNames on the master slot.
func (n *Node) GetParamNames(cb func([]string, error)) error {
	return n.enqueueMasterCall(&RosApiCall{
		Method: methodGetParamNames,
		Params: []xmlrpc.Value{n.callerID},
		Callback: func(res *ApiCallResult, _ interface{}) {
			if cb == nil {
				return
			}
			if res.Err != nil {
				cb(nil, res.Err)
				return
			}
			arr, _ := res.Response.Value.([]xmlrpc.Value)
			names := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					names = append(names, s)
				}
			}
			cb(names, nil)
		},
	})
}
