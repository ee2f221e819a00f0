package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Encoder renders a method call or response body as XML-RPC text.
// Modeled on alexejk.io/go-xmlrpc's Encoder/Decoder split: the codec
// owns request/response framing, a pluggable Encoder/Decoder owns value
// marshaling.
type Encoder interface {
	EncodeCall(method string, params []Value) []byte
	EncodeResponse(params []Value) []byte
	EncodeFault(code int, message string) []byte
}

// Decoder parses XML-RPC bodies back into Values.
type Decoder interface {
	DecodeCall(body []byte) (method string, params []Value, err error)
	DecodeResponse(body []byte) (params []Value, err error)
}

// StdEncoder is the default Encoder.
type StdEncoder struct{}

// StdDecoder is the default Decoder.
type StdDecoder struct{}

var (
	_ Encoder = StdEncoder{}
	_ Decoder = StdDecoder{}
)

func (StdEncoder) EncodeCall(method string, params []Value) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	xml.EscapeText(&buf, []byte(method))
	buf.WriteString("</methodName><params>")
	for _, p := range params {
		buf.WriteString("<param>")
		writeValue(&buf, p)
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes()
}

func (StdEncoder) EncodeResponse(params []Value) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><params>")
	for _, p := range params {
		buf.WriteString("<param>")
		writeValue(&buf, p)
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodResponse>")
	return buf.Bytes()
}

func (StdEncoder) EncodeFault(code int, message string) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><fault>")
	writeValue(&buf, Struct{
		{Name: "faultCode", Value: int64(code)},
		{Name: "faultString", Value: message},
	})
	buf.WriteString("</fault></methodResponse>")
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	buf.WriteString("<value>")
	switch t := v.(type) {
	case nil:
		buf.WriteString("<nil/>")
	case int:
		fmt.Fprintf(buf, "<int>%d</int>", t)
	case int64:
		fmt.Fprintf(buf, "<int>%d</int>", t)
	case float64:
		fmt.Fprintf(buf, "<double>%s</double>", strconv.FormatFloat(t, 'g', -1, 64))
	case bool:
		if t {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	case string:
		buf.WriteString("<string>")
		xml.EscapeText(buf, []byte(t))
		buf.WriteString("</string>")
	case time.Time:
		fmt.Fprintf(buf, "<dateTime.iso8601>%s</dateTime.iso8601>", t.UTC().Format("20060102T15:04:05"))
	case []byte:
		buf.WriteString("<base64>")
		buf.WriteString(base64Encode(t))
		buf.WriteString("</base64>")
	case []Value:
		buf.WriteString("<array><data>")
		for _, e := range t {
			writeValue(buf, e)
		}
		buf.WriteString("</data></array>")
	case Struct:
		buf.WriteString("<struct>")
		for _, m := range t {
			buf.WriteString("<member><name>")
			xml.EscapeText(buf, []byte(m.Name))
			buf.WriteString("</name>")
			writeValue(buf, m.Value)
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	default:
		fmt.Fprintf(buf, "<string>%v</string>", t)
	}
	buf.WriteString("</value>")
}

func (StdDecoder) DecodeCall(body []byte) (string, []Value, error) {
	var mc struct {
		MethodName string    `xml:"methodName"`
		Params     []rawNode `xml:"params>param>value"`
	}
	if err := xml.Unmarshal(body, &mc); err != nil {
		return "", nil, fmt.Errorf("xmlrpc: decode call: %w", err)
	}
	params := make([]Value, 0, len(mc.Params))
	for _, p := range mc.Params {
		v, err := p.toValue()
		if err != nil {
			return "", nil, err
		}
		params = append(params, v)
	}
	return mc.MethodName, params, nil
}

func (StdDecoder) DecodeResponse(body []byte) ([]Value, error) {
	var fault struct {
		Fault *rawNode `xml:"fault>value"`
	}
	if err := xml.Unmarshal(body, &fault); err == nil && fault.Fault != nil {
		v, err := fault.Fault.toValue()
		if err != nil {
			return nil, err
		}
		s, _ := v.(Struct)
		code, _ := s.Get("faultCode")
		msg, _ := s.Get("faultString")
		codeInt, _ := toInt64(code)
		msgStr, _ := msg.(string)
		return nil, fmt.Errorf("xmlrpc: fault %d: %s", codeInt, msgStr)
	}

	var mr struct {
		Params []rawNode `xml:"params>param>value"`
	}
	if err := xml.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("xmlrpc: decode response: %w", err)
	}
	params := make([]Value, 0, len(mr.Params))
	for _, p := range mr.Params {
		v, err := p.toValue()
		if err != nil {
			return nil, err
		}
		params = append(params, v)
	}
	return params, nil
}

// rawNode captures a <value> element generically so it can be decoded
// recursively into a Value.
type rawNode struct {
	XMLName xml.Name
	Int     *string    `xml:"int"`
	I4      *string    `xml:"i4"`
	Double  *string    `xml:"double"`
	Boolean *string    `xml:"boolean"`
	Str     *string    `xml:"string"`
	Chars   string     `xml:",chardata"`
	Date    *string    `xml:"dateTime.iso8601"`
	Base64  *string    `xml:"base64"`
	Array   *rawArray  `xml:"array"`
	Struct  *rawStruct `xml:"struct"`
}

type rawArray struct {
	Data []rawNode `xml:"data>value"`
}

type rawStruct struct {
	Members []rawMember `xml:"member"`
}

type rawMember struct {
	Name  string  `xml:"name"`
	Value rawNode `xml:"value"`
}

func (n rawNode) toValue() (Value, error) {
	switch {
	case n.Int != nil:
		return parseInt(*n.Int)
	case n.I4 != nil:
		return parseInt(*n.I4)
	case n.Double != nil:
		f, err := strconv.ParseFloat(trim(*n.Double), 64)
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: bad double %q: %w", *n.Double, err)
		}
		return f, nil
	case n.Boolean != nil:
		return trim(*n.Boolean) == "1", nil
	case n.Str != nil:
		return *n.Str, nil
	case n.Date != nil:
		t, err := time.Parse("20060102T15:04:05", trim(*n.Date))
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: bad dateTime %q: %w", *n.Date, err)
		}
		return t, nil
	case n.Base64 != nil:
		b, err := base64Decode(trim(*n.Base64))
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: bad base64: %w", err)
		}
		return b, nil
	case n.Array != nil:
		vals := make([]Value, 0, len(n.Array.Data))
		for _, e := range n.Array.Data {
			v, err := e.toValue()
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	case n.Struct != nil:
		s := make(Struct, 0, len(n.Struct.Members))
		for _, m := range n.Struct.Members {
			v, err := m.Value.toValue()
			if err != nil {
				return nil, err
			}
			s = append(s, Member{Name: m.Name, Value: v})
		}
		return s, nil
	default:
		// A bare <value>text</value> with no typed child is a string,
		// per the XML-RPC spec.
		return trim(n.Chars), nil
	}
}

func parseInt(s string) (Value, error) {
	n, err := strconv.ParseInt(trim(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: bad int %q: %w", s, err)
	}
	return n, nil
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
