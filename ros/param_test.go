package ros

import (
	"testing"
	"time"

	"github.com/qianqian121/cros/internal/xmlrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamStructPreservesInsertionOrder(t *testing.T) {
	s := NewStructParam()
	s.Set("x", NewIntParam(5))
	s.Set("y", NewIntParam(6))
	s.Set("z", NewIntParam(7))

	require.Equal(t, []string{"x", "y", "z"}, s.Fields())

	s.Set("y", NewIntParam(60))
	require.Equal(t, []string{"x", "y", "z"}, s.Fields(), "replacing a field must not move it")

	v, ok := s.Get("y")
	require.True(t, ok)
	n, _ := v.Int()
	assert.Equal(t, int64(60), n)
}

func TestParamToValueRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStructParam()
	s.Set("a", NewIntParam(1))
	s.Set("b", NewDoubleParam(2.5))
	s.Set("c", NewBoolParam(true))
	s.Set("d", NewStringParam("hi"))
	s.Set("e", NewDateTimeParam(now))
	s.Set("f", NewBinaryParam([]byte{1, 2, 3}))
	s.Set("g", NewArrayParam(NewIntParam(1), NewIntParam(2), NewIntParam(3)))

	val := paramToValue(s)
	back := valueToParam(val)

	require.Equal(t, ParamStruct, back.Kind())
	require.Equal(t, s.Fields(), back.Fields())

	bi, _ := back.Get("a")
	n, _ := bi.Int()
	assert.Equal(t, int64(1), n)

	bg, _ := back.Get("g")
	require.Equal(t, 3, bg.Len())
	for i := 0; i < 3; i++ {
		n, _ := bg.At(i).Int()
		assert.Equal(t, int64(i+1), n)
	}
}

func TestValueToParamUnknownTypeIsNil(t *testing.T) {
	assert.Nil(t, valueToParam(struct{}{}))
	assert.Nil(t, paramToValue(nil))
}

var _ xmlrpc.Value = (xmlrpc.Value)(nil)
