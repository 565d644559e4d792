package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsRoundTrip(t *testing.T) {
	i := Int(42)
	n, ok := i.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	assert.False(t, i.IsNull())

	_, ok = i.Float()
	assert.False(t, ok)

	txt := Text("hello")
	s, ok := txt.Text()
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	assert.True(t, Null().IsNull())
}

func TestNativeAndString(t *testing.T) {
	assert.Equal(t, "NULL", Null().String())
	assert.Equal(t, int64(7), Int(7).Native())
	assert.Equal(t, "0x0102", Bytes([]byte{1, 2}).String())

	now := time.Now()
	ts := Timestamp(now)
	got, ok := ts.Timestamp()
	assert.True(t, ok)
	assert.True(t, got.Equal(now))
}

func TestFromNative(t *testing.T) {
	assert.Equal(t, KindNull, FromNative(nil).Kind())
	assert.Equal(t, KindInt, FromNative(5).Kind())
	assert.Equal(t, KindInt, FromNative(int64(5)).Kind())
	assert.Equal(t, KindFloat, FromNative(1.5).Kind())
	assert.Equal(t, KindBool, FromNative(true).Kind())
	assert.Equal(t, KindText, FromNative("x").Kind())
	assert.Equal(t, KindBytes, FromNative([]byte("x")).Kind())

	v := Int(9)
	assert.Equal(t, v, FromNative(v))
}
