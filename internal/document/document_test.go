package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_RoundTrip(t *testing.T) {
	d := New()
	d.Set("name", String("Alice"))
	d.Set("age", Int32(30))
	d.Set("score", Float64(95.5))
	d.Set("active", Bool(true))

	buf := Serialize(d)
	got, n, err := Deserialize(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.True(t, d.Equal(got))

	name, ok := got.Get("name")
	require.True(t, ok)
	assert.Equal(t, KindString, name.Kind)
	assert.Equal(t, "Alice", name.Str)
}

func TestDocument_NestedRoundTrip(t *testing.T) {
	inner := New()
	inner.Set("city", String("NYC"))

	outer := New()
	outer.Set("address", Sub(inner))
	outer.Set("id", Int64(42))

	buf := Serialize(outer)
	got, _, err := Deserialize(buf)
	require.NoError(t, err)
	assert.True(t, outer.Equal(got))

	addr, ok := got.Get("address")
	require.True(t, ok)
	require.Equal(t, KindDocument, addr.Kind)
	city, ok := addr.Doc.Get("city")
	require.True(t, ok)
	assert.Equal(t, "NYC", city.Str)
}

func TestDocument_KeysAreLexicographic(t *testing.T) {
	d := New()
	d.Set("zebra", Null())
	d.Set("apple", Null())
	d.Set("mango", Null())

	assert.Equal(t, []string{"apple", "mango", "zebra"}, d.Keys())
}

func TestDocument_MergePreservesOtherFields(t *testing.T) {
	d := New()
	d.Set("name", String("Alice"))
	d.Set("age", Int32(30))

	patch := New()
	patch.Set("age", Int32(31))

	d.Merge(patch)

	name, _ := d.Get("name")
	age, _ := d.Get("age")
	assert.Equal(t, "Alice", name.Str)
	assert.EqualValues(t, 31, age.I32)
}

func TestDocument_DeserializeTruncated(t *testing.T) {
	d := New()
	d.Set("x", String("hello"))
	buf := Serialize(d)

	_, _, err := Deserialize(buf[:len(buf)-2])
	assert.Error(t, err)
}

func TestCoerceKey(t *testing.T) {
	k, ok := CoerceKey(String("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", k)

	k, ok = CoerceKey(Int32(-7))
	assert.True(t, ok)
	assert.Equal(t, "-7", k)

	_, ok = CoerceKey(Bool(true))
	assert.False(t, ok)
}
