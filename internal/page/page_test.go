package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-docdb/docdb/internal/storage"
)

func newTestPage(t *testing.T) *Page {
	t.Helper()
	buf := make([]byte, storage.PageSize)
	p, err := New(buf)
	require.NoError(t, err)
	p.Init()
	return p
}

func TestPage_InsertGet(t *testing.T) {
	p := newTestPage(t)

	slot1, err := p.Insert([]byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, 0, slot1)

	slot2, err := p.Insert([]byte("bob"))
	require.NoError(t, err)
	assert.Equal(t, 1, slot2)

	got, err := p.Get(slot1)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), got)

	got, err = p.Get(slot2)
	require.NoError(t, err)
	assert.Equal(t, []byte("bob"), got)

	assert.Equal(t, 2, p.NumSlots())
}

func TestPage_DeleteIsTombstoneNotCompacted(t *testing.T) {
	p := newTestPage(t)

	slot, err := p.Insert([]byte("alice"))
	require.NoError(t, err)

	require.NoError(t, p.Delete(slot))

	_, err = p.Get(slot)
	assert.ErrorIs(t, err, ErrDeleted)

	live, err := p.IsLive(slot)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestPage_InsertReusesLowestTombstone(t *testing.T) {
	p := newTestPage(t)

	s0, err := p.Insert([]byte("a"))
	require.NoError(t, err)
	s1, err := p.Insert([]byte("bb"))
	require.NoError(t, err)
	_, err = p.Insert([]byte("ccc"))
	require.NoError(t, err)

	require.NoError(t, p.Delete(s0))
	require.NoError(t, p.Delete(s1))

	before := p.NumSlots()

	reused, err := p.Insert([]byte("z"))
	require.NoError(t, err)
	assert.Equal(t, s0, reused, "insert must reuse the lowest tombstone index")
	assert.Equal(t, before, p.NumSlots(), "reusing a tombstone must not grow the directory")

	got, err := p.Get(reused)
	require.NoError(t, err)
	assert.Equal(t, []byte("z"), got)
}

func TestPage_UpdateInPlaceShrinks(t *testing.T) {
	p := newTestPage(t)

	slot, err := p.Insert([]byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, p.Update(slot, []byte("hi")))

	got, err := p.Get(slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)
}

func TestPage_UpdateFailsWhenGrowing(t *testing.T) {
	p := newTestPage(t)

	slot, err := p.Insert([]byte("hi"))
	require.NoError(t, err)

	err = p.Update(slot, []byte("hello world"))
	assert.ErrorIs(t, err, ErrNoSpace)

	// original record must be untouched on failure.
	got, err := p.Get(slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)
}

func TestPage_FreeSpaceAccounting(t *testing.T) {
	p := newTestPage(t)
	full := p.FreeSpace()
	assert.Equal(t, storage.PageSize-HeaderSize, full)

	data := []byte("0123456789")
	_, err := p.Insert(data)
	require.NoError(t, err)

	assert.Equal(t, full-len(data)-SlotSize, p.FreeSpace())
}

func TestPage_InsertNoSpace(t *testing.T) {
	p := newTestPage(t)
	big := make([]byte, storage.PageSize)
	_, err := p.Insert(big)
	assert.Error(t, err)
}
