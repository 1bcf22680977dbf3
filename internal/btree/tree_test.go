package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-docdb/docdb/internal/bufferpool"
	"github.com/nova-docdb/docdb/internal/storage"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	disk, err := storage.OpenDiskManager(path)
	require.NoError(t, err)
	bp := bufferpool.New(disk, 256)

	root, err := CreateIndex(bp)
	require.NoError(t, err)
	return Open(bp, root)
}

func TestTree_InsertSearch(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.Insert("apple", storage.RecordID{PageID: 1, Slot: 0}))
	require.NoError(t, tr.Insert("banana", storage.RecordID{PageID: 1, Slot: 1}))

	rid, ok, err := tr.Search("apple")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, storage.RecordID{PageID: 1, Slot: 0}, rid)

	_, ok, err = tr.Search("cherry")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTree_RangeScanOrdered(t *testing.T) {
	tr := newTestTree(t)

	// Insertion in non-sorted order; range_scan must still yield sorted keys.
	for i := 19; i >= 0; i-- {
		key := fmt.Sprintf("User_%d", i)
		require.NoError(t, tr.Insert(key, storage.RecordID{PageID: uint32(i), Slot: 0}))
	}

	entries, err := tr.RangeScan("User_1", "User_3")
	require.NoError(t, err)

	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	// Lexicographic order: User_1, User_10..User_19, User_2, User_3
	expected := []string{"User_1"}
	for i := 10; i <= 19; i++ {
		expected = append(expected, fmt.Sprintf("User_%d", i))
	}
	expected = append(expected, "User_2", "User_3")
	assert.Equal(t, expected, keys)
	assert.Len(t, entries, 13)
}

func TestTree_SplitsAndStaysSorted(t *testing.T) {
	tr := newTestTree(t)
	n := DefaultMaxKeys*3 + 7
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%05d", i)
		require.NoError(t, tr.Insert(key, storage.RecordID{PageID: uint32(i), Slot: 0}))
	}

	entries, err := tr.RangeScan("k00000", "k99999")
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].Key, entries[i].Key)
	}
}

func TestTree_DuplicateKeysFirstFit(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.Insert("dup", storage.RecordID{PageID: 1, Slot: 0}))
	require.NoError(t, tr.Insert("dup", storage.RecordID{PageID: 2, Slot: 0}))

	entries, err := tr.RangeScan("dup", "dup")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint32(1), entries[0].RID.PageID)
	assert.Equal(t, uint32(2), entries[1].RID.PageID)
}

func TestTree_DeleteRemovesFirstMatch(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.Insert("k", storage.RecordID{PageID: 1, Slot: 0}))

	ok, err := tr.Delete("k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := tr.Search("k")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = tr.Delete("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
