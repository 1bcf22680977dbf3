package recovery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-docdb/docdb/internal/bufferpool"
	"github.com/nova-docdb/docdb/internal/page"
	"github.com/nova-docdb/docdb/internal/storage"
	"github.com/nova-docdb/docdb/internal/wal"
)

func setup(t *testing.T) (*bufferpool.BufferPool, *wal.Manager, uint32) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	disk, err := storage.OpenDiskManager(dbPath)
	require.NoError(t, err)
	bp := bufferpool.New(disk, 16)

	id, p, err := bp.NewPage()
	require.NoError(t, err)
	p.Init()
	require.NoError(t, bp.Unpin(id, true))
	require.NoError(t, bp.FlushAll())

	walPath := filepath.Join(t.TempDir(), "test.wal")
	w, err := wal.Open(walPath)
	require.NoError(t, err)

	return bp, w, id
}

func TestRecovery_RedoCommittedInsert(t *testing.T) {
	bp, w, pageID := setup(t)

	_, err := w.Append(wal.Record{TxnID: 1, Type: wal.Begin})
	require.NoError(t, err)
	_, err = w.Append(wal.Record{TxnID: 1, Type: wal.Insert, PageID: pageID, SlotID: 0, After: []byte("hello")})
	require.NoError(t, err)
	_, err = w.Append(wal.Record{TxnID: 1, Type: wal.Commit})
	require.NoError(t, err)

	m := New(bp, w)
	require.NoError(t, m.Recover())

	p, err := bp.Fetch(pageID)
	require.NoError(t, err)
	got, err := p.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	require.NoError(t, bp.Unpin(pageID, false))
}

func TestRecovery_UndoesUncommittedInsert(t *testing.T) {
	bp, w, pageID := setup(t)

	// Insert directly (as if crash happened mid-transaction) then log it,
	// without a COMMIT.
	p, err := bp.Fetch(pageID)
	require.NoError(t, err)
	slot, err := p.Insert([]byte("uncommitted"))
	require.NoError(t, err)
	require.NoError(t, bp.Unpin(pageID, true))

	_, err = w.Append(wal.Record{TxnID: 7, Type: wal.Begin})
	require.NoError(t, err)
	_, err = w.Append(wal.Record{TxnID: 7, Type: wal.Insert, PageID: pageID, SlotID: uint16(slot), After: []byte("uncommitted")})
	require.NoError(t, err)

	m := New(bp, w)
	require.NoError(t, m.Recover())

	p2, err := bp.Fetch(pageID)
	require.NoError(t, err)
	_, err = p2.Get(slot)
	assert.ErrorIs(t, err, page.ErrDeleted, "undo must delete the uncommitted insert's slot")
	require.NoError(t, bp.Unpin(pageID, false))
}

func TestRecovery_EmptyLogIsNoOp(t *testing.T) {
	bp, w, _ := setup(t)
	m := New(bp, w)
	require.NoError(t, m.Recover())
}
