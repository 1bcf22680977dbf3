// Package engine wires the storage stack into the operations the outside
// world consumes: collections, indexes, and the CRUD verbs. The shell and
// server that would normally sit in front of this are out of scope.
package engine

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/nova-docdb/docdb/internal/bufferpool"
	"github.com/nova-docdb/docdb/internal/catalog"
	"github.com/nova-docdb/docdb/internal/config"
	"github.com/nova-docdb/docdb/internal/document"
	"github.com/nova-docdb/docdb/internal/executor"
	"github.com/nova-docdb/docdb/internal/lock"
	"github.com/nova-docdb/docdb/internal/logging"
	"github.com/nova-docdb/docdb/internal/recovery"
	"github.com/nova-docdb/docdb/internal/storage"
	"github.com/nova-docdb/docdb/internal/txn"
	"github.com/nova-docdb/docdb/internal/wal"
)

var log = logging.Component("engine")

// Engine is the top-level handle: one per open database file.
type Engine struct {
	mu       sync.Mutex
	cfg      *config.Config
	disk     *storage.DiskManager
	bp       *bufferpool.BufferPool
	catalog  *catalog.Catalog
	locks    *lock.Manager
	txns     *txn.Manager
	wal      *wal.Manager
	recovery *recovery.Manager
	closed   bool
}

// Open initializes the engine from cfg, running crash recovery before
// accepting new work.
func Open(cfg *config.Config) (*Engine, error) {
	logging.SetLevel(cfg.Log.Level)

	disk, err := storage.OpenDiskManager(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	bp := bufferpool.New(disk, cfg.BufferPool.Capacity)

	cat, err := catalog.Open(bp, disk)
	if err != nil {
		return nil, err
	}

	locks := lock.New()
	txns := txn.New(locks)

	w, err := wal.Open(cfg.Storage.WALPath)
	if err != nil {
		return nil, err
	}

	rec := recovery.New(bp, w)
	if err := rec.Recover(); err != nil {
		return nil, err
	}
	if err := bp.FlushAll(); err != nil {
		return nil, err
	}

	log.WithField("path", cfg.Storage.Path).Info("engine open")
	return &Engine{
		cfg:      cfg,
		disk:     disk,
		bp:       bp,
		catalog:  cat,
		locks:    locks,
		txns:     txns,
		wal:      w,
		recovery: rec,
	}, nil
}

// Close saves the catalog, flushes the pool, and closes the log and file.
// Errors from each step are aggregated rather than short-circuiting.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs error
	errs = multierr.Append(errs, e.catalog.Save())
	errs = multierr.Append(errs, e.bp.FlushAll())
	errs = multierr.Append(errs, e.wal.Close())
	errs = multierr.Append(errs, e.disk.Close())
	if errs != nil {
		log.WithError(errs).Error("engine close encountered errors")
	}
	return errs
}

// ListCollections returns every collection name.
func (e *Engine) ListCollections() []string {
	return e.catalog.ListCollections()
}

// CreateCollection registers a new, empty collection.
func (e *Engine) CreateCollection(name string) error {
	return e.catalog.CreateCollection(name)
}

// DropCollection removes a collection's catalog entry.
func (e *Engine) DropCollection(name string) error {
	return e.catalog.DropCollection(name)
}

// CreateIndex builds a secondary index over an existing collection's field.
func (e *Engine) CreateIndex(collection, field string) error {
	return e.catalog.CreateIndex(collection, field)
}

// Insert appends doc to collection under its own transaction, logging and
// committing before returning the assigned record id.
func (e *Engine) Insert(collection string, doc *document.Document) (storage.RecordID, error) {
	h, err := e.catalog.Heap(collection)
	if err != nil {
		return storage.RecordID{}, err
	}

	t := e.txns.Begin()
	if err := e.logBegin(t.ID); err != nil {
		e.txns.Abort(t.ID)
		return storage.RecordID{}, err
	}

	rid, err := h.Insert(doc)
	if err != nil {
		e.abort(t.ID)
		return storage.RecordID{}, err
	}
	e.locks.LockExclusive(t.ID, rid)

	if _, err := e.wal.Append(wal.Record{TxnID: t.ID, Type: wal.Insert, PageID: rid.PageID, SlotID: rid.Slot, After: document.Serialize(doc)}); err != nil {
		e.txns.Abort(t.ID)
		return storage.RecordID{}, err
	}
	if err := e.commit(t.ID); err != nil {
		return storage.RecordID{}, err
	}
	return rid, nil
}

// Find returns every document matching filter's implicit AND of equality
// predicates.
func (e *Engine) Find(collection string, filter *document.Document) ([]*document.Document, error) {
	h, err := e.catalog.Heap(collection)
	if err != nil {
		return nil, err
	}

	t := e.txns.Begin()
	it := executor.NewFilter(executor.NewSeqScan(h), equalityPredicates(filter))
	if err := it.Init(); err != nil {
		e.txns.Abort(t.ID)
		return nil, err
	}

	var out []*document.Document
	for {
		tup, ok, err := it.Next()
		if err != nil {
			_ = it.Close()
			e.txns.Abort(t.ID)
			return nil, err
		}
		if !ok {
			break
		}
		e.locks.LockShared(t.ID, tup.RID)
		out = append(out, tup.Doc)
	}
	_ = it.Close()
	if err := e.txns.Commit(t.ID); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of documents in a collection.
func (e *Engine) Count(collection string) (int, error) {
	h, err := e.catalog.Heap(collection)
	if err != nil {
		return 0, err
	}
	n := 0
	err = h.Iterate(func(storage.RecordID, *document.Document) error {
		n++
		return nil
	})
	return n, err
}

// Delete removes every document matching filter, returning the count
// removed.
func (e *Engine) Delete(collection string, filter *document.Document) (int, error) {
	h, err := e.catalog.Heap(collection)
	if err != nil {
		return 0, err
	}

	t := e.txns.Begin()
	if err := e.logBegin(t.ID); err != nil {
		e.txns.Abort(t.ID)
		return 0, err
	}

	it := executor.NewFilter(executor.NewSeqScan(h), equalityPredicates(filter))
	if err := it.Init(); err != nil {
		e.abort(t.ID)
		return 0, err
	}
	var matches []executor.Tuple
	for {
		tup, ok, err := it.Next()
		if err != nil {
			_ = it.Close()
			e.abort(t.ID)
			return 0, err
		}
		if !ok {
			break
		}
		matches = append(matches, tup)
	}
	_ = it.Close()

	for _, m := range matches {
		e.locks.LockExclusive(t.ID, m.RID)
		before := document.Serialize(m.Doc)
		if err := h.Delete(m.RID); err != nil {
			e.abort(t.ID)
			return 0, err
		}
		if _, err := e.wal.Append(wal.Record{TxnID: t.ID, Type: wal.Delete, PageID: m.RID.PageID, SlotID: m.RID.Slot, Before: before}); err != nil {
			e.abort(t.ID)
			return 0, err
		}
	}

	if err := e.commit(t.ID); err != nil {
		return 0, err
	}
	return len(matches), nil
}

// Update merges patch into every document matching filter, preserving
// fields patch doesn't name. A relocating update is logged as a delete of
// the old image plus an insert of the new one, since the log's UPDATE
// record assumes a single page/slot.
func (e *Engine) Update(collection string, filter, patch *document.Document) (int, error) {
	h, err := e.catalog.Heap(collection)
	if err != nil {
		return 0, err
	}

	t := e.txns.Begin()
	if err := e.logBegin(t.ID); err != nil {
		e.txns.Abort(t.ID)
		return 0, err
	}

	it := executor.NewFilter(executor.NewSeqScan(h), equalityPredicates(filter))
	if err := it.Init(); err != nil {
		e.abort(t.ID)
		return 0, err
	}
	var matches []executor.Tuple
	for {
		tup, ok, err := it.Next()
		if err != nil {
			_ = it.Close()
			e.abort(t.ID)
			return 0, err
		}
		if !ok {
			break
		}
		matches = append(matches, tup)
	}
	_ = it.Close()

	for _, m := range matches {
		e.locks.LockExclusive(t.ID, m.RID)
		before := document.Serialize(m.Doc)
		merged := m.Doc.Clone()
		merged.Merge(patch)
		after := document.Serialize(merged)

		newRID, err := h.Update(m.RID, merged)
		if err != nil {
			e.abort(t.ID)
			return 0, err
		}

		if newRID == m.RID {
			_, err = e.wal.Append(wal.Record{TxnID: t.ID, Type: wal.Update, PageID: m.RID.PageID, SlotID: m.RID.Slot, Before: before, After: after})
		} else {
			e.locks.LockExclusive(t.ID, newRID)
			if _, err = e.wal.Append(wal.Record{TxnID: t.ID, Type: wal.Delete, PageID: m.RID.PageID, SlotID: m.RID.Slot, Before: before}); err == nil {
				_, err = e.wal.Append(wal.Record{TxnID: t.ID, Type: wal.Insert, PageID: newRID.PageID, SlotID: newRID.Slot, After: after})
			}
		}
		if err != nil {
			e.abort(t.ID)
			return 0, err
		}
	}

	if err := e.commit(t.ID); err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (e *Engine) logBegin(txnID int64) error {
	_, err := e.wal.Append(wal.Record{TxnID: txnID, Type: wal.Begin})
	return err
}

func (e *Engine) abort(txnID int64) {
	_, _ = e.wal.Append(wal.Record{TxnID: txnID, Type: wal.Abort})
	e.txns.Abort(txnID)
}

func (e *Engine) commit(txnID int64) error {
	if _, err := e.wal.Append(wal.Record{TxnID: txnID, Type: wal.Commit}); err != nil {
		e.txns.Abort(txnID)
		return err
	}
	return e.txns.Commit(txnID)
}

func equalityPredicates(filter *document.Document) []executor.Predicate {
	if filter == nil {
		return nil
	}
	preds := make([]executor.Predicate, 0, filter.Len())
	for _, k := range filter.Keys() {
		v, _ := filter.Get(k)
		preds = append(preds, executor.Predicate{Field: k, Op: executor.EQ, Value: v})
	}
	return preds
}
