// Package recovery implements the three-phase ARIES-style recovery
// manager: Analysis, Redo, Undo, run once over the full write-ahead log
// before the engine accepts new work.
package recovery

import (
	"github.com/nova-docdb/docdb/internal/bufferpool"
	"github.com/nova-docdb/docdb/internal/logging"
	"github.com/nova-docdb/docdb/internal/wal"
)

var log = logging.Component("recovery")

// Manager replays a log against a buffer pool.
type Manager struct {
	bp  *bufferpool.BufferPool
	wal *wal.Manager
}

// New binds a recovery manager to its buffer pool and log.
func New(bp *bufferpool.BufferPool, w *wal.Manager) *Manager {
	return &Manager{bp: bp, wal: w}
}

// Recover reads the full log once, then runs Analysis, Redo and Undo in
// sequence.
func (m *Manager) Recover() error {
	records, err := m.wal.ReadAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	log.WithField("records", len(records)).Info("starting recovery")

	active, dirtyTable := analyze(records)
	if err := m.redo(records, dirtyTable); err != nil {
		return err
	}
	if err := m.undo(records, active); err != nil {
		return err
	}

	log.WithField("undone_txns", len(active)).Info("recovery complete")
	return nil
}

// analyze sweeps forward building the active-transaction set and the
// dirty-page table (page -> earliest touching LSN).
func analyze(records []wal.Record) (map[int64]bool, map[uint32]int64) {
	active := make(map[int64]bool)
	dirty := make(map[uint32]int64)

	for _, r := range records {
		switch r.Type {
		case wal.Begin:
			active[r.TxnID] = true
		case wal.Commit, wal.Abort:
			delete(active, r.TxnID)
		case wal.Insert, wal.Delete, wal.Update:
			active[r.TxnID] = true
			if _, ok := dirty[r.PageID]; !ok {
				dirty[r.PageID] = r.LSN
			}
		}
	}
	return active, dirty
}

// redo sweeps forward, re-applying after-images for records whose page is
// dirty and whose LSN is at or after that page's earliest touching LSN.
func (m *Manager) redo(records []wal.Record, dirty map[uint32]int64) error {
	for _, r := range records {
		switch r.Type {
		case wal.Insert, wal.Delete, wal.Update:
			recLSN, ok := dirty[r.PageID]
			if !ok || r.LSN < recLSN {
				continue
			}
			if err := m.applyAfter(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// undo sweeps backward, reverting operations belonging to transactions
// that never committed or aborted.
func (m *Manager) undo(records []wal.Record, active map[int64]bool) error {
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if !active[r.TxnID] {
			continue
		}
		switch r.Type {
		case wal.Insert, wal.Delete, wal.Update:
			if err := m.applyBefore(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyAfter re-applies a record's after-image. INSERT re-inserts at
// whatever slot the page grants next — idempotence is not guaranteed
// without physiological logging (see DESIGN.md's open questions).
func (m *Manager) applyAfter(r wal.Record) error {
	p, err := m.bp.Fetch(r.PageID)
	if err != nil {
		return err
	}

	var applyErr error
	switch r.Type {
	case wal.Insert:
		_, applyErr = p.Insert(r.After)
	case wal.Delete:
		applyErr = p.Delete(int(r.SlotID))
	case wal.Update:
		if err := p.Update(int(r.SlotID), r.After); err != nil {
			_ = p.Delete(int(r.SlotID))
			_, applyErr = p.Insert(r.After)
		}
	}

	if uerr := m.bp.Unpin(r.PageID, true); uerr != nil && applyErr == nil {
		applyErr = uerr
	}
	return applyErr
}

// applyBefore reverts a record by restoring its before-image.
func (m *Manager) applyBefore(r wal.Record) error {
	p, err := m.bp.Fetch(r.PageID)
	if err != nil {
		return err
	}

	var applyErr error
	switch r.Type {
	case wal.Insert:
		applyErr = p.Delete(int(r.SlotID))
	case wal.Delete:
		_, applyErr = p.Insert(r.Before)
	case wal.Update:
		applyErr = p.Update(int(r.SlotID), r.Before)
	}

	if uerr := m.bp.Unpin(r.PageID, true); uerr != nil && applyErr == nil {
		applyErr = uerr
	}
	return applyErr
}
