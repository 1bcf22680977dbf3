// Package heap implements the heap file: an unordered, growing list of
// slotted pages addressed only by record id, with FSM-guided page
// selection on insert.
package heap

import (
	"fmt"

	"github.com/nova-docdb/docdb/internal/bufferpool"
	"github.com/nova-docdb/docdb/internal/document"
	"github.com/nova-docdb/docdb/internal/fsm"
	"github.com/nova-docdb/docdb/internal/page"
	"github.com/nova-docdb/docdb/internal/storage"
)

// Heap is not safe for concurrent use on its own; callers coordinate access
// through the lock manager, matching every other storage-layer component.
type Heap struct {
	bp        *bufferpool.BufferPool
	fsm       *fsm.FSM
	firstPage uint32
	maxPageID uint32
}

// New binds a heap file to its first page and free-space map. maxPageID
// should be the highest page id already allocated for this heap (equal to
// firstPage for a brand new collection).
func New(bp *bufferpool.BufferPool, f *fsm.FSM, firstPage, maxPageID uint32) *Heap {
	return &Heap{bp: bp, fsm: f, firstPage: firstPage, maxPageID: maxPageID}
}

// FirstPage returns the heap's first page id, for catalog persistence.
func (h *Heap) FirstPage() uint32 { return h.firstPage }

// MaxPageID returns the highest page id allocated to this heap so far.
func (h *Heap) MaxPageID() uint32 { return h.maxPageID }

// Insert serializes doc and places it via the FSM's candidate page,
// allocating and retrying exactly once on a stale FSM entry.
func (h *Heap) Insert(doc *document.Document) (storage.RecordID, error) {
	data := document.Serialize(doc)
	need := len(data) + page.SlotSize

	target, err := h.fsm.FindPageWithSpace(need)
	if err != nil {
		return storage.RecordID{}, err
	}
	if target == storage.InvalidPageID {
		target, err = h.allocatePage()
		if err != nil {
			return storage.RecordID{}, err
		}
	}

	rid, err := h.insertInto(target, data)
	if err == nil {
		return rid, nil
	}

	target, allocErr := h.allocatePage()
	if allocErr != nil {
		return storage.RecordID{}, allocErr
	}
	rid, err = h.insertInto(target, data)
	if err != nil {
		return storage.RecordID{}, fmt.Errorf("heap: record too large for a page: %w", err)
	}
	return rid, nil
}

func (h *Heap) insertInto(pageID uint32, data []byte) (storage.RecordID, error) {
	p, err := h.bp.Fetch(pageID)
	if err != nil {
		return storage.RecordID{}, err
	}

	slot, err := p.Insert(data)
	if err != nil {
		_ = h.bp.Unpin(pageID, false)
		return storage.RecordID{}, err
	}

	free := p.FreeSpace()
	if err := h.bp.Unpin(pageID, true); err != nil {
		return storage.RecordID{}, err
	}
	if err := h.fsm.UpdateFreeSpace(pageID, free); err != nil {
		return storage.RecordID{}, err
	}
	return storage.RecordID{PageID: pageID, Slot: uint16(slot)}, nil
}

func (h *Heap) allocatePage() (uint32, error) {
	id, p, err := h.bp.NewPage()
	if err != nil {
		return 0, err
	}
	p.Init()
	free := p.FreeSpace()
	if err := h.bp.Unpin(id, true); err != nil {
		return 0, err
	}
	if id > h.maxPageID {
		h.maxPageID = id
	}
	if err := h.fsm.UpdateFreeSpace(id, free); err != nil {
		return 0, err
	}
	return id, nil
}

// Get fetches and deserializes the document at rid.
func (h *Heap) Get(rid storage.RecordID) (*document.Document, error) {
	p, err := h.bp.Fetch(rid.PageID)
	if err != nil {
		return nil, err
	}
	defer h.bp.Unpin(rid.PageID, false)

	data, err := p.Get(int(rid.Slot))
	if err != nil {
		return nil, err
	}
	doc, _, err := document.Deserialize(data)
	return doc, err
}

// Delete tombstones the slot and updates the FSM with reclaimed space.
func (h *Heap) Delete(rid storage.RecordID) error {
	p, err := h.bp.Fetch(rid.PageID)
	if err != nil {
		return err
	}
	if err := p.Delete(int(rid.Slot)); err != nil {
		_ = h.bp.Unpin(rid.PageID, false)
		return err
	}
	free := p.FreeSpace()
	if err := h.bp.Unpin(rid.PageID, true); err != nil {
		return err
	}
	return h.fsm.UpdateFreeSpace(rid.PageID, free)
}

// Update tries an in-place slotted update; on failure it deletes and
// re-inserts, which may return a different record id.
func (h *Heap) Update(rid storage.RecordID, doc *document.Document) (storage.RecordID, error) {
	data := document.Serialize(doc)

	p, err := h.bp.Fetch(rid.PageID)
	if err != nil {
		return storage.RecordID{}, err
	}
	if err := p.Update(int(rid.Slot), data); err == nil {
		free := p.FreeSpace()
		if err := h.bp.Unpin(rid.PageID, true); err != nil {
			return storage.RecordID{}, err
		}
		if err := h.fsm.UpdateFreeSpace(rid.PageID, free); err != nil {
			return storage.RecordID{}, err
		}
		return rid, nil
	}
	_ = h.bp.Unpin(rid.PageID, false)

	if err := h.Delete(rid); err != nil {
		return storage.RecordID{}, err
	}
	return h.Insert(doc)
}

// Iterate visits every live (rid, doc) pair from firstPage to maxPageID in
// page then slot order, unpinning every page before advancing. Stops and
// returns fn's error, if any.
func (h *Heap) Iterate(fn func(storage.RecordID, *document.Document) error) error {
	for pid := h.firstPage; pid <= h.maxPageID; pid++ {
		if err := h.iteratePage(pid, fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *Heap) iteratePage(pid uint32, fn func(storage.RecordID, *document.Document) error) error {
	p, err := h.bp.Fetch(pid)
	if err != nil {
		return err
	}
	defer h.bp.Unpin(pid, false)

	n := p.NumSlots()
	for slot := 0; slot < n; slot++ {
		live, err := p.IsLive(slot)
		if err != nil || !live {
			continue
		}
		data, err := p.Get(slot)
		if err != nil {
			continue
		}
		doc, _, err := document.Deserialize(data)
		if err != nil {
			return err
		}
		if err := fn(storage.RecordID{PageID: pid, Slot: uint16(slot)}, doc); err != nil {
			return err
		}
	}
	return nil
}
