// Package fsm implements the free-space map: one buffer-pool page of
// coarse, 16-byte-granularity free-space categories, one byte per heap
// page id, byte i holding heap page i's category.
package fsm

import (
	"github.com/nova-docdb/docdb/internal/bufferpool"
	"github.com/nova-docdb/docdb/internal/storage"
)

const granularity = 16

// FSM is bound to a single page of the buffer pool. The reference scan
// covers only the first FSM page, so one FSM instance tracks at most
// storage.PageSize heap pages (4,096 by default).
type FSM struct {
	bp     *bufferpool.BufferPool
	pageID uint32
}

// New binds an FSM to an already-allocated, already-zeroed page.
func New(bp *bufferpool.BufferPool, pageID uint32) *FSM {
	return &FSM{bp: bp, pageID: pageID}
}

// category converts a free-byte count to the quantized [0,255] category.
func category(freeBytes int) byte {
	if freeBytes < 0 {
		freeBytes = 0
	}
	c := freeBytes / granularity
	if c > 255 {
		c = 255
	}
	return byte(c)
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// FindPageWithSpace linearly scans for the first heap page whose category
// is nonzero and at least ceil(n/granularity). Returns storage.InvalidPageID
// when no page qualifies.
func (f *FSM) FindPageWithSpace(n int) (uint32, error) {
	p, err := f.bp.Fetch(f.pageID)
	if err != nil {
		return storage.InvalidPageID, err
	}
	defer f.bp.Unpin(f.pageID, false)

	need := byte(ceilDiv(n, granularity))
	if int(need) > 255 {
		return storage.InvalidPageID, nil
	}

	for i, b := range p.Buf {
		if b > 0 && b >= need {
			return uint32(i), nil
		}
	}
	return storage.InvalidPageID, nil
}

// UpdateFreeSpace records heapPage's current free-byte count.
func (f *FSM) UpdateFreeSpace(heapPage uint32, freeBytes int) error {
	if int(heapPage) >= storage.PageSize {
		return nil // out of this FSM page's addressable range
	}
	p, err := f.bp.Fetch(f.pageID)
	if err != nil {
		return err
	}
	p.Buf[heapPage] = category(freeBytes)
	return f.bp.Unpin(f.pageID, true)
}
