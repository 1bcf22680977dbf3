// Package bufferpool implements the fixed-size frame cache sitting between
// the on-disk pages and every component that reads or writes them: an
// LRU victim list plus a free list, pin counts and dirty tracking, all
// serialized behind one pool-level mutex.
package bufferpool

import (
	"container/list"
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/nova-docdb/docdb/internal/logging"
	"github.com/nova-docdb/docdb/internal/page"
	"github.com/nova-docdb/docdb/internal/storage"
)

var log = logging.Component("bufferpool")

// ErrPoolExhausted is returned when no frame is free and no frame is
// currently evictable (every mapped page is pinned).
var ErrPoolExhausted = errors.New("bufferpool: pool exhausted, no evictable frame")

// frame is one slot of the pool.
type frame struct {
	pageID   uint32
	buf      []byte
	pinCount int32
	dirty    bool
}

// BufferPool is the frame cache described in §4.2: a fixed array of frames,
// a page-id -> frame-id map, a free list of never-used frames, and an LRU
// list of currently-unpinned frames.
type BufferPool struct {
	mu sync.Mutex

	disk *storage.DiskManager

	frames    []*frame
	pageTable map[uint32]int

	freeList []int             // frame indices never bound to a page
	lru      *list.List        // frame indices, front = most recently unpinned
	lruElem  map[int]*list.Element

	hitCount   atomic.Uint64
	missCount  atomic.Uint64
	readCount  atomic.Uint64
	writeCount atomic.Uint64
	dirtyPages atomic.Int64
}

// New creates a pool of the given capacity backed by disk.
func New(disk *storage.DiskManager, capacity int) *BufferPool {
	if capacity <= 0 {
		capacity = 128
	}
	bp := &BufferPool{
		disk:      disk,
		frames:    make([]*frame, capacity),
		pageTable: make(map[uint32]int, capacity),
		freeList:  make([]int, capacity),
		lru:       list.New(),
		lruElem:   make(map[int]*list.Element, capacity),
	}
	for i := 0; i < capacity; i++ {
		bp.freeList[i] = capacity - 1 - i // pop from the end below, order doesn't matter
	}
	return bp
}

// Fetch pins and returns the page with the given id, reading it from disk on
// a miss. Returns ErrPoolExhausted if no frame can be freed.
func (bp *BufferPool) Fetch(id uint32) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageTable[id]; ok {
		f := bp.frames[idx]
		if f.pinCount == 0 {
			bp.removeFromLRU(idx)
		}
		f.pinCount++
		bp.hitCount.Inc()
		return page.New(f.buf)
	}

	bp.missCount.Inc()
	idx, f, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	bp.readCount.Inc()
	if err := bp.disk.ReadPage(id, f.buf); err != nil {
		bp.freeList = append(bp.freeList, idx)
		bp.frames[idx] = nil
		return nil, err
	}

	f.pageID = id
	f.pinCount = 1
	f.dirty = false
	bp.frames[idx] = f
	bp.pageTable[id] = idx

	return page.New(f.buf)
}

// NewPage allocates a fresh page id via the disk manager and binds it to a
// frame exactly as Fetch would, skipping the read. The frame's bytes are
// zeroed here, since a newly allocated page has no prior contents worth
// reading; callers that want a slotted page still call page.Init.
func (bp *BufferPool) NewPage() (uint32, *page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	id := bp.disk.AllocatePage()

	idx, f, err := bp.acquireFrame()
	if err != nil {
		return 0, nil, err
	}

	for i := range f.buf {
		f.buf[i] = 0
	}
	f.pageID = id
	f.pinCount = 1
	f.dirty = false
	bp.frames[idx] = f
	bp.pageTable[id] = idx

	p, err := page.New(f.buf)
	if err != nil {
		return 0, nil, err
	}
	return id, p, nil
}

// acquireFrame returns a free or victimized frame, flushing it first if
// dirty. Caller must hold bp.mu.
func (bp *BufferPool) acquireFrame() (int, *frame, error) {
	if n := len(bp.freeList); n > 0 {
		idx := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		f := &frame{buf: make([]byte, storage.PageSize)}
		return idx, f, nil
	}

	elem := bp.lru.Back()
	if elem == nil {
		return 0, nil, ErrPoolExhausted
	}
	idx := elem.Value.(int)
	bp.lru.Remove(elem)
	delete(bp.lruElem, idx)

	victim := bp.frames[idx]
	if victim.pinCount != 0 {
		// A pinned frame must never sit in the LRU list.
		return 0, nil, ErrPoolExhausted
	}
	if victim.dirty {
		bp.writeCount.Inc()
		if err := bp.disk.WritePage(victim.pageID, victim.buf); err != nil {
			bp.lru.PushBack(idx)
			bp.lruElem[idx] = bp.lru.Back()
			return 0, nil, err
		}
		victim.dirty = false
		bp.dirtyPages.Dec()
	}
	delete(bp.pageTable, victim.pageID)
	return idx, victim, nil
}

func (bp *BufferPool) removeFromLRU(idx int) {
	if elem, ok := bp.lruElem[idx]; ok {
		bp.lru.Remove(elem)
		delete(bp.lruElem, idx)
	}
}

// Unpin decrements the pin count of id's frame; if it reaches zero the frame
// becomes an LRU victim candidate. dirty=true raises the dirty flag and
// never clears it.
func (bp *BufferPool) Unpin(id uint32, dirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[id]
	if !ok {
		return nil
	}
	f := bp.frames[idx]
	if dirty && !f.dirty {
		f.dirty = true
		bp.dirtyPages.Inc()
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
	if f.pinCount == 0 {
		bp.lru.PushFront(idx)
		bp.lruElem[idx] = bp.lru.Front()
	}
	return nil
}

// Flush writes id's frame to disk and clears its dirty flag.
func (bp *BufferPool) Flush(id uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushLocked(id)
}

func (bp *BufferPool) flushLocked(id uint32) error {
	idx, ok := bp.pageTable[id]
	if !ok {
		return nil
	}
	f := bp.frames[idx]
	if !f.dirty {
		return nil
	}
	bp.writeCount.Inc()
	if err := bp.disk.WritePage(f.pageID, f.buf); err != nil {
		return err
	}
	f.dirty = false
	bp.dirtyPages.Dec()
	return nil
}

// FlushAll writes every dirty frame to disk (one goroutine per dirty frame;
// each write takes the pool mutex, so the writes themselves do not run in
// parallel) and syncs the file. Errors from individual frames are
// aggregated rather than short-circuiting.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	dirtyIDs := make([]uint32, 0, len(bp.pageTable))
	for id, idx := range bp.pageTable {
		if bp.frames[idx].dirty {
			dirtyIDs = append(dirtyIDs, id)
		}
	}
	bp.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  error
		wg    conc.WaitGroup
	)
	for _, id := range dirtyIDs {
		id := id
		wg.Go(func() {
			if err := bp.Flush(id); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		})
	}
	wg.Wait()

	if err := bp.disk.Sync(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		log.WithError(errs).Warn("flush_all completed with errors")
	}
	return errs
}

// DeletePage removes id's mapping and returns its frame to the free list.
// Permitted only when the frame's pin count is zero.
func (bp *BufferPool) DeletePage(id uint32) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageTable[id]
	if !ok {
		return nil
	}
	f := bp.frames[idx]
	if f.pinCount != 0 {
		return errors.New("bufferpool: cannot delete a pinned page")
	}
	bp.removeFromLRU(idx)
	delete(bp.pageTable, id)
	bp.frames[idx] = nil
	bp.freeList = append(bp.freeList, idx)
	return nil
}

// HitRatio returns the fraction of Fetch calls that hit an already-mapped
// frame. Pure instrumentation; never affects control flow.
func (bp *BufferPool) HitRatio() float64 {
	hits := bp.hitCount.Load()
	total := hits + bp.missCount.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// DirtyRatio returns the fraction of frames currently dirty.
func (bp *BufferPool) DirtyRatio() float64 {
	if len(bp.frames) == 0 {
		return 0
	}
	return float64(bp.dirtyPages.Load()) / float64(len(bp.frames))
}
