package storage

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// DiskManager owns the single database file and hands out page ids
// monotonically. Reads/writes are position-based so distinct pages can be
// accessed concurrently without serialization; only allocation itself needs
// to be atomic.
type DiskManager struct {
	file *os.File

	mu         sync.RWMutex // guards file I/O ordering, not page contents
	nextPageID uint32
}

// OpenDiskManager opens (or creates) the database file at path and computes
// the next page id from its current length.
func OpenDiskManager(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open database file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat database file: %w", err)
	}
	return &DiskManager{
		file:       f,
		nextPageID: uint32(info.Size() / PageSize),
	}, nil
}

// ReadPage fills buf (len == PageSize) with the contents of page id. Pages
// beyond the current end of file read as all zeroes.
func (d *DiskManager) ReadPage(id uint32, buf []byte) error {
	if len(buf) != PageSize {
		return ErrShortPage
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	off := int64(id) * PageSize
	n, err := d.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("storage: read page %d: %w", id, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes buf (len == PageSize) to page id at its fixed offset.
func (d *DiskManager) WritePage(id uint32, buf []byte) error {
	if len(buf) != PageSize {
		return ErrShortPage
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	off := int64(id) * PageSize
	if _, err := d.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("storage: write page %d: %w", id, err)
	}
	return nil
}

// AllocatePage atomically returns and increments the next page id.
func (d *DiskManager) AllocatePage() uint32 {
	return atomic.AddUint32(&d.nextPageID, 1) - 1
}

// DeallocatePage is a no-op: pages are never reused by this engine.
func (d *DiskManager) DeallocatePage(uint32) {}

// FileSize returns the logical file size in bytes: the number of pages
// allocated so far (via AllocatePage) times PageSize, independent of what
// has actually been flushed to disk.
func (d *DiskManager) FileSize() int64 {
	return int64(atomic.LoadUint32(&d.nextPageID)) * PageSize
}

// Sync forces the file to stable storage.
func (d *DiskManager) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("storage: fsync database file: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (d *DiskManager) Close() error {
	return d.file.Close()
}
