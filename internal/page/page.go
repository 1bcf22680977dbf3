// Package page implements the slotted-page record format: a set of pure
// functions over a raw, fixed-size buffer. Nothing here touches disk or the
// buffer pool; callers own the buffer's lifetime.
package page

import (
	"encoding/binary"
	"errors"

	"github.com/nova-docdb/docdb/internal/storage"
)

// Header layout, matching the 8-byte slotted-page header:
//
//	num_slots (u16) | free_begin (u16) | free_end (u16) | reserved (u16)
const (
	offNumSlots  = 0
	offFreeBegin = 2
	offFreeEnd   = 4
	offReserved  = 6

	HeaderSize = 8
	SlotSize   = 4 // offset (u16) + length (u16)
)

var (
	ErrNoSpace  = errors.New("page: not enough free space")
	ErrBadSlot  = errors.New("page: slot index out of range")
	ErrDeleted  = errors.New("page: slot is a tombstone")
	ErrTooLarge = errors.New("page: record cannot fit even on an empty page")
)

// Slot is one entry of the slot directory. Length == 0 marks a tombstone.
type Slot struct {
	Offset uint16
	Length uint16
}

// Page is a thin view over a caller-owned buffer of exactly storage.PageSize
// bytes. It carries no other state; every method reads/writes buf directly.
type Page struct {
	Buf []byte
}

// New wraps an existing buffer without touching its contents.
func New(buf []byte) (*Page, error) {
	if len(buf) != storage.PageSize {
		return nil, storage.ErrShortPage
	}
	return &Page{Buf: buf}, nil
}

// Init zeroes the page and writes the empty header.
func (p *Page) Init() {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	p.setNumSlots(0)
	p.setFreeBegin(HeaderSize)
	p.setFreeEnd(storage.PageSize)
}

func (p *Page) numSlots() uint16  { return binary.LittleEndian.Uint16(p.Buf[offNumSlots:]) }
func (p *Page) freeBegin() uint16 { return binary.LittleEndian.Uint16(p.Buf[offFreeBegin:]) }
func (p *Page) freeEnd() uint16   { return binary.LittleEndian.Uint16(p.Buf[offFreeEnd:]) }

func (p *Page) setNumSlots(v uint16)  { binary.LittleEndian.PutUint16(p.Buf[offNumSlots:], v) }
func (p *Page) setFreeBegin(v uint16) { binary.LittleEndian.PutUint16(p.Buf[offFreeBegin:], v) }
func (p *Page) setFreeEnd(v uint16)   { binary.LittleEndian.PutUint16(p.Buf[offFreeEnd:], v) }

// NumSlots returns the number of directory entries, including tombstones.
func (p *Page) NumSlots() int { return int(p.numSlots()) }

// FreeSpace returns free_end - free_begin.
func (p *Page) FreeSpace() int { return int(p.freeEnd()) - int(p.freeBegin()) }

func (p *Page) slotOffset(i int) int { return HeaderSize + i*SlotSize }

func (p *Page) getSlot(i int) (Slot, error) {
	if i < 0 || i >= p.NumSlots() {
		return Slot{}, ErrBadSlot
	}
	o := p.slotOffset(i)
	return Slot{
		Offset: binary.LittleEndian.Uint16(p.Buf[o:]),
		Length: binary.LittleEndian.Uint16(p.Buf[o+2:]),
	}, nil
}

func (p *Page) putSlot(i int, s Slot) {
	o := p.slotOffset(i)
	binary.LittleEndian.PutUint16(p.Buf[o:], s.Offset)
	binary.LittleEndian.PutUint16(p.Buf[o+2:], s.Length)
}

// lowestTombstone returns the index of the lowest tombstone slot, or -1.
func (p *Page) lowestTombstone() int {
	n := p.NumSlots()
	for i := 0; i < n; i++ {
		s, _ := p.getSlot(i)
		if s.Length == 0 {
			return i
		}
	}
	return -1
}

// Insert places bytes into the page, reusing the lowest tombstone slot if
// one exists (needs only len(data) bytes of payload space) or appending a
// new slot (needs len(data)+SlotSize bytes). Returns the slot index.
func (p *Page) Insert(data []byte) (int, error) {
	if HeaderSize+SlotSize+len(data) > storage.PageSize {
		return -1, ErrTooLarge
	}

	if idx := p.lowestTombstone(); idx >= 0 {
		need := len(data)
		if p.FreeSpace() < need {
			return -1, ErrNoSpace
		}
		newEnd := int(p.freeEnd()) - need
		copy(p.Buf[newEnd:], data)
		p.setFreeEnd(uint16(newEnd))
		p.putSlot(idx, Slot{Offset: uint16(newEnd), Length: uint16(len(data))})
		return idx, nil
	}

	need := len(data) + SlotSize
	if p.FreeSpace() < need {
		return -1, ErrNoSpace
	}
	newEnd := int(p.freeEnd()) - len(data)
	copy(p.Buf[newEnd:], data)
	p.setFreeEnd(uint16(newEnd))

	idx := p.NumSlots()
	p.putSlot(idx, Slot{Offset: uint16(newEnd), Length: uint16(len(data))})
	p.setNumSlots(uint16(idx + 1))
	p.setFreeBegin(p.freeBegin() + SlotSize)
	return idx, nil
}

// Get returns the bytes stored at slot, or ErrDeleted for a tombstone.
func (p *Page) Get(slot int) ([]byte, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}
	if s.Length == 0 {
		return nil, ErrDeleted
	}
	start, end := int(s.Offset), int(s.Offset)+int(s.Length)
	return p.Buf[start:end], nil
}

// Delete marks slot as a tombstone (length 0). It does not compact the page
// and does not touch the free-space map; callers that need the FSM updated
// must do that themselves (see the heap file).
func (p *Page) Delete(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Length == 0 {
		return ErrDeleted
	}
	p.putSlot(slot, Slot{Offset: 0, Length: 0})
	return nil
}

// Update overwrites slot in place, but only when data is no longer than the
// slot's existing length; the record is then shortened to fit. If data is
// longer, Update fails with ErrNoSpace and the caller must delete+re-insert.
func (p *Page) Update(slot int, data []byte) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Length == 0 {
		return ErrDeleted
	}
	if len(data) > int(s.Length) {
		return ErrNoSpace
	}
	copy(p.Buf[s.Offset:], data)
	p.putSlot(slot, Slot{Offset: s.Offset, Length: uint16(len(data))})
	return nil
}

// IsLive reports whether slot names a non-tombstone record.
func (p *Page) IsLive(slot int) (bool, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return false, err
	}
	return s.Length > 0, nil
}
