// Package wal implements the append-only write-ahead log: length-prefixed
// records with a trailing checksum, flushed and fsynced on COMMIT.
package wal

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/nova-docdb/docdb/internal/storage"
)

// RecordType tags a log record.
type RecordType uint8

const (
	Begin RecordType = iota
	Commit
	Abort
	Insert
	Delete
	Update
)

// Record is one WAL entry. Before/After carry raw serialized document
// bytes, not structured diffs — see the recovery manager for how they are
// interpreted per record type.
type Record struct {
	LSN     int64
	TxnID   int64
	PrevLSN int64
	Type    RecordType
	PageID  uint32
	SlotID  uint16
	Before  []byte
	After   []byte
}

const checksumSize = 8

// Manager owns the log file, the in-memory write buffer, and per-txn LSN
// chaining. Every method is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     *bufio.Writer
	nextLSN atomic.Int64
	lastLSN map[int64]int64
}

// Open opens (creating if absent) the log file at path for appending.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, storage.FileMode0644)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:    path,
		file:    f,
		buf:     bufio.NewWriter(f),
		lastLSN: make(map[int64]int64),
	}, nil
}

// Append stamps lsn and prev_lsn, serializes the record into the write
// buffer, and flushes+fsyncs only when Type is Commit.
func (m *Manager) Append(rec Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.nextLSN.Inc() - 1
	rec.LSN = lsn

	prev, ok := m.lastLSN[rec.TxnID]
	if !ok {
		prev = storage.InvalidLSN
	}
	rec.PrevLSN = prev
	m.lastLSN[rec.TxnID] = lsn

	if _, err := m.buf.Write(encodeRecord(rec)); err != nil {
		return 0, err
	}
	if rec.Type == Commit {
		if err := m.buf.Flush(); err != nil {
			return 0, err
		}
		if err := m.file.Sync(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

// Flush forces the write buffer to the OS without an fsync.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Flush()
}

// Close flushes and closes the log file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.buf.Flush(); err != nil {
		return err
	}
	return m.file.Close()
}

// ReadAll decodes every record from the start of the log, stopping at the
// first malformed, truncated, or checksum-mismatched record.
func (m *Manager) ReadAll() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.buf.Flush(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	var records []Record
	off := 0
	for off < len(data) {
		rec, consumed, ok := decodeRecord(data[off:])
		if !ok {
			break
		}
		records = append(records, rec)
		off += consumed
	}
	return records, nil
}

func encodeRecord(rec Record) []byte {
	body := make([]byte, 0, 32+len(rec.Before)+len(rec.After))
	body = appendInt64(body, rec.LSN)
	body = appendInt64(body, rec.TxnID)
	body = appendInt64(body, rec.PrevLSN)
	body = append(body, byte(rec.Type))
	body = appendUint32(body, rec.PageID)
	body = appendUint16(body, rec.SlotID)
	body = appendUint32(body, uint32(len(rec.Before)))
	body = append(body, rec.Before...)
	body = appendUint32(body, uint32(len(rec.After)))
	body = append(body, rec.After...)

	sum := xxhash.Sum64(body)

	out := make([]byte, 0, 4+len(body)+checksumSize)
	out = appendUint32(out, uint32(len(body)+checksumSize))
	out = append(out, body...)
	out = appendUint64(out, sum)
	return out
}

func decodeRecord(buf []byte) (Record, int, bool) {
	if len(buf) < 4 {
		return Record{}, 0, false
	}
	totalSize := int(binary.LittleEndian.Uint32(buf))
	if totalSize < checksumSize || len(buf) < 4+totalSize {
		return Record{}, 0, false
	}

	body := buf[4 : 4+totalSize-checksumSize]
	wantSum := binary.LittleEndian.Uint64(buf[4+totalSize-checksumSize : 4+totalSize])
	if xxhash.Sum64(body) != wantSum {
		return Record{}, 0, false
	}

	rec, ok := decodeBody(body)
	if !ok {
		return Record{}, 0, false
	}
	return rec, 4 + totalSize, true
}

func decodeBody(body []byte) (Record, bool) {
	if len(body) < 8+8+8+1+4+2+4 {
		return Record{}, false
	}
	off := 0
	rec := Record{}
	rec.LSN = int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	rec.TxnID = int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	rec.PrevLSN = int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	rec.Type = RecordType(body[off])
	off++
	rec.PageID = binary.LittleEndian.Uint32(body[off:])
	off += 4
	rec.SlotID = binary.LittleEndian.Uint16(body[off:])
	off += 2

	if len(body) < off+4 {
		return Record{}, false
	}
	beforeLen := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if len(body) < off+beforeLen+4 {
		return Record{}, false
	}
	rec.Before = append([]byte(nil), body[off:off+beforeLen]...)
	off += beforeLen

	afterLen := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if len(body) < off+afterLen {
		return Record{}, false
	}
	rec.After = append([]byte(nil), body[off:off+afterLen]...)
	off += afterLen

	return rec, true
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}
