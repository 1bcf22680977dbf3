// Package executor implements the Volcano-style scan/filter/index-scan
// pipeline: uniform init/next/close iterators over (rid, doc) tuples.
package executor

import (
	"github.com/nova-docdb/docdb/internal/btree"
	"github.com/nova-docdb/docdb/internal/document"
	"github.com/nova-docdb/docdb/internal/heap"
	"github.com/nova-docdb/docdb/internal/storage"
)

// Tuple is the pipeline's unit of data.
type Tuple struct {
	RID storage.RecordID
	Doc *document.Document
}

// Iterator is the uniform pull-based contract every operator satisfies.
type Iterator interface {
	Init() error
	Next() (Tuple, bool, error)
	Close() error
}

// SeqScan yields every live record of a heap file.
type SeqScan struct {
	h   *heap.Heap
	buf []Tuple
	idx int
}

// NewSeqScan wraps a heap file as a Volcano source.
func NewSeqScan(h *heap.Heap) *SeqScan {
	return &SeqScan{h: h}
}

func (s *SeqScan) Init() error {
	s.buf = s.buf[:0]
	s.idx = 0
	return s.h.Iterate(func(rid storage.RecordID, doc *document.Document) error {
		s.buf = append(s.buf, Tuple{RID: rid, Doc: doc})
		return nil
	})
}

func (s *SeqScan) Next() (Tuple, bool, error) {
	if s.idx >= len(s.buf) {
		return Tuple{}, false, nil
	}
	t := s.buf[s.idx]
	s.idx++
	return t, true, nil
}

func (s *SeqScan) Close() error {
	s.buf = nil
	return nil
}

// Op is a predicate's relational operator.
type Op uint8

const (
	EQ Op = iota
	NE
	LT
	LE
	GT
	GE
)

// Predicate compares one document field to a literal value.
type Predicate struct {
	Field string
	Op    Op
	Value document.Value
}

// Filter returns tuples satisfying the AND of every predicate.
type Filter struct {
	child Iterator
	preds []Predicate
}

// NewFilter wraps child, applying preds as an implicit AND.
func NewFilter(child Iterator, preds []Predicate) *Filter {
	return &Filter{child: child, preds: preds}
}

func (f *Filter) Init() error { return f.child.Init() }

func (f *Filter) Next() (Tuple, bool, error) {
	for {
		t, ok, err := f.child.Next()
		if err != nil || !ok {
			return Tuple{}, ok, err
		}
		if matchesAll(t.Doc, f.preds) {
			return t, true, nil
		}
	}
}

func (f *Filter) Close() error { return f.child.Close() }

func matchesAll(doc *document.Document, preds []Predicate) bool {
	for _, p := range preds {
		if !matches(doc, p) {
			return false
		}
	}
	return true
}

// matches evaluates one predicate. Cross-type operands and a missing field
// both evaluate to false; booleans only support EQ/NE.
func matches(doc *document.Document, p Predicate) bool {
	v, ok := doc.Get(p.Field)
	if !ok || v.Kind != p.Value.Kind {
		return false
	}

	switch v.Kind {
	case document.KindBool:
		switch p.Op {
		case EQ:
			return v.Bool == p.Value.Bool
		case NE:
			return v.Bool != p.Value.Bool
		default:
			return false
		}
	case document.KindString:
		return compareOrdered(cmpString(v.Str, p.Value.Str), p.Op)
	case document.KindFloat64:
		return compareOrdered(cmpFloat64(v.F64, p.Value.F64), p.Op)
	case document.KindInt32:
		return compareOrdered(cmpInt64(int64(v.I32), int64(p.Value.I32)), p.Op)
	case document.KindInt64:
		return compareOrdered(cmpInt64(v.I64, p.Value.I64), p.Op)
	case document.KindNull, document.KindDocument:
		switch p.Op {
		case EQ:
			return v.Equal(p.Value)
		case NE:
			return !v.Equal(p.Value)
		default:
			return false
		}
	}
	return false
}

func compareOrdered(cmp int, op Op) bool {
	switch op {
	case EQ:
		return cmp == 0
	case NE:
		return cmp != 0
	case LT:
		return cmp < 0
	case LE:
		return cmp <= 0
	case GT:
		return cmp > 0
	case GE:
		return cmp >= 0
	default:
		return false
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IndexScan range-scans a B+ tree and materializes each hit from the heap.
type IndexScan struct {
	tree   *btree.Tree
	h      *heap.Heap
	lo, hi string
	buf    []Tuple
	idx    int
}

// NewIndexScan scans tree over [lo, hi] and fetches each hit from h.
func NewIndexScan(tree *btree.Tree, h *heap.Heap, lo, hi string) *IndexScan {
	return &IndexScan{tree: tree, h: h, lo: lo, hi: hi}
}

func (s *IndexScan) Init() error {
	entries, err := s.tree.RangeScan(s.lo, s.hi)
	if err != nil {
		return err
	}
	s.buf = s.buf[:0]
	s.idx = 0
	for _, e := range entries {
		doc, err := s.h.Get(e.RID)
		if err != nil {
			return err
		}
		s.buf = append(s.buf, Tuple{RID: e.RID, Doc: doc})
	}
	return nil
}

func (s *IndexScan) Next() (Tuple, bool, error) {
	if s.idx >= len(s.buf) {
		return Tuple{}, false, nil
	}
	t := s.buf[s.idx]
	s.idx++
	return t, true, nil
}

func (s *IndexScan) Close() error {
	s.buf = nil
	return nil
}
