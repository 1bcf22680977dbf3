// Package catalog implements the single-page persistent catalog binding
// collection names to heap files, free-space maps and secondary indexes.
package catalog

import (
	"encoding/binary"
	"errors"

	"github.com/sourcegraph/conc/pool"

	"github.com/nova-docdb/docdb/internal/btree"
	"github.com/nova-docdb/docdb/internal/bufferpool"
	"github.com/nova-docdb/docdb/internal/document"
	"github.com/nova-docdb/docdb/internal/fsm"
	"github.com/nova-docdb/docdb/internal/heap"
	"github.com/nova-docdb/docdb/internal/logging"
	"github.com/nova-docdb/docdb/internal/storage"
)

var log = logging.Component("catalog")

const (
	catalogPageID  = 0
	maxCatalogSize = 4000
)

var (
	ErrDuplicateCollection = errors.New("catalog: collection already exists")
	ErrDuplicateIndex      = errors.New("catalog: index already exists on this field")
	ErrCollectionNotFound  = errors.New("catalog: collection not found")
	ErrCatalogTooLarge     = errors.New("catalog: encoded catalog exceeds one page")
)

// IndexDescriptor names a secondary index's field and B+ tree root.
type IndexDescriptor struct {
	Field     string
	BtreeRoot uint32
}

// CollectionMeta is the persisted description of one collection.
type CollectionMeta struct {
	Name          string
	FSMPage       uint32
	FirstHeapPage uint32
	Indexes       []IndexDescriptor
}

type collectionState struct {
	meta    CollectionMeta
	heap    *heap.Heap
	fsm     *fsm.FSM
	indexes map[string]*btree.Tree
}

// Catalog owns every collection's live objects and the page-0 layout that
// persists them.
type Catalog struct {
	bp          *bufferpool.BufferPool
	collections map[string]*collectionState
	order       []string
}

// Open loads the catalog from page 0. On a brand-new database file (size
// zero) it allocates page 0 as an empty catalog instead.
func Open(bp *bufferpool.BufferPool, disk *storage.DiskManager) (*Catalog, error) {
	c := &Catalog{bp: bp, collections: make(map[string]*collectionState)}

	if disk.FileSize() == 0 {
		id, _, err := bp.NewPage()
		if err != nil {
			return nil, err
		}
		if id != catalogPageID {
			return nil, errors.New("catalog: expected page 0 to be the first allocation")
		}
		if err := bp.Unpin(id, true); err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	p, err := c.bp.Fetch(catalogPageID)
	if err != nil {
		return err
	}
	defer c.bp.Unpin(catalogPageID, false)

	buf := p.Buf
	numCollections := binary.LittleEndian.Uint32(buf)
	if numCollections == 0 || numCollections > 1000 {
		log.Info("catalog: empty or implausible header, starting fresh")
		return nil
	}

	off := 4
	for i := uint32(0); i < numCollections; i++ {
		name, n := readString(buf[off:])
		off += n
		fsmPage := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		firstHeapPage := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		numIndexes := binary.LittleEndian.Uint32(buf[off:])
		off += 4

		descriptors := make([]IndexDescriptor, 0, numIndexes)
		indexes := make(map[string]*btree.Tree, numIndexes)
		for j := uint32(0); j < numIndexes; j++ {
			field, n := readString(buf[off:])
			off += n
			root := binary.LittleEndian.Uint32(buf[off:])
			off += 4
			descriptors = append(descriptors, IndexDescriptor{Field: field, BtreeRoot: root})
			indexes[field] = btree.Open(c.bp, root)
		}

		f := fsm.New(c.bp, fsmPage)
		// The catalog does not persist each heap's high-water page id; a
		// reopened heap only "remembers" pages it allocates again this
		// session. See DESIGN.md for the reasoning.
		h := heap.New(c.bp, f, firstHeapPage, firstHeapPage)

		meta := CollectionMeta{Name: name, FSMPage: fsmPage, FirstHeapPage: firstHeapPage, Indexes: descriptors}
		c.collections[name] = &collectionState{meta: meta, heap: h, fsm: f, indexes: indexes}
		c.order = append(c.order, name)
	}
	return nil
}

// Save overwrites page 0 with the current in-memory catalog and flushes it.
func (c *Catalog) Save() error {
	buf := make([]byte, 0, maxCatalogSize)
	buf = appendUint32(buf, uint32(len(c.order)))
	for _, name := range c.order {
		st := c.collections[name]
		buf = appendString(buf, name)
		buf = appendUint32(buf, st.meta.FSMPage)
		buf = appendUint32(buf, st.meta.FirstHeapPage)
		buf = appendUint32(buf, uint32(len(st.meta.Indexes)))
		for _, idx := range st.meta.Indexes {
			buf = appendString(buf, idx.Field)
			buf = appendUint32(buf, idx.BtreeRoot)
		}
	}
	if len(buf) > maxCatalogSize {
		return ErrCatalogTooLarge
	}

	p, err := c.bp.Fetch(catalogPageID)
	if err != nil {
		return err
	}
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	copy(p.Buf, buf)
	if err := c.bp.Unpin(catalogPageID, true); err != nil {
		return err
	}
	return c.bp.Flush(catalogPageID)
}

// ListCollections returns collection names in creation order.
func (c *Catalog) ListCollections() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// CreateCollection allocates an FSM page and a first heap page and
// registers the new collection.
func (c *Catalog) CreateCollection(name string) error {
	if _, exists := c.collections[name]; exists {
		return ErrDuplicateCollection
	}

	fsmID, _, err := c.bp.NewPage()
	if err != nil {
		return err
	}
	if err := c.bp.Unpin(fsmID, true); err != nil {
		return err
	}
	f := fsm.New(c.bp, fsmID)

	heapID, hp, err := c.bp.NewPage()
	if err != nil {
		return err
	}
	hp.Init()
	free := hp.FreeSpace()
	if err := c.bp.Unpin(heapID, true); err != nil {
		return err
	}
	if err := f.UpdateFreeSpace(heapID, free); err != nil {
		return err
	}

	h := heap.New(c.bp, f, heapID, heapID)
	meta := CollectionMeta{Name: name, FSMPage: fsmID, FirstHeapPage: heapID}
	c.collections[name] = &collectionState{meta: meta, heap: h, fsm: f, indexes: make(map[string]*btree.Tree)}
	c.order = append(c.order, name)
	return nil
}

// DropCollection removes the catalog entry. Pages are not reclaimed.
func (c *Catalog) DropCollection(name string) error {
	if _, exists := c.collections[name]; !exists {
		return ErrCollectionNotFound
	}
	delete(c.collections, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Heap returns the live heap file for a collection.
func (c *Catalog) Heap(name string) (*heap.Heap, error) {
	st, ok := c.collections[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return st.heap, nil
}

// Index returns the live B+ tree for a collection's indexed field.
func (c *Catalog) Index(collection, field string) (*btree.Tree, error) {
	st, ok := c.collections[collection]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	tr, ok := st.indexes[field]
	if !ok {
		return nil, errors.New("catalog: no index on field " + field)
	}
	return tr, nil
}

// CreateIndex builds a B+ tree over collection's existing records for
// field, scanning the heap and coercing each present field to a string
// key. Field decoding across records runs on a bounded worker pool; the
// resulting inserts are applied back in scan order so duplicate-key
// first-fit ordering is preserved.
func (c *Catalog) CreateIndex(collection, field string) error {
	st, ok := c.collections[collection]
	if !ok {
		return ErrCollectionNotFound
	}
	if _, exists := st.indexes[field]; exists {
		return ErrDuplicateIndex
	}

	root, err := btree.CreateIndex(c.bp)
	if err != nil {
		return err
	}
	tr := btree.Open(c.bp, root)

	type scanned struct {
		rid storage.RecordID
		doc *document.Document
	}
	var pairs []scanned
	if err := st.heap.Iterate(func(rid storage.RecordID, doc *document.Document) error {
		pairs = append(pairs, scanned{rid: rid, doc: doc})
		return nil
	}); err != nil {
		return err
	}

	keys := make([]string, len(pairs))
	coercible := make([]bool, len(pairs))
	wp := pool.New().WithMaxGoroutines(8)
	for i := range pairs {
		i := i
		wp.Go(func() {
			v, found := pairs[i].doc.Get(field)
			if !found {
				return
			}
			k, ok := document.CoerceKey(v)
			keys[i], coercible[i] = k, ok
		})
	}
	wp.Wait()

	for i, pr := range pairs {
		if !coercible[i] {
			continue
		}
		if err := tr.Insert(keys[i], pr.rid); err != nil {
			return err
		}
	}

	st.indexes[field] = tr
	st.meta.Indexes = append(st.meta.Indexes, IndexDescriptor{Field: field, BtreeRoot: root})
	return nil
}

func readString(buf []byte) (string, int) {
	l := int(binary.LittleEndian.Uint32(buf))
	return string(buf[4 : 4+l]), 4 + l
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
