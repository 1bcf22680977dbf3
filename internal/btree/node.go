package btree

import (
	"encoding/binary"
	"errors"

	"github.com/nova-docdb/docdb/internal/storage"
)

// Node header, common to leaf and internal pages:
//
//	is_leaf (u8) | num_keys (u16) | next_leaf (page_id u32)
//
// next_leaf is meaningful only for leaves; internal nodes carry
// storage.InvalidPageID there.
const (
	offIsLeaf   = 0
	offNumKeys  = 1
	offNextLeaf = 3
	headerSize  = 7
)

var (
	ErrOverflow = errors.New("btree: node does not fit in one page")
	ErrCorrupt  = errors.New("btree: corrupt node")
)

// node is the in-memory, fully decoded form of one B+ tree page. Leaves use
// keys+rids; internal nodes use keys+children (len(children) == len(keys)+1).
type node struct {
	isLeaf   bool
	keys     []string
	rids     []storage.RecordID // leaf payload
	children []uint32           // internal payload
	nextLeaf uint32              // leaf only
}

func decodeNode(buf []byte) (*node, error) {
	if len(buf) < headerSize {
		return nil, ErrCorrupt
	}
	n := &node{
		isLeaf:   buf[offIsLeaf] != 0,
		nextLeaf: binary.LittleEndian.Uint32(buf[offNextLeaf:]),
	}
	numKeys := int(binary.LittleEndian.Uint16(buf[offNumKeys:]))
	off := headerSize

	if n.isLeaf {
		n.keys = make([]string, 0, numKeys)
		n.rids = make([]storage.RecordID, 0, numKeys)
		for i := 0; i < numKeys; i++ {
			if len(buf) < off+2 {
				return nil, ErrCorrupt
			}
			klen := int(binary.LittleEndian.Uint16(buf[off:]))
			off += 2
			if len(buf) < off+klen+4+2 {
				return nil, ErrCorrupt
			}
			key := string(buf[off : off+klen])
			off += klen
			pageID := binary.LittleEndian.Uint32(buf[off:])
			off += 4
			slot := binary.LittleEndian.Uint16(buf[off:])
			off += 2
			n.keys = append(n.keys, key)
			n.rids = append(n.rids, storage.RecordID{PageID: pageID, Slot: slot})
		}
		return n, nil
	}

	n.children = make([]uint32, 0, numKeys+1)
	if len(buf) < off+4 {
		return nil, ErrCorrupt
	}
	n.children = append(n.children, binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	n.keys = make([]string, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		if len(buf) < off+2 {
			return nil, ErrCorrupt
		}
		klen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if len(buf) < off+klen+4 {
			return nil, ErrCorrupt
		}
		key := string(buf[off : off+klen])
		off += klen
		child := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		n.keys = append(n.keys, key)
		n.children = append(n.children, child)
	}
	return n, nil
}

// encodeNode renders n into a fresh, zero-padded page-sized buffer.
func encodeNode(n *node) ([]byte, error) {
	buf := make([]byte, storage.PageSize)
	if n.isLeaf {
		buf[offIsLeaf] = 1
	}
	binary.LittleEndian.PutUint16(buf[offNumKeys:], uint16(len(n.keys)))
	binary.LittleEndian.PutUint32(buf[offNextLeaf:], n.nextLeaf)

	off := headerSize
	if n.isLeaf {
		for i, key := range n.keys {
			need := 2 + len(key) + 4 + 2
			if off+need > storage.PageSize {
				return nil, ErrOverflow
			}
			binary.LittleEndian.PutUint16(buf[off:], uint16(len(key)))
			off += 2
			off += copy(buf[off:], key)
			binary.LittleEndian.PutUint32(buf[off:], n.rids[i].PageID)
			off += 4
			binary.LittleEndian.PutUint16(buf[off:], n.rids[i].Slot)
			off += 2
		}
		return buf, nil
	}

	if off+4 > storage.PageSize {
		return nil, ErrOverflow
	}
	binary.LittleEndian.PutUint32(buf[off:], n.children[0])
	off += 4
	for i, key := range n.keys {
		need := 2 + len(key) + 4
		if off+need > storage.PageSize {
			return nil, ErrOverflow
		}
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(key)))
		off += 2
		off += copy(buf[off:], key)
		binary.LittleEndian.PutUint32(buf[off:], n.children[i+1])
		off += 4
	}
	return buf, nil
}
