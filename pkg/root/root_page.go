// Package root implements the RootPage and its inline AbandonedList,
// the single entry point a PagedDb root slot points to: the bump
// allocator cursor, the account counter, the state root hash, and the
// addresses of the two top-level trie structures (the id map and the
// per-contract storage fan-out).
package root

import (
	"encoding/binary"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
)

// Field offsets within the root page's payload. StateHash is a full
// 32-byte Keccak digest; everything else is a little-endian uint32,
// matching the rest of the format (see pkg/page.Header).
const (
	offNextFreePage   = 0
	offAccountCounter = 4
	offBlockNumber    = 8
	offStateRoot      = 12
	offIDsRoot        = 16
	offStorageRoot    = 20
	offStateHash      = 24
	stateHashLen      = 32

	// abandonedListOffset is where the inline AbandonedList begins.
	// spec.md describes "1024 buckets indexed by the high 10 bits of
	// an account id" embedded directly in the root; at 4 bytes per
	// bucket that alone is 4096 bytes, which does not fit in a
	// 4088-byte payload alongside any AbandonedList at all. Here the
	// root instead holds a single address into a dedicated Level-1
	// storage fan-out page (see pkg/trie) that carries that bucket
	// array; the root stays the one fixed entry point, but the bulk
	// of the id-bucket storage lives one hop away where it has room.
	abandonedListOffset = offStateHash + stateHashLen

	// blockHashOffset trails the inline AbandonedList. The list's
	// encoded size (4 + NumSlots*4) plus everything before it leaves
	// roughly 950 bytes unused in the payload, room enough for the
	// block hash set_metadata(block_number, block_hash) calls for.
	blockHashOffset = abandonedListOffset + 4 + NumSlots*4
	blockHashLen    = 32
)

// RootPage is a typed view over a page formatted as the database's
// root: a fixed small header plus the inline AbandonedList.
type RootPage struct {
	p page.Page
}

// Wrap views p as a RootPage without touching its header or fields.
func Wrap(p page.Page) RootPage { return RootPage{p: p} }

// Init formats a freshly-allocated page as an empty root owned by
// batchID, with an empty AbandonedList and no trie structures yet.
func Init(p page.Page, batchID uint32) RootPage {
	p.SetHeader(page.Header{BatchID: batchID, Type: page.TypeRoot, Version: page.FormatVersion})
	r := RootPage{p: p}
	r.SetNextFreePage(page.Address(1))
	r.SetAccountCounter(0)
	r.SetBlockNumber(0)
	r.SetStateRoot(page.Null)
	r.SetIDsRoot(page.Null)
	r.SetStorageRoot(page.Null)
	r.SetStateHash([32]byte{})
	r.storeList(AbandonedList{Current: page.Null, Slots: make([]page.Address, NumSlots)})
	r.SetBlockHash([32]byte{})
	return r
}

func (r RootPage) u32(off int) uint32 { return binary.LittleEndian.Uint32(r.p.Payload()[off:]) }
func (r RootPage) setU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(r.p.Payload()[off:], v)
}

// BatchID is the batch that produced this root.
func (r RootPage) BatchID() uint32 { return r.p.Header().BatchID }

// NextFreePage is the bump-allocator cursor: the lowest address never
// yet handed out by any batch.
func (r RootPage) NextFreePage() page.Address { return page.Address(r.u32(offNextFreePage)) }
func (r RootPage) SetNextFreePage(addr page.Address) { r.setU32(offNextFreePage, uint32(addr)) }

// AccountCounter is the number of distinct accounts ever created,
// used to allocate dense in-page account ids.
func (r RootPage) AccountCounter() uint32 { return r.u32(offAccountCounter) }
func (r RootPage) SetAccountCounter(n uint32) { r.setU32(offAccountCounter, n) }

// BlockNumber is the most recently committed block height.
func (r RootPage) BlockNumber() uint32 { return r.u32(offBlockNumber) }
func (r RootPage) SetBlockNumber(n uint32) { r.setU32(offBlockNumber, n) }

// StateRoot is the address of the root page of the accounts trie: a
// BottomPage at first, promoted to a DataPage in place once it
// outgrows that.
func (r RootPage) StateRoot() page.Address { return page.Address(r.u32(offStateRoot)) }
func (r RootPage) SetStateRoot(addr page.Address) { r.setU32(offStateRoot, uint32(addr)) }

// IDsRoot is the address of the Level-1 fan-out page mapping account
// keys to dense ids.
func (r RootPage) IDsRoot() page.Address { return page.Address(r.u32(offIDsRoot)) }
func (r RootPage) SetIDsRoot(addr page.Address) { r.setU32(offIDsRoot, uint32(addr)) }

// StorageRoot is the address of the Level-1 per-contract storage
// fan-out page.
func (r RootPage) StorageRoot() page.Address { return page.Address(r.u32(offStorageRoot)) }
func (r RootPage) SetStorageRoot(addr page.Address) { r.setU32(offStorageRoot, uint32(addr)) }

// StateHash is the Keccak-256 digest of the committed state trie.
func (r RootPage) StateHash() [32]byte {
	var h [32]byte
	copy(h[:], r.p.Payload()[offStateHash:offStateHash+stateHashLen])
	return h
}

// SetStateHash stores the Keccak-256 digest of the committed state trie.
func (r RootPage) SetStateHash(h [32]byte) {
	copy(r.p.Payload()[offStateHash:offStateHash+stateHashLen], h[:])
}

// BlockHash is the hash of the block most recently committed by
// set_metadata, alongside BlockNumber.
func (r RootPage) BlockHash() [32]byte {
	var h [32]byte
	copy(h[:], r.p.Payload()[blockHashOffset:blockHashOffset+blockHashLen])
	return h
}

// SetBlockHash stores the hash of the block most recently committed.
func (r RootPage) SetBlockHash(h [32]byte) {
	copy(r.p.Payload()[blockHashOffset:blockHashOffset+blockHashLen], h[:])
}

// loadList decodes the inline AbandonedList from the page payload.
func (r RootPage) loadList() AbandonedList {
	buf := r.p.Payload()[abandonedListOffset:]
	cur := page.Address(binary.LittleEndian.Uint32(buf))
	slots := make([]page.Address, NumSlots)
	for i := range slots {
		off := 4 + i*4
		slots[i] = page.Address(binary.LittleEndian.Uint32(buf[off:]))
	}
	return AbandonedList{Current: cur, Slots: slots}
}

// storeList encodes l back into the page payload.
func (r RootPage) storeList(l AbandonedList) {
	buf := r.p.Payload()[abandonedListOffset:]
	binary.LittleEndian.PutUint32(buf, uint32(l.Current))
	for i, s := range l.Slots {
		off := 4 + i*4
		binary.LittleEndian.PutUint32(buf[off:], uint32(s))
	}
}

// Abandoned returns the inline AbandonedList decoded from this page.
// Mutations must be written back with SetAbandoned.
func (r RootPage) Abandoned() AbandonedList { return r.loadList() }

// SetAbandoned persists l as this page's inline AbandonedList.
func (r RootPage) SetAbandoned(l AbandonedList) { r.storeList(l) }

// Page returns the underlying typed page.
func (r RootPage) Page() page.Page { return r.p }
