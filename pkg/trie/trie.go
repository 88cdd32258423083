// Package trie implements the page family that stores the nibble-keyed
// tries backing both account state and per-contract storage: DataPage,
// BottomPage, LeafOverflowPage, and the StorageFanOut levels that route
// a key down to one of them.
package trie

import (
	"encoding/binary"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
)

// PageSource is the subset of a write batch's contract that the trie
// page family needs: issuing fresh pages, copy-on-write of an
// existing one, and returning a page once it can never again be read.
// Named to match the batch operations of the same purpose so a
// reader can trace one to the other directly.
type PageSource interface {
	GetAt(addr page.Address) page.Page
	GetForWriting(addr page.Address, reused bool) page.Page
	GetAddress(p page.Page) (page.Address, error)
	GetNewPage(clear bool) (page.Page, page.Address)
	GetWritableCopy(addr page.Address) (page.Page, page.Address)
	RegisterForFutureReuse(addr page.Address, possibleImmediateReuse bool)
	BatchID() uint32
}

// bucketsSize is the number of bytes the 16-way child-address array
// occupies at the start of a DataPage's or BottomPage's payload.
const bucketsSize = 16 * 4

// Visitor is invoked once per live (key, value) pair discovered while
// walking a page subtree with Accept, the key reconstructed relative
// to whatever root the walk started from.
type Visitor func(key page.NibblePath, value []byte)

// shouldKeepShortKeyLocal matches spec.md's locality rule for Fanout
// DataPages: very short keys aligned on a 4-nibble boundary are kept
// in the page's own SlottedArray rather than pushed into a child, to
// avoid a pointer chase for the common "account itself" entries.
func shouldKeepShortKeyLocal(nibble uint8, keyLen int) bool {
	return keyLen == 1 && nibble%4 == 0
}

// setChild, tryGetChild and deleteByPrefixChild dispatch a BottomPage
// bucket operation to the right typed page family by reading the
// child's own header: BottomPage's children start out as BottomPages,
// but promoteToDataPage can turn any one of them into a DataPage in
// place without its parent ever being told, so the parent must check
// before assuming either shape.
func setChild(src PageSource, addr page.Address, key page.NibblePath, value []byte) page.Address {
	if src.GetAt(addr).Header().Type == page.TypeDataPage {
		return SetDataPage(src, addr, key, value)
	}
	return SetBottomPage(src, addr, key, value)
}

func tryGetChild(src PageSource, addr page.Address, key page.NibblePath) ([]byte, bool) {
	if src.GetAt(addr).Header().Type == page.TypeDataPage {
		return TryGetDataPage(src, addr, key)
	}
	return TryGetBottomPage(src, addr, key)
}

func deleteByPrefixChild(src PageSource, addr page.Address, prefix page.NibblePath) page.Address {
	if src.GetAt(addr).Header().Type == page.TypeDataPage {
		return DeleteByPrefixDataPage(src, addr, prefix)
	}
	return DeleteByPrefixBottomPage(src, addr, prefix)
}

// Set, TryGet and DeleteByPrefix are the entry points any caller that
// doesn't already know a subtree root's current page type should use:
// a root initialized as a BottomPage may have been promoted to a
// DataPage in place since, at the same address, and these dispatch
// to whichever it actually is.
func Set(src PageSource, addr page.Address, key page.NibblePath, value []byte) page.Address {
	return setChild(src, addr, key, value)
}

func TryGet(src PageSource, addr page.Address, key page.NibblePath) ([]byte, bool) {
	return tryGetChild(src, addr, key)
}

func DeleteByPrefix(src PageSource, addr page.Address, prefix page.NibblePath) page.Address {
	return deleteByPrefixChild(src, addr, prefix)
}

func readBucket(payload []byte, i int) page.Address {
	return page.Address(binary.LittleEndian.Uint32(payload[i*4:]))
}

func writeBucket(payload []byte, i int, addr page.Address) {
	binary.LittleEndian.PutUint32(payload[i*4:], uint32(addr))
}
