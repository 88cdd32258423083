package trie

import (
	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/slotted"
)

// BottomPage is a compact sub-tree of up to 16 child BottomPages,
// indexed by first nibble, used to delay promoting a fresh part of
// the trie to a full DataPage until it is large enough to need one.
type BottomPage struct {
	p page.Page
}

// WrapBottomPage views p as a BottomPage.
func WrapBottomPage(p page.Page) BottomPage { return BottomPage{p: p} }

// InitBottomPage formats a freshly-allocated page as an empty
// BottomPage owned by batchID.
func InitBottomPage(p page.Page, batchID uint32) BottomPage {
	p.SetHeader(page.Header{BatchID: batchID, Type: page.TypeBottomPage, Version: page.FormatVersion})
	b := BottomPage{p: p}
	for i := 0; i < 16; i++ {
		b.setBucket(i, page.Null)
	}
	slotted.New(b.localBuf())
	return b
}

func (b BottomPage) localBuf() []byte          { return b.p.Payload()[bucketsSize:] }
func (b BottomPage) local() slotted.Array      { return slotted.Wrap(b.localBuf()) }
func (b BottomPage) bucket(i int) page.Address { return readBucket(b.p.Payload(), i) }
func (b BottomPage) setBucket(i int, a page.Address) {
	writeBucket(b.p.Payload(), i, a)
}

// SetBottomPage sets (or, on an empty value, deletes) key, COWing the
// page first. Returns the address to store back in the parent.
func SetBottomPage(src PageSource, addr page.Address, key page.NibblePath, value []byte) page.Address {
	p, addr := src.GetWritableCopy(addr)
	b := BottomPage{p: p}

	if len(value) == 0 {
		b.local().Delete(key)
		if key.Length() > 0 {
			child := b.bucket(int(key.FirstNibble()))
			if !child.IsNull() {
				b.setBucket(int(key.FirstNibble()), setChild(src, child, key.SliceFrom(1), nil))
			}
		}
		return addr
	}

	if b.local().TrySet(key, value) {
		return addr
	}

	b.handleOverfill(src)
	if b.local().TrySet(key, value) {
		return addr
	}
	// Still overfull even after allocating every bucket: promote to a
	// full DataPage in place, with each child's contents redistributed.
	return b.promoteToDataPage(src, key, value)
}

// TryGetBottomPage looks up key under the BottomPage at addr.
func TryGetBottomPage(src PageSource, addr page.Address, key page.NibblePath) ([]byte, bool) {
	b := WrapBottomPage(src.GetAt(addr))
	if v, ok := b.local().TryGet(key); ok {
		return v, true
	}
	if key.Length() == 0 {
		return nil, false
	}
	child := b.bucket(int(key.FirstNibble()))
	if child.IsNull() {
		return nil, false
	}
	return tryGetChild(src, child, key.SliceFrom(1))
}

// DeleteByPrefixBottomPage deletes under prefix: locally, then in the
// matching child (recursing); an empty prefix clears every child.
func DeleteByPrefixBottomPage(src PageSource, addr page.Address, prefix page.NibblePath) page.Address {
	p, addr := src.GetWritableCopy(addr)
	b := BottomPage{p: p}

	for _, e := range b.local().EnumerateAll() {
		if e.Key.HasPrefix(prefix) {
			b.local().Delete(e.Key)
		}
	}

	if prefix.Length() == 0 {
		for i := 0; i < 16; i++ {
			child := b.bucket(i)
			if !child.IsNull() {
				src.RegisterForFutureReuse(child, false)
				b.setBucket(i, page.Null)
			}
		}
		return addr
	}

	nibble := prefix.FirstNibble()
	child := b.bucket(int(nibble))
	if !child.IsNull() {
		b.setBucket(int(nibble), deleteByPrefixChild(src, child, prefix.SliceFrom(1)))
	}
	return addr
}

// handleOverfill allocates new children to make room: first draining
// entries into children already written this batch, then into other
// existing children (COW as needed), then — if headroom allows —
// allocating a fresh child for the nibble with the largest amount of
// currently-unallocated data, to balance future splits.
func (b BottomPage) handleOverfill(src PageSource) {
	sizes := b.local().GatherSizeStats1Nibble()

	for n := 0; n < 16; n++ {
		child := b.bucket(n)
		if child.IsNull() {
			continue
		}
		if src.GetAt(child).Header().BatchID != src.BatchID() {
			continue
		}
		b.setBucket(n, b.flushNibbleDown(src, uint8(n), child))
	}

	for n := 0; n < 16; n++ {
		child := b.bucket(n)
		if child.IsNull() {
			continue
		}
		b.setBucket(n, b.flushNibbleDown(src, uint8(n), child))
	}

	best, bestSize := -1, -1
	for n := 0; n < 16; n++ {
		if !b.bucket(n).IsNull() {
			continue
		}
		if sizes[n] > bestSize {
			bestSize, best = sizes[n], n
		}
	}
	if best < 0 {
		return
	}
	childPage, childAddr := src.GetNewPage(true)
	InitBottomPage(childPage, src.BatchID())
	b.setBucket(best, b.flushNibbleDown(src, uint8(best), childAddr))
}

func (b BottomPage) flushNibbleDown(src PageSource, n uint8, childAddr page.Address) page.Address {
	for _, e := range b.local().EnumerateNibble(n) {
		childAddr = setChild(src, childAddr, e.Key.SliceFrom(1), e.Value)
		b.local().Delete(e.Key)
	}
	return childAddr
}

// bottomEntry is one key/value pulled out of a BottomPage subtree
// while flattening it during promotion to a DataPage.
type bottomEntry struct {
	key   page.NibblePath
	value []byte
}

// promoteToDataPage turns this page's type into a DataPage in place,
// re-distributing its own local entries and recursively flattening
// every child BottomPage's entries, either into the right bucket or,
// for entries whose nibble actually belongs higher up, re-setting
// them from the top so the Fanout rules place them correctly.
func (b BottomPage) promoteToDataPage(src PageSource, key page.NibblePath, value []byte) page.Address {
	addr, _ := src.GetAddress(b.p)

	var all []bottomEntry
	for _, e := range b.local().EnumerateAll() {
		all = append(all, bottomEntry{e.Key, e.Value})
	}
	for n := 0; n < 16; n++ {
		child := b.bucket(n)
		if child.IsNull() {
			continue
		}
		collectBottomPageEntries(src, child, page.NibbleOf(uint8(n)), &all)
		src.RegisterForFutureReuse(child, false)
	}

	h := b.p.Header()
	h.Type = page.TypeDataPage
	h.Meta = page.MetaDataPageLeaf
	b.p.SetHeader(h)
	for i := 0; i < 16; i++ {
		writeBucket(b.p.Payload(), i, page.Null)
	}
	slotted.New(b.p.Payload()[bucketsSize:])

	for _, e := range all {
		addr = SetDataPage(src, addr, e.key, e.value)
	}
	return SetDataPage(src, addr, key, value)
}

// collectBottomPageEntries flattens the subtree at addr, whether it is
// still a BottomPage or was itself promoted to a DataPage by an
// earlier overfill (see setChild's comment): either shape is walked
// through its own Accept-equivalent rather than assumed.
func collectBottomPageEntries(src PageSource, addr page.Address, prefix page.NibblePath, out *[]bottomEntry) {
	if src.GetAt(addr).Header().Type == page.TypeDataPage {
		AcceptDataPage(src, addr, prefix, func(key page.NibblePath, value []byte) {
			*out = append(*out, bottomEntry{key, value})
		})
		return
	}

	b := WrapBottomPage(src.GetAt(addr))
	var scratch []byte
	for _, e := range b.local().EnumerateAll() {
		*out = append(*out, bottomEntry{prefix.Append(e.Key, scratch), e.Value})
	}
	for n := 0; n < 16; n++ {
		child := b.bucket(n)
		if !child.IsNull() {
			collectBottomPageEntries(src, child, prefix.Append(page.NibbleOf(uint8(n)), nil), out)
		}
	}
}
