package trie

import (
	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/slotted"
)

// keepLocalDiscount nudges the overfill nibble-picker away from
// evicting the cache-friendly "keep local" nibbles unless they truly
// dominate the page, per spec's "small keep-local discount" tie-break.
const keepLocalDiscount = 1

// DataPage is the main trie page: either a Leaf (two LeafOverflow
// spill buckets) or, once those overflow too, a Fanout of 16 children
// indexed by the key's first remaining nibble.
type DataPage struct {
	p page.Page
}

// WrapDataPage views p as a DataPage without touching its contents.
func WrapDataPage(p page.Page) DataPage { return DataPage{p: p} }

// InitDataPageLeaf formats a freshly-allocated page as an empty
// Leaf-mode DataPage owned by batchID.
func InitDataPageLeaf(p page.Page, batchID uint32) DataPage {
	p.SetHeader(page.Header{BatchID: batchID, Type: page.TypeDataPage, Meta: page.MetaDataPageLeaf, Version: page.FormatVersion})
	d := DataPage{p: p}
	for i := 0; i < 16; i++ {
		d.setBucket(i, page.Null)
	}
	slotted.New(d.localBuf())
	return d
}

func (d DataPage) localBuf() []byte         { return d.p.Payload()[bucketsSize:] }
func (d DataPage) local() slotted.Array     { return slotted.Wrap(d.localBuf()) }
func (d DataPage) isFanout() bool           { return d.p.Header().Meta == page.MetaDataPageFanout }
func (d DataPage) bucket(i int) page.Address { return readBucket(d.p.Payload(), i) }
func (d DataPage) setBucket(i int, a page.Address) { writeBucket(d.p.Payload(), i, a) }

// SetDataPage sets (or, on an empty value, deletes) key under the
// DataPage at addr, copy-on-writing it first if needed. Returns the
// address to store back in the caller's own bucket/root field, which
// may differ from addr if the copy landed on a different page.
func SetDataPage(src PageSource, addr page.Address, key page.NibblePath, value []byte) page.Address {
	p, addr := src.GetWritableCopy(addr)
	d := DataPage{p: p}
	if d.isFanout() {
		d.setFanout(src, key, value)
	} else {
		d.setLeaf(src, key, value)
	}
	return addr
}

// TryGetDataPage looks up key under the DataPage at addr.
func TryGetDataPage(src PageSource, addr page.Address, key page.NibblePath) ([]byte, bool) {
	d := WrapDataPage(src.GetAt(addr))
	if v, ok := d.local().TryGet(key); ok {
		return v, true
	}
	if d.isFanout() {
		if key.Length() == 0 {
			return nil, false
		}
		child := d.bucket(int(key.FirstNibble()))
		if child.IsNull() {
			return nil, false
		}
		return TryGetDataPage(src, child, key.SliceFrom(1))
	}
	for i := 0; i < 2; i++ {
		ov := d.bucket(i)
		if ov.IsNull() {
			continue
		}
		if v, ok := GetLeafOverflow(src, ov, key); ok {
			return v, true
		}
	}
	return nil, false
}

// DeleteByPrefixDataPage deletes every entry reachable under prefix
// from the DataPage at addr, copy-on-writing it first.
func DeleteByPrefixDataPage(src PageSource, addr page.Address, prefix page.NibblePath) page.Address {
	p, addr := src.GetWritableCopy(addr)
	d := DataPage{p: p}

	if prefix.Length() == 0 {
		d.clearAll(src)
		return addr
	}

	for _, e := range d.local().EnumerateAll() {
		if e.Key.HasPrefix(prefix) {
			d.local().Delete(e.Key)
		}
	}

	nibble := prefix.FirstNibble()
	if d.isFanout() {
		child := d.bucket(int(nibble))
		if !child.IsNull() {
			d.setBucket(int(nibble), DeleteByPrefixDataPage(src, child, prefix.SliceFrom(1)))
		}
		return addr
	}

	idx := 0
	if nibble >= 8 {
		idx = 1
	}
	ov := d.bucket(idx)
	if !ov.IsNull() {
		d.setBucket(idx, DeleteByPrefixLeafOverflow(src, ov, prefix))
	}
	return addr
}

// AcceptDataPage visits every live entry under the DataPage at addr.
func AcceptDataPage(src PageSource, addr page.Address, prefix page.NibblePath, visit Visitor) {
	d := WrapDataPage(src.GetAt(addr))
	var scratch []byte
	for _, e := range d.local().EnumerateAll() {
		if len(e.Value) == 0 {
			continue
		}
		visit(prefix.Append(e.Key, scratch), e.Value)
	}
	if d.isFanout() {
		for n := 0; n < 16; n++ {
			child := d.bucket(n)
			if !child.IsNull() {
				AcceptDataPage(src, child, prefix.Append(page.NibbleOf(uint8(n)), nil), visit)
			}
		}
		return
	}
	for i := 0; i < 2; i++ {
		ov := d.bucket(i)
		if !ov.IsNull() {
			AcceptLeafOverflow(src, ov, prefix, visit)
		}
	}
}

// clearAll releases every child/overflow page this DataPage holds and
// resets its local map to empty, used by DeleteByPrefix(prefix="").
func (d DataPage) clearAll(src PageSource) {
	for i := 0; i < 16; i++ {
		addr := d.bucket(i)
		if !addr.IsNull() {
			src.RegisterForFutureReuse(addr, false)
			d.setBucket(i, page.Null)
		}
	}
	slotted.New(d.localBuf())
}

// --- Fanout mode ---

func (d DataPage) setFanout(src PageSource, key page.NibblePath, value []byte) {
	if key.Length() == 0 {
		// A zero-length key at a Fanout page has nowhere else to go;
		// store it in the local map directly.
		if len(value) == 0 {
			d.local().Delete(key)
		} else {
			d.local().TrySet(key, value)
		}
		return
	}

	nibble := key.FirstNibble()
	childAddr := d.bucket(int(nibble))
	keepLocal := shouldKeepShortKeyLocal(nibble, key.Length())

	if len(value) == 0 {
		if childAddr.IsNull() || keepLocal {
			d.local().Delete(key)
			return
		}
		d.setBucket(int(nibble), SetDataPage(src, childAddr, key.SliceFrom(1), nil))
		return
	}

	if !childAddr.IsNull() && !keepLocal && src.GetAt(childAddr).Header().BatchID == src.BatchID() {
		d.setBucket(int(nibble), SetDataPage(src, childAddr, key.SliceFrom(1), value))
		return
	}

	if d.local().TrySet(key, value) {
		return
	}

	d.handleOverfillFanout(src)
	d.setFanout(src, key, value)
}

// handleOverfillFanout flushes one nibble's worth of local entries
// down to a child page, creating the child if none yet qualifies.
func (d DataPage) handleOverfillFanout(src PageSource) {
	counts := d.local().GatherCountStats1Nibble()

	best, bestScore := -1, -1
	for n := 0; n < 16; n++ {
		if d.bucket(n).IsNull() {
			continue
		}
		score := counts[n]
		if shouldKeepShortKeyLocal(uint8(n), 1) {
			score -= keepLocalDiscount
		}
		if score > bestScore {
			bestScore, best = score, n
		}
	}
	if best >= 0 {
		childAddr := d.flushNibbleDown(src, uint8(best), d.bucket(best))
		d.setBucket(best, childAddr)
		return
	}

	best, bestScore = 0, -1
	for n := 0; n < 16; n++ {
		if counts[n] > bestScore {
			bestScore, best = counts[n], n
		}
	}
	childPage, childAddr := src.GetNewPage(true)
	InitDataPageLeaf(childPage, src.BatchID())
	childAddr = d.flushNibbleDown(src, uint8(best), childAddr)
	d.setBucket(best, childAddr)
}

// flushNibbleDown moves every local entry whose first nibble is n
// into the child page at childAddr, returning the (possibly changed)
// child address after its own copy-on-write and any fan-out it does.
func (d DataPage) flushNibbleDown(src PageSource, n uint8, childAddr page.Address) page.Address {
	for _, e := range d.local().EnumerateNibble(n) {
		childAddr = SetDataPage(src, childAddr, e.Key.SliceFrom(1), e.Value)
		d.local().Delete(e.Key)
	}
	return childAddr
}

// --- Leaf mode ---

func (d DataPage) setLeaf(src PageSource, key page.NibblePath, value []byte) {
	if len(value) == 0 {
		d.local().Delete(key)
		for i := 0; i < 2; i++ {
			addr := d.bucket(i)
			if !addr.IsNull() {
				d.setBucket(i, DeleteFromLeafOverflow(src, addr, key))
			}
		}
		return
	}

	if d.local().TrySet(key, value) {
		return
	}
	d.overflowAndRetry(src, key, value)
}

// overflowAndRetry materializes the two LeafOverflow spill pages,
// partitions the local map's entries between them by nibble, and
// retries the original set; if even that does not fit, the page is
// promoted to Fanout mode and the set is retried there instead.
func (d DataPage) overflowAndRetry(src PageSource, key page.NibblePath, value []byte) {
	var ovLocal [2]slotted.Array
	for i := 0; i < 2; i++ {
		var p page.Page
		var addr page.Address
		if d.bucket(i).IsNull() {
			p, addr = src.GetNewPage(true)
			InitLeafOverflow(p, src.BatchID())
		} else {
			p, addr = src.GetWritableCopy(d.bucket(i))
		}
		d.setBucket(i, addr)
		ovLocal[i] = WrapLeafOverflow(p).local()
	}

	local := d.local()
	moved := true
	for n := uint8(0); n < 16; n++ {
		dest := ovLocal[0]
		if n >= 8 {
			dest = ovLocal[1]
		}
		for _, e := range local.EnumerateNibble(n) {
			if !dest.TrySet(e.Key, e.Value) {
				moved = false
				continue
			}
			local.Delete(e.Key)
		}
	}

	if moved && local.TrySet(key, value) {
		return
	}

	d.promoteToFanout(src)
	d.setFanout(src, key, value)
}

// promoteToFanout converts this Leaf-mode page into a Fanout-mode
// page in place, re-inserting every entry from its two overflow pages
// (which are then abandoned) through the Fanout Set path so each
// lands in the right bucket or stays local per the Fanout rules.
func (d DataPage) promoteToFanout(src PageSource) {
	ovAddrs := [2]page.Address{d.bucket(0), d.bucket(1)}
	var entries []slotted.Entry
	for _, addr := range ovAddrs {
		if addr.IsNull() {
			continue
		}
		entries = append(entries, WrapLeafOverflow(src.GetAt(addr)).local().EnumerateAll()...)
	}

	h := d.p.Header()
	h.Meta = page.MetaDataPageFanout
	d.p.SetHeader(h)
	for i := 0; i < 16; i++ {
		d.setBucket(i, page.Null)
	}

	for _, addr := range ovAddrs {
		if !addr.IsNull() {
			src.RegisterForFutureReuse(addr, false)
		}
	}

	for _, e := range entries {
		d.setFanout(src, e.Key, e.Value)
	}
}
