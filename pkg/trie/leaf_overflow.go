package trie

import (
	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/slotted"
)

// LeafOverflowPage is a flat SlottedArray page with no fan-out of its
// own: the two buckets a DataPage's Leaf mode spills into once its
// own local map overfills.
type LeafOverflowPage struct {
	p page.Page
}

// WrapLeafOverflow views p as a LeafOverflowPage.
func WrapLeafOverflow(p page.Page) LeafOverflowPage { return LeafOverflowPage{p: p} }

// InitLeafOverflow formats a freshly-allocated page as an empty
// LeafOverflowPage owned by batchID.
func InitLeafOverflow(p page.Page, batchID uint32) LeafOverflowPage {
	p.SetHeader(page.Header{BatchID: batchID, Type: page.TypeLeafOverflow, Version: page.FormatVersion})
	slotted.New(p.Payload())
	return LeafOverflowPage{p: p}
}

func (l LeafOverflowPage) local() slotted.Array { return slotted.Wrap(l.p.Payload()) }

// SetLeafOverflow sets or deletes (on an empty value) key in the page
// at addr, copy-on-writing first. Returns the address to store back
// in the parent bucket and whether the set succeeded (it never fans
// out further, so callers must handle a false result themselves).
func SetLeafOverflow(src PageSource, addr page.Address, key page.NibblePath, value []byte) (page.Address, bool) {
	p, newAddr := src.GetWritableCopy(addr)
	l := LeafOverflowPage{p: p}
	if len(value) == 0 {
		l.local().Delete(key)
		return newAddr, true
	}
	return newAddr, l.local().TrySet(key, value)
}

// GetLeafOverflow looks up key in the page at addr without mutating it.
func GetLeafOverflow(src PageSource, addr page.Address, key page.NibblePath) ([]byte, bool) {
	l := WrapLeafOverflow(src.GetAt(addr))
	return l.local().TryGet(key)
}

// DeleteFromLeafOverflow removes key entirely (not a tombstone) from
// the page at addr, copy-on-writing first.
func DeleteFromLeafOverflow(src PageSource, addr page.Address, key page.NibblePath) page.Address {
	p, newAddr := src.GetWritableCopy(addr)
	LeafOverflowPage{p: p}.local().Delete(key)
	return newAddr
}

// DeleteByPrefixLeafOverflow removes every entry under prefix.
func DeleteByPrefixLeafOverflow(src PageSource, addr page.Address, prefix page.NibblePath) page.Address {
	p, newAddr := src.GetWritableCopy(addr)
	l := LeafOverflowPage{p: p}
	for _, e := range l.local().EnumerateAll() {
		if e.Key.HasPrefix(prefix) {
			l.local().Delete(e.Key)
		}
	}
	return newAddr
}

// AcceptLeafOverflow visits every live entry stored in the page at
// addr, with prefix prepended to reconstruct the full key.
func AcceptLeafOverflow(src PageSource, addr page.Address, prefix page.NibblePath, visit Visitor) {
	l := WrapLeafOverflow(src.GetAt(addr))
	var scratch []byte
	for _, e := range l.local().EnumerateAll() {
		if len(e.Value) == 0 {
			continue
		}
		visit(prefix.Append(e.Key, scratch), e.Value)
	}
}
