package root

import (
	"encoding/binary"
	"sort"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/pager"
)

// AbandonedPage is a chained stack of page addresses all freed by the
// same batch. Consecutive addresses are packed into a single entry
// (high bit set) to save space; entries are otherwise a flat array of
// single addresses. Layout (payload): count int32, next DbAddress,
// then count packed uint32 entries.
type AbandonedPage struct {
	p page.Page
}

const (
	abandonedCountOffset = 0
	abandonedNextOffset  = 4
	abandonedEntryStart  = 8
	pairedFlag           = uint32(1) << 31
)

// WrapAbandoned views p as an AbandonedPage.
func WrapAbandoned(p page.Page) AbandonedPage { return AbandonedPage{p: p} }

// InitAbandoned formats a freshly-allocated page as an empty
// AbandonedPage owned by batchID.
func InitAbandoned(p page.Page, batchID uint32) AbandonedPage {
	p.SetHeader(page.Header{BatchID: batchID, Type: page.TypeAbandoned, Version: page.FormatVersion})
	ap := AbandonedPage{p: p}
	ap.setCount(0)
	ap.SetNext(page.Null)
	return ap
}

func (a AbandonedPage) count() int32 {
	return int32(binary.LittleEndian.Uint32(a.p.Payload()[abandonedCountOffset:]))
}
func (a AbandonedPage) setCount(n int32) {
	binary.LittleEndian.PutUint32(a.p.Payload()[abandonedCountOffset:], uint32(n))
}

// Next returns the address of the continuation page in this batch's
// chain, or Null if this is the tail.
func (a AbandonedPage) Next() page.Address {
	return page.Address(binary.LittleEndian.Uint32(a.p.Payload()[abandonedNextOffset:]))
}

// SetNext links this page's chain continuation.
func (a AbandonedPage) SetNext(addr page.Address) {
	binary.LittleEndian.PutUint32(a.p.Payload()[abandonedNextOffset:], uint32(addr))
}

func (a AbandonedPage) entryOffset(i int32) int { return abandonedEntryStart + int(i)*4 }

func (a AbandonedPage) entryAt(i int32) (addr page.Address, paired bool) {
	raw := binary.LittleEndian.Uint32(a.p.Payload()[a.entryOffset(i):])
	return page.Address(raw &^ pairedFlag), raw&pairedFlag != 0
}

func (a AbandonedPage) setEntryAt(i int32, addr page.Address, paired bool) {
	raw := uint32(addr)
	if paired {
		raw |= pairedFlag
	}
	binary.LittleEndian.PutUint32(a.p.Payload()[a.entryOffset(i):], raw)
}

// maxEntries is how many packed entries fit in the payload after the
// count/next header.
func (a AbandonedPage) maxEntries() int32 {
	return int32((page.PayloadSize - abandonedEntryStart) / 4)
}

// Push appends addr, merging it into the previous entry when it is
// exactly one greater than that entry's (unpaired) address. Returns
// false if the page has no room for a new entry.
func (a AbandonedPage) Push(addr page.Address) bool {
	n := a.count()
	if n > 0 {
		last, paired := a.entryAt(n - 1)
		if !paired && addr == last+1 {
			a.setEntryAt(n-1, last, true)
			return true
		}
	}
	if n >= a.maxEntries() {
		return false
	}
	a.setEntryAt(n, addr, false)
	a.setCount(n + 1)
	return true
}

// TryPeek returns the address that TryPop would return next, without
// removing it.
func (a AbandonedPage) TryPeek() (page.Address, bool) {
	n := a.count()
	if n == 0 {
		return page.Null, false
	}
	last, paired := a.entryAt(n - 1)
	if paired {
		return last + 1, true
	}
	return last, true
}

// TryPop removes and returns the most recently pushed address.
func (a AbandonedPage) TryPop() (page.Address, bool) {
	n := a.count()
	if n == 0 {
		return page.Null, false
	}
	last, paired := a.entryAt(n - 1)
	if paired {
		a.setEntryAt(n-1, last, false)
		return last + 1, true
	}
	a.setCount(n - 1)
	return last, true
}

// IsEmpty reports whether this page holds no entries.
func (a AbandonedPage) IsEmpty() bool { return a.count() == 0 }

// BuildChain writes a sorted, ascending list of freed addresses into
// a chain of AbandonedPages, reusing the addresses themselves as the
// chain's own pages (the lowest addresses in the list host the
// chain; every hosted address is itself still recorded as reusable
// once its page is popped off the chain). Returns the head address
// of the chain.
func BuildChain(pm pager.PageManager, addrs []page.Address, batchID uint32) page.Address {
	if len(addrs) == 0 {
		return page.Null
	}
	sorted := append([]page.Address(nil), addrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// The first address in the sorted list hosts the first chain
	// page; if more pages are needed, later entries in the list are
	// promoted to host continuation pages as entries run out.
	var chainPages []page.Address
	remaining := sorted
	head := page.Null
	var tail AbandonedPage

	for len(remaining) > 0 {
		hostAddr := remaining[0]
		remaining = remaining[1:]
		chainPages = append(chainPages, hostAddr)

		hostPage := pm.GetForWriting(hostAddr, true)
		ap := InitAbandoned(hostPage, batchID)
		if head.IsNull() {
			head = hostAddr
		} else {
			tail.SetNext(hostAddr)
		}
		tail = ap

		for len(remaining) > 0 {
			if !ap.Push(remaining[0]) {
				break
			}
			remaining = remaining[1:]
		}
	}
	return head
}
