package trie

import (
	"testing"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/pager"
)

// fakeSource is a minimal stand-in for a write batch, just enough to
// exercise the trie page family without importing pkg/batch (which
// imports this package): a
// bump allocator over an in-memory pager.Manager, copy-on-write
// gated by a single batchID, and a slice recording pages released for
// reuse (never actually recycled here, since these tests never drain
// it — only that the right addresses get registered matters).
type fakeSource struct {
	t         *testing.T
	pm        *pager.Manager
	batchID   uint32
	next      uint32
	abandoned []page.Address
}

func newFakeSource(t *testing.T, batchID uint32) *fakeSource {
	t.Helper()
	pm, err := pager.Open("", 4)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { _ = pm.Close() })
	return &fakeSource{t: t, pm: pm, batchID: batchID, next: 1}
}

func (f *fakeSource) GetAt(addr page.Address) page.Page { return f.pm.GetAt(addr) }

func (f *fakeSource) GetForWriting(addr page.Address, reused bool) page.Page {
	return f.pm.GetForWriting(addr, reused)
}

func (f *fakeSource) GetAddress(p page.Page) (page.Address, error) { return f.pm.GetAddress(p) }

func (f *fakeSource) BatchID() uint32 { return f.batchID }

func (f *fakeSource) GetNewPage(clear bool) (page.Page, page.Address) {
	addr := page.Address(f.next)
	f.next++
	if uint32(addr)+1 > f.pm.PageCount() {
		if err := f.pm.Grow(uint32(addr) + 32); err != nil {
			f.t.Fatalf("grow: %v", err)
		}
	}
	p := f.pm.GetForWriting(addr, false)
	if clear {
		buf := p.Bytes()
		for i := range buf {
			buf[i] = 0
		}
	}
	return p, addr
}

func (f *fakeSource) GetWritableCopy(addr page.Address) (page.Page, page.Address) {
	existing := f.pm.GetAt(addr)
	if existing.Header().BatchID == f.batchID {
		return existing, addr
	}
	newPage, newAddr := f.GetNewPage(false)
	copy(newPage.Bytes(), existing.Bytes())
	h := newPage.Header()
	h.BatchID = f.batchID
	newPage.SetHeader(h)
	f.abandoned = append(f.abandoned, addr)
	return newPage, newAddr
}

func (f *fakeSource) RegisterForFutureReuse(addr page.Address, possibleImmediateReuse bool) {
	f.abandoned = append(f.abandoned, addr)
}

func keyFromString(s string) page.NibblePath {
	return page.FromBytes([]byte(s))
}
