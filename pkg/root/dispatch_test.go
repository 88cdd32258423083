package root

import (
	"fmt"
	"testing"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/pager"
)

// fakeBatch is a minimal trie.PageSource, standing in for pkg/batch
// (which imports this package): a bump allocator over an in-memory pager.Manager,
// with copy-on-write gated by a single batch id.
type fakeBatch struct {
	pm      *pager.Manager
	batchID uint32
	next    uint32
}

func newFakeBatch(t *testing.T) *fakeBatch {
	t.Helper()
	pm, err := pager.Open("", 4)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { _ = pm.Close() })
	return &fakeBatch{pm: pm, batchID: 1, next: 1}
}

func (f *fakeBatch) GetAt(addr page.Address) page.Page { return f.pm.GetAt(addr) }
func (f *fakeBatch) GetForWriting(addr page.Address, reused bool) page.Page {
	return f.pm.GetForWriting(addr, reused)
}
func (f *fakeBatch) GetAddress(p page.Page) (page.Address, error) { return f.pm.GetAddress(p) }
func (f *fakeBatch) BatchID() uint32                              { return f.batchID }

func (f *fakeBatch) GetNewPage(clear bool) (page.Page, page.Address) {
	addr := page.Address(f.next)
	f.next++
	if uint32(addr)+1 > f.pm.PageCount() {
		if err := f.pm.Grow(uint32(addr) + 32); err != nil {
			panic(err)
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

func (f *fakeBatch) GetWritableCopy(addr page.Address) (page.Page, page.Address) {
	existing := f.pm.GetAt(addr)
	if existing.Header().BatchID == f.batchID {
		return existing, addr
	}
	newPage, newAddr := f.GetNewPage(false)
	copy(newPage.Bytes(), existing.Bytes())
	h := newPage.Header()
	h.BatchID = f.batchID
	newPage.SetHeader(h)
	return newPage, newAddr
}

func (f *fakeBatch) RegisterForFutureReuse(addr page.Address, possibleImmediateReuse bool) {}

func TestDispatchStateKeyRoundTrip(t *testing.T) {
	src := newFakeBatch(t)
	p := src.pm.GetForWriting(0, false)
	r := Init(p, src.batchID)

	Set(src, r, StateKey(page.FromBytes([]byte("account1"))), []byte("balance1"))
	Set(src, r, StateKey(page.FromBytes([]byte("account2"))), []byte("balance2"))

	if v, ok := TryGet(src, r, StateKey(page.FromBytes([]byte("account1")))); !ok || string(v) != "balance1" {
		t.Fatalf("account1 = %q, %v", v, ok)
	}
	if v, ok := TryGet(src, r, StateKey(page.FromBytes([]byte("account2")))); !ok || string(v) != "balance2" {
		t.Fatalf("account2 = %q, %v", v, ok)
	}
	if _, ok := TryGet(src, r, StateKey(page.FromBytes([]byte("account3")))); ok {
		t.Fatalf("expected miss on never-set account")
	}
}

func TestDispatchStorageKeyAllocatesIDOnce(t *testing.T) {
	src := newFakeBatch(t)
	p := src.pm.GetForWriting(0, false)
	r := Init(p, src.batchID)

	acct := page.FromBytes([]byte("contractAAAAAAAAAAAAAAAA"))
	Set(src, r, StorageKey(acct, page.FromBytes([]byte("slot1"))), []byte("v1"))
	if r.AccountCounter() != 1 {
		t.Fatalf("expected account counter 1 after first storage write, got %d", r.AccountCounter())
	}

	Set(src, r, StorageKey(acct, page.FromBytes([]byte("slot2"))), []byte("v2"))
	if r.AccountCounter() != 1 {
		t.Fatalf("expected account counter to stay 1 for same account, got %d", r.AccountCounter())
	}

	if v, ok := TryGet(src, r, StorageKey(acct, page.FromBytes([]byte("slot1")))); !ok || string(v) != "v1" {
		t.Fatalf("slot1 = %q, %v", v, ok)
	}
	if v, ok := TryGet(src, r, StorageKey(acct, page.FromBytes([]byte("slot2")))); !ok || string(v) != "v2" {
		t.Fatalf("slot2 = %q, %v", v, ok)
	}
}

func TestDispatchStorageKeysIsolatedPerAccount(t *testing.T) {
	src := newFakeBatch(t)
	p := src.pm.GetForWriting(0, false)
	r := Init(p, src.batchID)

	a := page.FromBytes([]byte("contractAAAAAAAAAAAAAAAA"))
	b := page.FromBytes([]byte("contractBBBBBBBBBBBBBBBB"))

	Set(src, r, StorageKey(a, page.FromBytes([]byte("slot"))), []byte("a-value"))
	Set(src, r, StorageKey(b, page.FromBytes([]byte("slot"))), []byte("b-value"))

	va, _ := TryGet(src, r, StorageKey(a, page.FromBytes([]byte("slot"))))
	vb, _ := TryGet(src, r, StorageKey(b, page.FromBytes([]byte("slot"))))
	if string(va) != "a-value" || string(vb) != "b-value" {
		t.Fatalf("got a=%q b=%q, want distinct per-account values", va, vb)
	}
}

func TestDispatchManyStorageSlots(t *testing.T) {
	src := newFakeBatch(t)
	p := src.pm.GetForWriting(0, false)
	r := Init(p, src.batchID)

	acct := page.FromBytes([]byte("contractCCCCCCCCCCCCCCCC"))
	const n = 500
	for i := 0; i < n; i++ {
		Set(src, r, StorageKey(acct, page.FromBytes([]byte(fmt.Sprintf("slot-%06d", i)))), []byte(fmt.Sprintf("v%06d", i)))
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("v%06d", i)
		v, ok := TryGet(src, r, StorageKey(acct, page.FromBytes([]byte(fmt.Sprintf("slot-%06d", i)))))
		if !ok || string(v) != want {
			t.Fatalf("slot %d: got %q, %v, want %q, true", i, v, ok, want)
		}
	}
}
