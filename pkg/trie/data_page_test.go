package trie

import (
	"fmt"
	"testing"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
)

func TestDataPageSetGetRoundTrip(t *testing.T) {
	src := newFakeSource(t, 1)
	p, addr := src.GetNewPage(true)
	InitDataPageLeaf(p, src.BatchID())

	addr = SetDataPage(src, addr, keyFromString("account1"), []byte("value1"))
	addr = SetDataPage(src, addr, keyFromString("account2"), []byte("value2"))

	if v, ok := TryGetDataPage(src, addr, keyFromString("account1")); !ok || string(v) != "value1" {
		t.Fatalf("account1 = %q, %v", v, ok)
	}
	if v, ok := TryGetDataPage(src, addr, keyFromString("account2")); !ok || string(v) != "value2" {
		t.Fatalf("account2 = %q, %v", v, ok)
	}
	if _, ok := TryGetDataPage(src, addr, keyFromString("missing")); ok {
		t.Fatalf("expected missing key to miss")
	}
}

func TestDataPageDeleteRemovesEntry(t *testing.T) {
	src := newFakeSource(t, 1)
	p, addr := src.GetNewPage(true)
	InitDataPageLeaf(p, src.BatchID())

	addr = SetDataPage(src, addr, keyFromString("k"), []byte("v"))
	addr = SetDataPage(src, addr, keyFromString("k"), nil)

	if _, ok := TryGetDataPage(src, addr, keyFromString("k")); ok {
		t.Fatalf("expected key deleted")
	}
}

// TestDataPageOverfillPromotesToFanout writes enough distinct keys
// that the Leaf-mode local map and both LeafOverflow pages cannot
// hold them all, forcing promotion to Fanout mode, and checks every
// value written remains reachable afterward.
func TestDataPageOverfillPromotesToFanout(t *testing.T) {
	src := newFakeSource(t, 1)
	p, addr := src.GetNewPage(true)
	InitDataPageLeaf(p, src.BatchID())

	const n = 400
	keys := make([]page.NibblePath, n)
	vals := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = keyFromString(fmt.Sprintf("key-%04d", i))
		vals[i] = []byte(fmt.Sprintf("value-%04d", i))
		addr = SetDataPage(src, addr, keys[i], vals[i])
	}

	for i := 0; i < n; i++ {
		v, ok := TryGetDataPage(src, addr, keys[i])
		if !ok || string(v) != string(vals[i]) {
			t.Fatalf("key %d: got %q, %v, want %q, true", i, v, ok, vals[i])
		}
	}

	if WrapDataPage(src.GetAt(addr)).p.Header().Meta != page.MetaDataPageFanout {
		t.Errorf("expected page promoted to fanout mode after overfill")
	}
}

func TestDataPageDeleteByPrefixClearsSubtree(t *testing.T) {
	src := newFakeSource(t, 1)
	p, addr := src.GetNewPage(true)
	InitDataPageLeaf(p, src.BatchID())

	const n = 400
	for i := 0; i < n; i++ {
		addr = SetDataPage(src, addr, keyFromString(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("v%d", i)))
	}

	addr = DeleteByPrefixDataPage(src, addr, page.FromBytes(nil))

	for i := 0; i < n; i++ {
		if _, ok := TryGetDataPage(src, addr, keyFromString(fmt.Sprintf("key-%04d", i))); ok {
			t.Fatalf("key %d still present after DeleteByPrefix(\"\")", i)
		}
	}
}
