package slotted

import (
	"testing"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
)

func newArray(t *testing.T, size int) Array {
	t.Helper()
	return New(make([]byte, size))
}

func TestSetGetRoundTrip(t *testing.T) {
	a := newArray(t, 512)
	k := page.FromBytes([]byte{0xab, 0xcd})
	if !a.TrySet(k, []byte{1, 2, 3}) {
		t.Fatal("expected TrySet to succeed")
	}
	v, found := a.TryGet(k)
	if !found {
		t.Fatal("expected key to be found")
	}
	if string(v) != "\x01\x02\x03" {
		t.Errorf("unexpected value %v", v)
	}
}

func TestSetEmptyValueIsTombstoneNotAbsence(t *testing.T) {
	a := newArray(t, 512)
	k := page.FromBytes([]byte{0x01})
	a.TrySet(k, nil)

	v, found := a.TryGet(k)
	if !found {
		t.Fatal("tombstone entry should still be found")
	}
	if len(v) != 0 {
		t.Errorf("expected empty value, got %v", v)
	}
}

func TestDeleteRemovesEntirely(t *testing.T) {
	a := newArray(t, 512)
	k := page.FromBytes([]byte{0x01})
	a.TrySet(k, []byte{9})

	if !a.Delete(k) {
		t.Fatal("expected delete to report found")
	}
	if _, found := a.TryGet(k); found {
		t.Error("expected key to be gone after delete")
	}
	if a.Delete(k) {
		t.Error("second delete of the same key should report not found")
	}
}

func TestSetIsIdempotent(t *testing.T) {
	a := newArray(t, 512)
	k := page.FromBytes([]byte{0x11, 0x22})
	a.TrySet(k, []byte("v1"))
	a.TrySet(k, []byte("v1"))

	if got := a.Len(); got != 1 {
		t.Errorf("expected exactly one slot after idempotent set, got %d", got)
	}
}

func TestOverfillReturnsFalse(t *testing.T) {
	a := newArray(t, 64) // deliberately tiny
	inserted := 0
	for i := 0; i < 100; i++ {
		k := page.FromBytes([]byte{byte(i), byte(i >> 8)})
		if !a.TrySet(k, []byte{byte(i)}) {
			break
		}
		inserted++
	}
	if inserted == 100 {
		t.Fatal("expected the tiny array to overfill before 100 inserts")
	}
	if inserted == 0 {
		t.Fatal("expected at least one successful insert")
	}
}

func TestEnumerateNibble(t *testing.T) {
	a := newArray(t, 1024)
	a.TrySet(page.FromBytes([]byte{0x12}), []byte{1})
	a.TrySet(page.FromBytes([]byte{0x13}), []byte{2})
	a.TrySet(page.FromBytes([]byte{0x25}), []byte{3})

	got := a.EnumerateNibble(0x1)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries with first nibble 0x1, got %d", len(got))
	}
}

func TestMoveNonEmptyKeysTo(t *testing.T) {
	src := newArray(t, 1024)
	dst := newArray(t, 1024)

	present := page.FromBytes([]byte{0x01})
	tomb := page.FromBytes([]byte{0x02})
	src.TrySet(present, []byte{1})
	src.TrySet(tomb, nil)

	src.MoveNonEmptyKeysTo(dst, true)

	if _, found := src.TryGet(present); found {
		t.Error("expected present key to have been moved out of src")
	}
	if v, found := dst.TryGet(present); !found || len(v) != 1 {
		t.Error("expected present key in dst with its value")
	}
	if v, found := dst.TryGet(tomb); !found || len(v) != 0 {
		t.Error("expected tombstone propagated into dst")
	}
}

func TestDefragmentReclaimsDeletedSpace(t *testing.T) {
	a := newArray(t, 256)
	keys := make([]page.NibblePath, 0, 10)
	for i := 0; i < 10; i++ {
		k := page.FromBytes([]byte{byte(i)})
		if !a.TrySet(k, []byte{byte(i), byte(i), byte(i)}) {
			break
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		a.Delete(k)
	}
	a.Defragment()

	// After defragmenting a fully-deleted array, a fresh large-ish
	// value should fit using the reclaimed heap space.
	if !a.TrySet(page.FromBytes([]byte{0xff}), make([]byte, 20)) {
		t.Error("expected defragmentation to reclaim deleted heap space")
	}
}

func TestGatherCountStats1Nibble(t *testing.T) {
	a := newArray(t, 1024)
	a.TrySet(page.FromBytes([]byte{0x10}), []byte{1})
	a.TrySet(page.FromBytes([]byte{0x1a}), []byte{2})
	a.TrySet(page.FromBytes([]byte{0x20}), []byte{3})

	stats := a.GatherCountStats1Nibble()
	if stats[1] != 2 {
		t.Errorf("expected 2 entries under nibble 1, got %d", stats[1])
	}
	if stats[2] != 1 {
		t.Errorf("expected 1 entry under nibble 2, got %d", stats[2])
	}
}
