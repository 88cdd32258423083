// Package paprikadb implements the single-writer/many-readers core
// described in spec.md §4.6: a ring of RootPage slots occupying the
// first HistoryDepth pages of the file, one live write batch at a
// time, and any number of concurrent read batches each pinned to a
// root still retained in the ring.
//
// It is grounded on pkg/mvcc/manager.go's TransactionManager: a
// mutex-guarded map from an atomically assigned id to live state,
// generalized here from "transactions by id" to "live reader batch
// ids by lease id" for the min-reusable-batch-id computation.
package paprikadb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/NethermindEth/Paprika-sub000/pkg/batch"
	"github.com/NethermindEth/Paprika-sub000/pkg/multihead"
	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/pager"
	"github.com/NethermindEth/Paprika-sub000/pkg/paplog"
	"github.com/NethermindEth/Paprika-sub000/pkg/root"
)

// Errors matching spec.md §7's abstract error kinds this package can
// raise directly (others, like IoError, surface from pkg/batch).
var (
	// ErrConcurrentWriteBatch is returned by BeginNextBatch while
	// another write batch is already open.
	ErrConcurrentWriteBatch = errors.New("paprikadb: a write batch is already open")
	// ErrUnknownStateHash is returned by BeginReadOnlyBatch when the
	// requested historical state hash is not among the retained root
	// slots.
	ErrUnknownStateHash = errors.New("paprikadb: unknown state hash")
	// ErrHistoryDepthTooSmall enforces spec.md's "History depth ... (≥2)".
	ErrHistoryDepthTooSmall = errors.New("paprikadb: history depth must be >= 2")
)

// PagedDb is the database core: an open PageManager plus the root
// ring and bookkeeping guarding reuse across batches. The ring and
// its mutex are spec.md §9's "Global mutable state... the PagedDb
// batch lock guarding the roots ring" passed around as part of this
// handle, not a package-level variable.
type PagedDb struct {
	mu           sync.Mutex
	pm           pager.PageManager
	historyDepth uint32
	log          *paplog.Logger

	liveRoot root.RootPage

	writerOpen bool

	nextReaderID      uint64
	liveReaderBatches map[uint64]uint32
}

// Open prepares a PagedDb over pm, retaining historyDepth root slots.
// If pm's first historyDepth pages already hold a formatted root
// (the highest-batch-id one among them, per spec.md §6's crash
// recovery rule), that one becomes live; otherwise a fresh genesis
// root is written to slot 0.
func Open(pm pager.PageManager, historyDepth uint32) (*PagedDb, error) {
	if historyDepth < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrHistoryDepthTooSmall, historyDepth)
	}
	if err := pm.Grow(historyDepth); err != nil {
		return nil, fmt.Errorf("paprikadb: open: %w", err)
	}

	db := &PagedDb{
		pm:                pm,
		historyDepth:      historyDepth,
		log:               paplog.Default("paprikadb"),
		liveReaderBatches: make(map[uint64]uint32),
	}

	if live, ok := db.scanLiveRoot(); ok {
		db.liveRoot = live
		db.log.Infof("recovered live root at batch %d (history depth %d)", live.BatchID(), historyDepth)
		return db, nil
	}

	genesis := root.Init(pm.GetForWriting(0, false), 1)
	genesis.SetNextFreePage(page.Address(historyDepth))
	if err := pm.WriteRoot(0, pager.FlushDataAndRoot); err != nil {
		return nil, fmt.Errorf("paprikadb: open: write genesis root: %w", err)
	}
	db.liveRoot = genesis
	db.log.Infof("initialized genesis root (history depth %d)", historyDepth)
	return db, nil
}

// scanLiveRoot implements spec.md §6's recovery rule: scan the
// historyDepth root slots and pick the one with the highest batch id.
func (db *PagedDb) scanLiveRoot() (root.RootPage, bool) {
	var (
		best   root.RootPage
		bestID uint32
		found  bool
	)
	for i := uint32(0); i < db.historyDepth; i++ {
		p := db.pm.GetAt(page.Address(i))
		if p.Header().Type != page.TypeRoot {
			continue
		}
		cand := root.Wrap(p)
		if !found || cand.BatchID() > bestID {
			best = cand
			bestID = cand.BatchID()
			found = true
		}
	}
	return best, found
}

// slotFor returns the ring slot a root with the given batch id lives
// (or will live) in. Batch ids are assigned densely starting at 1, so
// this is a direct derivation rather than a separately tracked
// counter.
func (db *PagedDb) slotFor(batchID uint32) page.Address {
	return page.Address((batchID - 1) % db.historyDepth)
}

// minReusableBatchIDLocked implements spec.md §4.6's
// "max(last_root - HistoryDepth + 1, min over live readers of
// batch_id)". Every live reader's batch id is guaranteed to already
// be >= the history floor (a reader can only ever be opened against a
// root still retained in the ring), so this reduces to: use the
// history floor when there are no live readers, else the oldest live
// reader's batch id.
func (db *PagedDb) minReusableBatchIDLocked() uint32 {
	historyFloor := uint32(0)
	if db.liveRoot.BatchID()+1 > db.historyDepth {
		historyFloor = db.liveRoot.BatchID() + 1 - db.historyDepth
	}

	floor := historyFloor
	oldest, haveReader := uint32(0), false
	for _, bid := range db.liveReaderBatches {
		if !haveReader || bid < oldest {
			oldest, haveReader = bid, true
		}
	}
	if haveReader && oldest > floor {
		floor = oldest
	}
	return floor
}

// BeginNextBatch opens the single write batch. It fails with
// ErrConcurrentWriteBatch if a write batch is already open; the
// caller must Commit or Abort the returned batch before another can
// be opened.
func (db *PagedDb) BeginNextBatch() (*batch.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.writerOpen {
		return nil, ErrConcurrentWriteBatch
	}
	db.writerOpen = true

	reuseFloor := db.minReusableBatchIDLocked()
	return batch.New(db.pm, db.liveRoot, reuseFloor), nil
}

// Commit persists b (opened via BeginNextBatch) into the next ring
// slot under opt and advances the live root, releasing the writer
// lock whether or not the commit succeeds — per spec.md §4.5, a
// failed commit is fatal to the batch and the host is expected to
// re-open rather than retry.
func (db *PagedDb) Commit(b *batch.Batch, opt pager.CommitOption) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	defer func() { db.writerOpen = false }()

	slot := db.slotFor(b.BatchID())
	newRoot, err := b.Commit(slot, opt)
	if err != nil {
		db.log.Errorf("commit batch %d failed: %v", b.BatchID(), err)
		return fmt.Errorf("paprikadb: commit: %w", err)
	}
	db.liveRoot = newRoot
	db.log.Debugf("committed batch %d into slot %d", newRoot.BatchID(), slot)
	return nil
}

// AbortBatch discards b without committing it, releasing the writer
// lock so a new batch can be opened.
func (db *PagedDb) AbortBatch(b *batch.Batch) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b.Dispose()
	db.writerOpen = false
}

// ReadRelease is returned by BeginReadOnlyBatch; calling it ends the
// reader's lease on its root so its batch id no longer holds back
// page reuse.
type ReadRelease func()

// BeginReadOnlyBatch opens a read-only batch against the current live
// root, or against a historical root still retained in the ring whose
// StateHash matches stateHash if non-nil. The returned release func
// must be called when the caller is done reading.
func (db *PagedDb) BeginReadOnlyBatch(stateHash *[32]byte) (*batch.Batch, ReadRelease, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r := db.liveRoot
	if stateHash != nil {
		found := false
		for i := uint32(0); i < db.historyDepth; i++ {
			p := db.pm.GetAt(page.Address(i))
			if p.Header().Type != page.TypeRoot {
				continue
			}
			cand := root.Wrap(p)
			if cand.StateHash() == *stateHash {
				r = cand
				found = true
				break
			}
		}
		if !found {
			return nil, nil, ErrUnknownStateHash
		}
	}

	id := db.nextReaderID
	db.nextReaderID++
	db.liveReaderBatches[id] = r.BatchID()

	b := batch.NewReadOnly(db.pm, r)
	release := func() {
		db.mu.Lock()
		delete(db.liveReaderBatches, id)
		db.mu.Unlock()
		b.Dispose()
	}
	return b, release, nil
}

// LiveRoot returns the RootPage currently considered live. Exposed
// for tests and metrics; callers that need a stable read snapshot
// should use BeginReadOnlyBatch instead.
func (db *PagedDb) LiveRoot() root.RootPage {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.liveRoot
}

// HistoryDepth returns the number of root slots retained.
func (db *PagedDb) HistoryDepth() uint32 { return db.historyDepth }

// Close releases the underlying PageManager.
func (db *PagedDb) Close() error { return db.pm.Close() }

// OpenMultiHeadChain implements spec.md §6's
// open_multi_head_chain(auto_finalize_after): an overlay of speculative
// batches branching from the database's current live root, whose
// finalizer (once wired to this PagedDb as its multihead.RootSink)
// advances db's live root under db's own batch lock.
func (db *PagedDb) OpenMultiHeadChain(autoFinalizeAfter uint32) *multihead.MultiHeadChain {
	db.mu.Lock()
	base := db.liveRoot
	db.mu.Unlock()
	return multihead.NewChain(db, base, autoFinalizeAfter)
}

// PageManager implements multihead.RootSink.
func (db *PagedDb) PageManager() pager.PageManager { return db.pm }

// NextRootSlot implements multihead.RootSink, reusing the same ring
// slot derivation plain batches commit into.
func (db *PagedDb) NextRootSlot(batchID uint32) page.Address { return db.slotFor(batchID) }

// FinalizeRoot implements multihead.RootSink: under db's batch lock,
// it advances the live root to newRoot. It does not touch writerOpen
// — a multi-head chain's finalizer is a second, independent commit
// path alongside BeginNextBatch/Commit, not unified with the plain
// single-writer slot in this implementation.
func (db *PagedDb) FinalizeRoot(rootSlotAddr page.Address, newRoot root.RootPage) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if newRoot.BatchID() > db.liveRoot.BatchID() {
		db.liveRoot = newRoot
		db.log.Infof("multi-head finalize advanced live root to batch %d (slot %d)", newRoot.BatchID(), rootSlotAddr)
	}
}
