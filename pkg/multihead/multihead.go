// Package multihead implements spec.md §4.7's multi-head chain: an
// in-memory overlay that lets several speculative write batches branch
// from a common root and stay co-resident — proposed, read from, and
// either finalized (persisted, in order) or left to be garbage
// collected once nothing references them.
//
// Head and Reader are grounded on pkg/batch.Batch's trie.PageSource
// shape (the same get_new_page/get_writable_copy/register_for_future_reuse
// contract, just backed by private in-memory buffers instead of a
// pager.PageManager); ProposedBatch's ancestor-chain lookup mirrors
// pkg/cowbtree/versioned_store.go's CowVersionedStore, which keys a
// version chain by a parent pointer the same way a ProposedBatch is
// keyed by parent_hash. Reader leasing is grounded on
// pkg/cowbtree/epoch.go's EpochManager/ReaderGuard: a reference count
// taken on Enter and released on Leave, here taken per ancestor a
// Head or Reader depends on rather than per global epoch.
//
// The finalizer's single-consumer-over-a-channel shape has no
// precedent in the teacher or the rest of the example pack — a grep
// across every example repo under _examples/ turns up no goroutine or
// channel anywhere — so it is a plain standard-library worker-queue
// idiom added here to satisfy spec.md §4.7's "single consumer task",
// not an adaptation of existing pack code.
package multihead

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/pager"
	"github.com/NethermindEth/Paprika-sub000/pkg/paplog"
	"github.com/NethermindEth/Paprika-sub000/pkg/root"
	"github.com/NethermindEth/Paprika-sub000/pkg/trie"
)

var (
	// ErrUnknownStateHash is returned when a state hash names no
	// proposed batch and is not the chain's current base root either.
	ErrUnknownStateHash = errors.New("multihead: unknown state hash")
	// ErrChainClosed is raised by any operation after Close.
	ErrChainClosed = errors.New("multihead: chain is closed")
	// ErrHeadClosed mirrors spec.md §7's BatchClosed for a disposed
	// Head or Reader.
	ErrHeadClosed = errors.New("multihead: operation on a disposed head")
	// ErrReadOnlyHead is raised by any mutating call on a Reader.
	ErrReadOnlyHead = errors.New("multihead: write attempted on a read-only reader")
)

// RootSink is the subset of pkg/paprikadb.PagedDb the finalizer needs:
// a ring slot to write a finalized root into, and a way to swap the
// live root under the batch lock once that write lands. Expressed as
// an interface so this package never imports pkg/paprikadb (that
// package imports this one instead, wiring itself in as the sink).
type RootSink interface {
	PageManager() pager.PageManager
	NextRootSlot(batchID uint32) page.Address
	FinalizeRoot(rootSlotAddr page.Address, newRoot root.RootPage)
}

// ProposedBatch is a self-contained, reference-counted write batch
// overlaying the file: the pages it wrote, the addresses it abandoned,
// and the root snapshot those changes produced. It is kept alive by a
// combination of the chain's own registry entry and any Head or
// Reader leasing it as an ancestor.
type ProposedBatch struct {
	batchID    uint32
	parentHash [32]byte
	stateHash  [32]byte
	root       root.RootPage
	pages      map[page.Address]page.Page
	addrOf     map[uintptr]page.Address
	abandoned  []page.Address

	refCount int32
}

func (pb *ProposedBatch) retain() int32  { return atomic.AddInt32(&pb.refCount, 1) }
func (pb *ProposedBatch) release() int32 { return atomic.AddInt32(&pb.refCount, -1) }

// BatchID is the batch id this proposed batch was assigned when its
// Head committed.
func (pb *ProposedBatch) BatchID() uint32 { return pb.batchID }

// StateHash is the state hash produced by this batch, used to address
// it from MultiHeadChain.OpenHead/OpenReader/Finalize.
func (pb *ProposedBatch) StateHash() [32]byte { return pb.stateHash }

// ParentHash is the state hash this batch branched from.
func (pb *ProposedBatch) ParentHash() [32]byte { return pb.parentHash }

// Head is an in-progress multi-head transaction: it reads from (base
// root + ancestor proposed batches + its own pending overrides) and
// implements trie.PageSource so pkg/trie and pkg/root can operate on
// it exactly as they do on a pkg/batch.Batch.
type Head struct {
	chain     *MultiHeadChain
	ancestors []*ProposedBatch // nearest (highest batch id) first

	root    root.RootPage
	batchID uint32

	pages     map[page.Address]page.Page
	addrOf    map[uintptr]page.Address
	abandoned []page.Address
	idCache   map[string]uint32

	disposed bool
}

func newHead(chain *MultiHeadChain, ancestors []*ProposedBatch, parentRoot root.RootPage) *Head {
	batchID := chain.allocateBatchID()

	buf := page.NewZero()
	copy(buf.Bytes(), parentRoot.Page().Bytes())
	hdr := buf.Header()
	hdr.BatchID = batchID
	buf.SetHeader(hdr)

	return &Head{
		chain:     chain,
		ancestors: ancestors,
		root:      root.Wrap(buf),
		batchID:   batchID,
		pages:     make(map[page.Address]page.Page),
		addrOf:    make(map[uintptr]page.Address),
		idCache:   make(map[string]uint32),
	}
}

func (h *Head) panicIfDisposed() {
	if h.disposed {
		panic(ErrHeadClosed)
	}
}

// BatchID is this head's prospective batch id, per trie.PageSource.
func (h *Head) BatchID() uint32 { return h.batchID }

// Root returns the head's private, in-progress RootPage.
func (h *Head) Root() root.RootPage { return h.root }

func (h *Head) store(addr page.Address, p page.Page) {
	h.pages[addr] = p
	h.addrOf[uintptr(unsafe.Pointer(&p.Bytes()[0]))] = addr
}

// GetAt implements spec.md §4.7's head read path: local overrides
// first, then ancestor proposed batches nearest-first (so the highest
// batch id among them wins on a shared address), then the file.
func (h *Head) GetAt(addr page.Address) page.Page {
	h.panicIfDisposed()
	if p, ok := h.pages[addr]; ok {
		return p
	}
	for _, a := range h.ancestors {
		if p, ok := a.pages[addr]; ok {
			return p
		}
	}
	return h.chain.pm.GetAt(addr)
}

// GetForWriting returns a page this head already owns. Nothing in
// pkg/trie calls it directly (it only ever reaches pages through
// GetNewPage/GetWritableCopy), so an address this head does not
// already hold is a caller error.
func (h *Head) GetForWriting(addr page.Address, reused bool) page.Page {
	h.panicIfDisposed()
	if p, ok := h.pages[addr]; ok {
		return p
	}
	panic(fmt.Errorf("multihead: GetForWriting on address %d not owned by this head", addr))
}

// GetAddress inverts GetAt over this head's own pages, its ancestors',
// or the file's.
func (h *Head) GetAddress(p page.Page) (page.Address, error) {
	h.panicIfDisposed()
	key := uintptr(unsafe.Pointer(&p.Bytes()[0]))
	if addr, ok := h.addrOf[key]; ok {
		return addr, nil
	}
	for _, a := range h.ancestors {
		if addr, ok := a.addrOf[key]; ok {
			return addr, nil
		}
	}
	return h.chain.pm.GetAddress(p)
}

// GetNewPage allocates a fresh, in-memory-only page from the chain's
// shared bump counter (see MultiHeadChain.allocate): every head
// branching from the same chain draws from one counter so that
// whichever branch is eventually finalized needs no address remapping
// against the real file.
func (h *Head) GetNewPage(clear bool) (page.Page, page.Address) {
	h.panicIfDisposed()
	addr := h.chain.allocate()
	p := page.Wrap(make([]byte, page.Size))
	hdr := p.Header()
	hdr.BatchID = h.batchID
	p.SetHeader(hdr)
	h.store(addr, p)
	return p, addr
}

// GetWritableCopy mirrors pkg/batch.Batch.GetWritableCopy: a page
// already owned by this head is returned unchanged; otherwise a COW
// copy is allocated in memory and the source address recorded as
// abandoned.
func (h *Head) GetWritableCopy(addr page.Address) (page.Page, page.Address) {
	h.panicIfDisposed()
	if p, ok := h.pages[addr]; ok {
		return p, addr
	}
	src := h.GetAt(addr)
	newPage, newAddr := h.GetNewPage(false)
	copy(newPage.Bytes(), src.Bytes())
	hdr := newPage.Header()
	hdr.BatchID = h.batchID
	newPage.SetHeader(hdr)
	h.abandoned = append(h.abandoned, addr)
	return newPage, newAddr
}

// RegisterForFutureReuse records addr as abandoned by this head. A
// Head does not keep pkg/batch.Batch's reused_immediately fast path:
// nothing reuses a virtual address before its branch is finalized, so
// every registration simply becomes a candidate for the real
// AbandonedList once (and if) this head's batch is finalized.
func (h *Head) RegisterForFutureReuse(addr page.Address, possibleImmediateReuse bool) {
	h.panicIfDisposed()
	h.abandoned = append(h.abandoned, addr)
}

func idCacheKey(accountPath page.NibblePath) string { return string(accountPath.Bytes()) }

func (h *Head) resolveID(accountPath page.NibblePath, allocate bool) (uint32, bool) {
	key := idCacheKey(accountPath)
	if id, ok := h.idCache[key]; ok {
		return id, true
	}
	if allocate {
		idsRoot, counter, id := trie.SetIDsFanOut(h, h.root.IDsRoot(), h.root.AccountCounter(), accountPath)
		h.root.SetIDsRoot(idsRoot)
		h.root.SetAccountCounter(counter)
		h.idCache[key] = id
		return id, true
	}
	id, ok := trie.TryGetIDsFanOut(h, h.root.IDsRoot(), accountPath)
	if ok {
		h.idCache[key] = id
	}
	return id, ok
}

// TryGet implements spec.md §4.5's try_get for an in-progress head.
func (h *Head) TryGet(key root.Key) ([]byte, bool) {
	h.panicIfDisposed()
	if !key.IsStorage {
		return root.TryGet(h, h.root, key)
	}
	id, ok := h.resolveID(key.AccountPath, false)
	if !ok {
		return nil, false
	}
	return trie.TryGetStorageFanOut(h, h.root.StorageRoot(), id, key.StoragePath)
}

// SetRaw implements spec.md §4.5's set_raw for an in-progress head.
func (h *Head) SetRaw(key root.Key, value []byte) {
	h.panicIfDisposed()
	if !key.IsStorage {
		root.Set(h, h.root, key, value)
		return
	}
	id, _ := h.resolveID(key.AccountPath, true)
	h.root.SetStorageRoot(trie.SetStorageFanOut(h, h.root.StorageRoot(), id, key.StoragePath, value))
}

// Destroy implements spec.md §4.5's destroy.
func (h *Head) Destroy(account page.NibblePath) {
	h.panicIfDisposed()
	if !h.root.IDsRoot().IsNull() {
		h.root.SetIDsRoot(trie.DeleteByPrefix(h, h.root.IDsRoot(), account))
	}
	if !h.root.StateRoot().IsNull() {
		root.Set(h, h.root, root.StateKey(account), nil)
	}
	delete(h.idCache, idCacheKey(account))
}

// DeleteByPrefix implements spec.md §4.5's delete_by_prefix.
func (h *Head) DeleteByPrefix(prefix page.NibblePath) {
	h.panicIfDisposed()
	if !h.root.StateRoot().IsNull() {
		h.root.SetStateRoot(trie.DeleteByPrefix(h, h.root.StateRoot(), prefix))
	}
}

// SetMetadata implements spec.md §4.5's set_metadata.
func (h *Head) SetMetadata(blockNumber uint32, blockHash [32]byte) {
	h.panicIfDisposed()
	h.root.SetBlockNumber(blockNumber)
	h.root.SetBlockHash(blockHash)
}

// Dispose discards the head without committing it, releasing its
// leases on every ancestor it held.
func (h *Head) Dispose() {
	if h.disposed {
		return
	}
	h.disposed = true
	h.chain.release(h.ancestors)
}

// Commit packages h's private overrides into a new ProposedBatch,
// registers it in the chain, and returns both that batch and a fresh
// Head continuing on top of it, per spec.md §4.7's "advance the head
// to a fresh in-memory root". h itself is disposed; its ancestor
// leases transfer to the returned Head (which also leases the new
// ProposedBatch).
func (h *Head) Commit() (*ProposedBatch, *Head, error) {
	h.panicIfDisposed()

	parentHash := h.chain.baseRoot.StateHash()
	if len(h.ancestors) > 0 {
		parentHash = h.ancestors[0].stateHash
	}

	pages := make(map[page.Address]page.Page, len(h.pages))
	for a, p := range h.pages {
		pages[a] = p
	}
	addrOf := make(map[uintptr]page.Address, len(h.addrOf))
	for k, v := range h.addrOf {
		addrOf[k] = v
	}

	pb := &ProposedBatch{
		batchID:    h.batchID,
		parentHash: parentHash,
		stateHash:  h.root.StateHash(),
		root:       h.root,
		pages:      pages,
		addrOf:     addrOf,
		abandoned:  append([]page.Address(nil), h.abandoned...),
		refCount:   1, // held by the chain's own registry entry
	}

	if err := h.chain.register(pb); err != nil {
		return nil, nil, err
	}

	nextAncestors := append([]*ProposedBatch{pb}, h.ancestors...)
	for _, a := range nextAncestors {
		a.retain()
	}
	next := newHead(h.chain, nextAncestors, pb.root)

	h.disposed = true
	h.chain.release(h.ancestors)

	return pb, next, nil
}

var _ trie.PageSource = (*Head)(nil)

// Reader is a read-only head reader for a given state hash, holding
// leases on every proposed batch between that state hash and the
// chain's base root.
type Reader struct {
	chain     *MultiHeadChain
	ancestors []*ProposedBatch
	root      root.RootPage
	disposed  bool
}

func (r *Reader) panicIfDisposed() {
	if r.disposed {
		panic(ErrHeadClosed)
	}
}

// BatchID is the batch id of the state this reader observes.
func (r *Reader) BatchID() uint32 { return r.root.BatchID() }

// GetAt implements the same ancestor-then-file read path as Head.GetAt.
func (r *Reader) GetAt(addr page.Address) page.Page {
	r.panicIfDisposed()
	for _, a := range r.ancestors {
		if p, ok := a.pages[addr]; ok {
			return p
		}
	}
	return r.chain.pm.GetAt(addr)
}

func (r *Reader) GetForWriting(addr page.Address, reused bool) page.Page {
	panic(ErrReadOnlyHead)
}

// GetAddress inverts GetAt over this reader's ancestors or the file.
func (r *Reader) GetAddress(p page.Page) (page.Address, error) {
	key := uintptr(unsafe.Pointer(&p.Bytes()[0]))
	for _, a := range r.ancestors {
		if addr, ok := a.addrOf[key]; ok {
			return addr, nil
		}
	}
	return r.chain.pm.GetAddress(p)
}

func (r *Reader) GetNewPage(clear bool) (page.Page, page.Address) {
	panic(ErrReadOnlyHead)
}

func (r *Reader) GetWritableCopy(addr page.Address) (page.Page, page.Address) {
	panic(ErrReadOnlyHead)
}

func (r *Reader) RegisterForFutureReuse(addr page.Address, possibleImmediateReuse bool) {
	panic(ErrReadOnlyHead)
}

var _ trie.PageSource = (*Reader)(nil)

// TryGet implements spec.md §4.5's try_get for a read-only reader.
func (r *Reader) TryGet(key root.Key) ([]byte, bool) {
	r.panicIfDisposed()
	if !key.IsStorage {
		return root.TryGet(r, r.root, key)
	}
	id, ok := trie.TryGetIDsFanOut(r, r.root.IDsRoot(), key.AccountPath)
	if !ok {
		return nil, false
	}
	return trie.TryGetStorageFanOut(r, r.root.StorageRoot(), id, key.StoragePath)
}

// StateHash is the state hash this reader observes.
func (r *Reader) StateHash() [32]byte { return r.root.StateHash() }

// Release ends this reader's leases on every ancestor it held.
func (r *Reader) Release() {
	if r.disposed {
		return
	}
	r.disposed = true
	r.chain.release(r.ancestors)
}

// finalizeRequest is the (batch_chain, completion_signal) tuple
// spec.md §4.7 describes, collapsed to "finalize everything up to and
// including this batch id" since the chain's order slice is already
// the contiguous batch_chain. done is nil for auto-finalization
// triggers, which are fire-and-forget.
type finalizeRequest struct {
	upTo uint32
	done chan error
}

// MultiHeadChain is the registry of live ProposedBatches, indexed by
// state hash and by batch id, plus the finalization queue and the
// shared virtual bump counter every Head under this chain allocates
// from.
type MultiHeadChain struct {
	mu   sync.RWMutex
	sink RootSink
	pm   pager.PageManager
	log  *paplog.Logger

	baseRoot      root.RootPage
	baseNextFree  uint32
	bump          uint32
	batchCounter  uint32
	autoFinalizeN uint32

	byStateHash map[[32]byte]*ProposedBatch
	byBatchID   map[uint32]*ProposedBatch
	order       []*ProposedBatch

	closed     bool
	finalizeCh chan finalizeRequest
	wg         sync.WaitGroup
}

// NewChain opens a multi-head chain overlaying sink's current live
// root. autoFinalizeAfter is spec.md §6's open_multi_head_chain
// parameter: once more than this many proposed batches are pending,
// the oldest is offered to the finalizer automatically; 0 disables
// auto-finalization (the host must call Finalize explicitly).
func NewChain(sink RootSink, base root.RootPage, autoFinalizeAfter uint32) *MultiHeadChain {
	c := &MultiHeadChain{
		sink:          sink,
		pm:            sink.PageManager(),
		log:           paplog.Default("multihead"),
		baseRoot:      base,
		baseNextFree:  uint32(base.NextFreePage()),
		bump:          uint32(base.NextFreePage()),
		batchCounter:  base.BatchID(),
		autoFinalizeN: autoFinalizeAfter,
		byStateHash:   make(map[[32]byte]*ProposedBatch),
		byBatchID:     make(map[uint32]*ProposedBatch),
		finalizeCh:    make(chan finalizeRequest, 16),
	}
	c.wg.Add(1)
	go c.runFinalizer()
	return c
}

// allocate draws the next virtual page address from the chain's
// shared counter.
func (c *MultiHeadChain) allocate() page.Address {
	return page.Address(atomic.AddUint32(&c.bump, 1) - 1)
}

// allocateBatchID draws the next globally unique batch id for a new
// Head, from a counter shared across every branch of this chain —
// sibling heads never reuse each other's batch id, unlike PagedDb's
// single-writer "parent id + 1" scheme, since a multi-head chain can
// have several heads with the same parent.
func (c *MultiHeadChain) allocateBatchID() uint32 {
	return atomic.AddUint32(&c.batchCounter, 1)
}

func (c *MultiHeadChain) lookupLocked(stateHash *[32]byte) ([]*ProposedBatch, root.RootPage, error) {
	if stateHash == nil {
		return nil, c.baseRoot, nil
	}
	cur, ok := c.byStateHash[*stateHash]
	if !ok {
		return nil, root.RootPage{}, ErrUnknownStateHash
	}
	var chainList []*ProposedBatch
	for cur != nil {
		chainList = append(chainList, cur)
		cur = c.byStateHash[cur.parentHash]
	}
	return chainList, c.baseRoot, nil
}

// OpenHead opens a new in-progress transaction branching from
// stateHash (the chain's current base root if nil).
func (c *MultiHeadChain) OpenHead(stateHash *[32]byte) (*Head, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChainClosed
	}
	ancestors, baseRoot, err := c.lookupLocked(stateHash)
	if err != nil {
		return nil, err
	}
	parentRoot := baseRoot
	if len(ancestors) > 0 {
		parentRoot = ancestors[0].root
	}
	for _, a := range ancestors {
		a.retain()
	}
	return newHead(c, ancestors, parentRoot), nil
}

// OpenReader opens a read-only reader of stateHash (the chain's
// current base root if nil).
func (c *MultiHeadChain) OpenReader(stateHash *[32]byte) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChainClosed
	}
	ancestors, baseRoot, err := c.lookupLocked(stateHash)
	if err != nil {
		return nil, err
	}
	r := baseRoot
	if len(ancestors) > 0 {
		r = ancestors[0].root
	}
	for _, a := range ancestors {
		a.retain()
	}
	return &Reader{chain: c, ancestors: ancestors, root: r}, nil
}

func (c *MultiHeadChain) release(ancestors []*ProposedBatch) {
	for _, a := range ancestors {
		a.release()
	}
}

// register records pb in the chain's indices and, once more than
// autoFinalizeN batches are pending, offers the oldest one to the
// finalizer.
func (c *MultiHeadChain) register(pb *ProposedBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChainClosed
	}
	c.byStateHash[pb.stateHash] = pb
	c.byBatchID[pb.batchID] = pb
	c.order = append(c.order, pb)

	if c.autoFinalizeN > 0 && uint32(len(c.order)) > c.autoFinalizeN {
		c.offerOldestLocked()
	}
	return nil
}

func (c *MultiHeadChain) offerOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	select {
	case c.finalizeCh <- finalizeRequest{upTo: c.order[0].batchID}:
	default:
		// The finalizer is still catching up on a previous request;
		// it will reach this batch once its queue drains.
	}
}

// Finalize blocks until every pending batch up to and including the
// one that produced stateHash has been persisted and the live root
// advanced.
func (c *MultiHeadChain) Finalize(stateHash [32]byte) error {
	c.mu.RLock()
	pb, ok := c.byStateHash[stateHash]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrChainClosed
	}
	if !ok {
		return ErrUnknownStateHash
	}
	done := make(chan error, 1)
	c.finalizeCh <- finalizeRequest{upTo: pb.batchID, done: done}
	return <-done
}

func (c *MultiHeadChain) runFinalizer() {
	defer c.wg.Done()
	for req := range c.finalizeCh {
		err := c.finalizeUpTo(req.upTo)
		if req.done != nil {
			req.done <- err
		}
	}
}

// finalizeUpTo implements spec.md §4.7's finalizer: persist every
// page written by the contiguous run of pending batches up to upTo,
// fold their abandoned addresses into the root's AbandonedList, write
// the resulting root into the next ring slot, then take the batch
// lock (via c.sink.FinalizeRoot) to swap the live root.
//
// Only abandoned addresses below baseNextFree are registered: those
// are real file addresses the finalized chain is actually freeing.
// Addresses above that line were virtual-only pages some head in this
// chain allocated and then immediately superseded before ever being
// persisted; they are simply never written, a one-time gap in the
// bump counter rather than a reusable page, which trades a small
// amount of permanently unused address space for not having to track
// which virtual pages survived to the final, persisted root.
func (c *MultiHeadChain) finalizeUpTo(upTo uint32) error {
	c.mu.Lock()
	var toPersist []*ProposedBatch
	for len(c.order) > 0 && c.order[0].batchID <= upTo {
		toPersist = append(toPersist, c.order[0])
		c.order = c.order[1:]
	}
	c.mu.Unlock()

	if len(toPersist) == 0 {
		return nil
	}
	c.log.Debugf("finalizing %d proposed batch(es) up to batch %d", len(toPersist), upTo)

	var written []page.Address
	for _, pb := range toPersist {
		for addr, p := range pb.pages {
			dst := c.pm.GetForWriting(addr, false)
			copy(dst.Bytes(), p.Bytes())
			written = append(written, addr)
		}
	}
	if err := c.pm.WritePages(written, pager.FlushDataOnly); err != nil {
		c.log.Errorf("finalize: writing %d pages failed: %v", len(written), err)
		return fmt.Errorf("multihead: finalize: write pages: %w", err)
	}

	final := toPersist[len(toPersist)-1]
	al := final.root.Abandoned()
	for _, pb := range toPersist {
		var real []page.Address
		for _, a := range pb.abandoned {
			if uint32(a) < c.baseNextFree {
				real = append(real, a)
			}
		}
		if len(real) > 0 {
			al.Register(c.pm, real, pb.batchID)
		}
	}
	final.root.SetAbandoned(al)

	slot := c.sink.NextRootSlot(final.batchID)
	dst := c.pm.GetForWriting(slot, true)
	copy(dst.Bytes(), final.root.Page().Bytes())
	result := root.Wrap(dst)
	if err := c.pm.WriteRoot(slot, pager.FlushDataAndRoot); err != nil {
		c.log.Errorf("finalize: writing root to slot %d failed: %v", slot, err)
		return fmt.Errorf("multihead: finalize: write root: %w", err)
	}

	c.sink.FinalizeRoot(slot, result)
	c.log.Infof("finalized through batch %d into slot %d", final.batchID, slot)

	c.mu.Lock()
	c.baseRoot = result
	for _, pb := range toPersist {
		delete(c.byStateHash, pb.stateHash)
		delete(c.byBatchID, pb.batchID)
		pb.release()
	}
	c.mu.Unlock()

	return nil
}

// Close drains the finalizer queue and stops its goroutine. Any
// proposed batches never finalized are simply dropped once their
// reference count reaches zero.
func (c *MultiHeadChain) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.finalizeCh)
	c.wg.Wait()
}
