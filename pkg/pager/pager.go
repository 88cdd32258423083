// Package pager implements the PageManager external interface the
// core consumes: a fixed-size page address space backed by a single
// pre-sized file (or, for DangerNoWrite test/bench mode, an anonymous
// in-memory region), with durable writes gated by commit options.
package pager

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
)

// CommitOption controls how much durability a write operation demands,
// exhaustively enumerating spec.md §4.1's four commit options.
type CommitOption uint8

const (
	// FlushDataAndRoot persists data pages, then the root, then fsyncs.
	FlushDataAndRoot CommitOption = iota
	// FlushDataOnly persists data pages and the root, but skips the
	// fsync of the root.
	FlushDataOnly
	// DangerNoFlush persists bytes but skips fsync entirely.
	DangerNoFlush
	// DangerNoWrite is in-memory only; for tests and benchmarks.
	DangerNoWrite
)

// PageManager is the interface the core consumes for every durable
// page access. Implementations own the in-file (or in-memory) byte
// storage; the core only ever sees typed views over pages this
// interface hands back.
type PageManager interface {
	// GetAt returns the canonical view of a page. Read-only for
	// historical pages; callers must not mutate the returned bytes
	// unless they also hold the address via GetForWriting.
	GetAt(addr page.Address) page.Page

	// GetForWriting returns a mutable view bound to addr. If
	// reused is false, the returned page may contain arbitrary
	// bytes and the caller must clear or overwrite it; if true, the
	// address was recycled from the abandoned list and the caller
	// is about to overwrite it deliberately (e.g. as the COW
	// destination of an existing page's contents).
	GetForWriting(addr page.Address, reused bool) page.Page

	// GetAddress is the inverse of GetAt/GetForWriting for
	// file-backed pages.
	GetAddress(p page.Page) (page.Address, error)

	// WritePages schedules durable writes of the given set of
	// addresses (already mutated in place via GetForWriting) under
	// the given commit option.
	WritePages(addrs []page.Address, opt CommitOption) error

	// WriteRoot persists a root slot under the given commit option.
	WriteRoot(addr page.Address, opt CommitOption) error

	// Flush blocks until previously written pages are durable.
	Flush() error

	// Prefetch is a hint only; implementations may ignore it.
	Prefetch(addr page.Address)

	// PageCount returns the number of Size-byte pages currently
	// addressable in the backing storage.
	PageCount() uint32

	// Grow extends the backing storage to hold at least n pages.
	Grow(n uint32) error

	// Close releases the backing storage.
	Close() error
}

var (
	// ErrOutOfRange is returned when an address falls outside the
	// currently allocated storage.
	ErrOutOfRange = errors.New("pager: address out of range")
	// ErrUnknownPage is returned by GetAddress when a page view was
	// not handed out by this PageManager.
	ErrUnknownPage = errors.New("pager: page not recognized by this manager")
)

// storage is the subset of Storage (mmap-backed or in-memory) this
// package depends on; satisfied by both *MmapFile and *MemoryStorage.
type storage interface {
	Size() int64
	Slice(offset, length int) []byte
	Sync() error
	Grow(newSize int64) error
	Close() error
}

// Manager is the PageManager implementation used by this engine. It
// maps DbAddresses to offsets into a single contiguous byte region,
// either a memory-mapped file or (in DangerNoWrite mode) an anonymous
// in-process buffer.
type Manager struct {
	mu      sync.RWMutex
	store   storage
	noWrite bool

	// addrOf maps the address of a handed-out page's first byte to
	// its DbAddress, so GetAddress can invert GetAt/GetForWriting
	// without the core having to thread addresses through every
	// Page value it holds. This is the "arena + indices" pattern
	// spec.md's design notes call for: a stable index recovered from
	// a pointer into the arena rather than a second owning pointer.
	addrOf map[uintptr]page.Address
}

// Open opens (creating if necessary) a pager backed by the file at
// path, pre-sized to at least minPages pages. When path is empty, an
// anonymous in-memory region is used instead (DangerNoWrite-only
// engines never touch disk).
func Open(path string, minPages uint32) (*Manager, error) {
	size := int64(minPages) * page.Size
	if size < page.Size {
		size = page.Size
	}

	var st storage
	var err error
	if path == "" {
		st, err = NewMemoryStorage(size)
	} else {
		st, err = OpenMmapFile(path, size)
	}
	if err != nil {
		return nil, fmt.Errorf("pager: open: %w", err)
	}

	return &Manager{
		store:   st,
		noWrite: path == "",
		addrOf:  make(map[uintptr]page.Address),
	}, nil
}

// PageCount returns the number of addressable pages.
func (m *Manager) PageCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(m.store.Size() / page.Size)
}

// Grow extends the backing storage so that addresses [0,n) are valid.
func (m *Manager) Grow(n uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Grow(int64(n) * page.Size)
}

func (m *Manager) slice(addr page.Address) ([]byte, error) {
	off := int64(addr) * page.Size
	if off < 0 || off+page.Size > m.store.Size() {
		return nil, ErrOutOfRange
	}
	return m.store.Slice(int(off), page.Size), nil
}

func (m *Manager) track(buf []byte, addr page.Address) page.Page {
	key := uintptr(unsafe.Pointer(&buf[0]))
	m.mu.Lock()
	m.addrOf[key] = addr
	m.mu.Unlock()
	return page.Wrap(buf)
}

// GetAt returns the canonical view of addr.
func (m *Manager) GetAt(addr page.Address) page.Page {
	m.mu.RLock()
	buf, err := m.slice(addr)
	m.mu.RUnlock()
	if err != nil {
		panic(fmt.Sprintf("pager: GetAt(%d): %v", addr, err))
	}
	return m.track(buf, addr)
}

// GetForWriting returns a mutable view bound to addr. See the
// PageManager interface doc for the meaning of reused; this
// implementation does not itself clear or preserve bytes based on
// reused — that decision belongs to the caller, per spec.md §4.1.
func (m *Manager) GetForWriting(addr page.Address, reused bool) page.Page {
	_ = reused
	return m.GetAt(addr)
}

// GetAddress inverts GetAt/GetForWriting for a page this manager
// handed out.
func (m *Manager) GetAddress(p page.Page) (page.Address, error) {
	buf := p.Bytes()
	if len(buf) == 0 {
		return page.Null, ErrUnknownPage
	}
	key := uintptr(unsafe.Pointer(&buf[0]))
	m.mu.RLock()
	addr, ok := m.addrOf[key]
	m.mu.RUnlock()
	if !ok {
		return page.Null, ErrUnknownPage
	}
	return addr, nil
}

// WritePages schedules durable writes. Because pages are mutated
// directly in the mapped region by the caller, "writing" them here
// only means applying the requested durability barrier; DangerNoWrite
// managers never back onto real storage a crash could observe, so
// they skip it unconditionally.
func (m *Manager) WritePages(addrs []page.Address, opt CommitOption) error {
	if m.noWrite || opt == DangerNoWrite {
		return nil
	}
	if opt == DangerNoFlush {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.store.Sync(); err != nil {
		return fmt.Errorf("pager: write_pages sync: %w", err)
	}
	return nil
}

// WriteRoot persists a root slot. The root is always written after
// the data pages it references (enforced by call order in
// pkg/batch), so a crash between the two durability barriers this
// method may apply leaves the previous root live.
func (m *Manager) WriteRoot(addr page.Address, opt CommitOption) error {
	if m.noWrite || opt == DangerNoWrite || opt == DangerNoFlush {
		return nil
	}
	if opt != FlushDataAndRoot {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.store.Sync(); err != nil {
		return fmt.Errorf("pager: write_root sync: %w", err)
	}
	return nil
}

// Flush blocks until previously written pages are durable.
func (m *Manager) Flush() error {
	if m.noWrite {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Sync()
}

// Prefetch is a hint; mapped pages are already demand-paged by the
// OS, so this implementation ignores it.
func (m *Manager) Prefetch(addr page.Address) {}

// Close releases the backing storage.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Close()
}
