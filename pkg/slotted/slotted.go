// Package slotted implements SlottedArray, the in-page ordered map
// used by every trie page variant: a classic slotted-page layout with
// a growing slot table at the front of the buffer and a growing value
// heap at the back, fingerprinted for fast lookup and repacked on
// demand when deletions leave enough garbage behind.
package slotted

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/NethermindEth/Paprika-sub000/pkg/encoding"
	"github.com/NethermindEth/Paprika-sub000/pkg/page"
)

const (
	headerSize = 4 // numSlots uint16, heapStart uint16
	slotSize   = 5 // status byte, fingerprint uint16, heapOffset uint16

	statusFree     = 0
	statusOccupied = 1
)

// fingerprint hashes a packed key into a 16-bit value used to skip
// full-key comparisons on lookup; collisions are resolved by
// comparing the full stored key. FNV-1a takes no per-process seed, so
// fingerprints stored in a page still match when the page is read
// back by another process.
func fingerprint(keyBytes []byte) uint16 {
	h := fnv.New64a()
	h.Write(keyBytes)
	sum := h.Sum64()
	fp := uint16(sum)
	if fp == 0 {
		// No lookup relies on it, but avoid an all-zero fingerprint
		// so a zeroed, never-written slot can't be mistaken for a
		// real entry by accident during debugging.
		fp = 1
	}
	return fp
}

// Array is a SlottedArray view over an externally-owned byte buffer
// (typically a trie page's payload region).
type Array struct {
	buf []byte
}

// New wraps buf as a fresh, empty SlottedArray. buf's contents are
// overwritten.
func New(buf []byte) Array {
	a := Array{buf: buf}
	a.setNumSlots(0)
	a.setHeapStart(uint16(len(buf)))
	return a
}

// Wrap views an existing, already-initialized buffer as a
// SlottedArray (e.g. re-opening a page read from disk).
func Wrap(buf []byte) Array {
	return Array{buf: buf}
}

func (a Array) numSlots() uint16      { return binary.LittleEndian.Uint16(a.buf[0:2]) }
func (a Array) setNumSlots(n uint16)  { binary.LittleEndian.PutUint16(a.buf[0:2], n) }
func (a Array) heapStart() uint16     { return binary.LittleEndian.Uint16(a.buf[2:4]) }
func (a Array) setHeapStart(n uint16) { binary.LittleEndian.PutUint16(a.buf[2:4], n) }

func (a Array) slotOffset(i uint16) int { return headerSize + int(i)*slotSize }

func (a Array) slotStatus(i uint16) byte {
	return a.buf[a.slotOffset(i)]
}
func (a Array) setSlotStatus(i uint16, s byte) {
	a.buf[a.slotOffset(i)] = s
}
func (a Array) slotFingerprint(i uint16) uint16 {
	o := a.slotOffset(i)
	return binary.LittleEndian.Uint16(a.buf[o+1 : o+3])
}
func (a Array) setSlotFingerprint(i uint16, fp uint16) {
	o := a.slotOffset(i)
	binary.LittleEndian.PutUint16(a.buf[o+1:o+3], fp)
}
func (a Array) slotHeapOffset(i uint16) uint16 {
	o := a.slotOffset(i)
	return binary.LittleEndian.Uint16(a.buf[o+3 : o+5])
}
func (a Array) setSlotHeapOffset(i uint16, off uint16) {
	o := a.slotOffset(i)
	binary.LittleEndian.PutUint16(a.buf[o+3:o+5], off)
}

// heapEntry layout at offset: [nibbleLen varint][keyBytes][valueLen varint][valueBytes].
// Both lengths are page-local sizes (well under 2^14), so they almost
// always cost a single varint byte instead of the fixed two a uint16
// would spend on every entry.
func heapEntrySize(nibbleLen int, valueLen int) int {
	return encoding.VarintLen(uint64(nibbleLen)) + (nibbleLen+1)/2 +
		encoding.VarintLen(uint64(valueLen)) + valueLen
}

func (a Array) readHeapEntry(off uint16) (key page.NibblePath, value []byte) {
	buf := a.buf[off:]
	nibbleLen64, n := encoding.GetVarint(buf)
	nibbleLen := int(nibbleLen64)
	keyBytes := (nibbleLen + 1) / 2
	keyStart := n
	keyRaw := buf[keyStart : keyStart+keyBytes]
	valLenOff := keyStart + keyBytes
	valueLen64, m := encoding.GetVarint(buf[valLenOff:])
	valueLen := int(valueLen64)
	valStart := valLenOff + m
	value = buf[valStart : valStart+valueLen]
	key = page.FromBytes(keyRaw)
	key.Len = nibbleLen
	return key, value
}

func (a Array) writeHeapEntry(off uint16, key page.NibblePath, value []byte) {
	// Page payloads are well under 2^14 bytes, so nibbleLen and
	// valueLen never reach PutVarint's 9-byte special case; passing
	// the full remaining slice (rather than a fixed 9-byte window)
	// avoids slicing past the end of a small trailing entry.
	buf := a.buf[off:]
	n := encoding.PutVarint(buf, uint64(key.Length()))
	keyBytes := key.Bytes()
	keyStart := n
	copy(buf[keyStart:keyStart+len(keyBytes)], keyBytes)
	valLenOff := keyStart + len(keyBytes)
	m := encoding.PutVarint(buf[valLenOff:], uint64(len(value)))
	valStart := valLenOff + m
	copy(buf[valStart:valStart+len(value)], value)
}

// find returns the slot index holding key, or (0, false).
func (a Array) find(key page.NibblePath) (uint16, bool) {
	fp := fingerprint(key.Bytes())
	n := a.numSlots()
	for i := uint16(0); i < n; i++ {
		if a.slotStatus(i) != statusOccupied {
			continue
		}
		if a.slotFingerprint(i) != fp {
			continue
		}
		k, _ := a.readHeapEntry(a.slotHeapOffset(i))
		if k.Equal(key) {
			return i, true
		}
	}
	return 0, false
}

func (a Array) freeSlot() (uint16, bool) {
	n := a.numSlots()
	for i := uint16(0); i < n; i++ {
		if a.slotStatus(i) == statusFree {
			return i, true
		}
	}
	return n, false
}

// usedHeapBytes returns the number of live (non-garbage) bytes
// currently referenced by occupied slots.
func (a Array) usedHeapBytes() int {
	total := 0
	n := a.numSlots()
	for i := uint16(0); i < n; i++ {
		if a.slotStatus(i) != statusOccupied {
			continue
		}
		k, v := a.readHeapEntry(a.slotHeapOffset(i))
		total += heapEntrySize(k.Length(), len(v))
	}
	return total
}

// freeHeapSpace returns the number of unused bytes between the end of
// the slot table and the current heap start.
func (a Array) freeHeapSpace() int {
	slotTableEnd := headerSize + int(a.numSlots())*slotSize
	return int(a.heapStart()) - slotTableEnd
}

// garbageBytes returns bytes trapped in the heap by entries whose
// slot is no longer occupied or has since moved.
func (a Array) garbageBytes() int {
	total := int(len(a.buf)) - int(a.heapStart()) - a.usedHeapBytes()
	if total < 0 {
		total = 0
	}
	return total
}

// Defragment repacks the heap, discarding garbage left by deletes and
// in-place-grown updates.
func (a Array) Defragment() {
	type entry struct {
		slot  uint16
		key   page.NibblePath
		value []byte
	}
	n := a.numSlots()
	var entries []entry
	for i := uint16(0); i < n; i++ {
		if a.slotStatus(i) != statusOccupied {
			continue
		}
		k, v := a.readHeapEntry(a.slotHeapOffset(i))
		kk := page.FromBytes(append([]byte(nil), k.Bytes()...))
		kk.Len = k.Length()
		entries = append(entries, entry{i, kk, append([]byte(nil), v...)})
	}

	write := uint16(len(a.buf))
	for _, e := range entries {
		size := heapEntrySize(e.key.Length(), len(e.value))
		write -= uint16(size)
		a.writeHeapEntry(write, e.key, e.value)
		a.setSlotHeapOffset(e.slot, write)
	}
	a.setHeapStart(write)
}

// TrySet inserts or updates key with value. Returns false iff the
// page would be overfilled even after defragmentation, in which case
// the caller must reorganize (split, flush a bucket down, etc.).
func (a Array) TrySet(key page.NibblePath, value []byte) bool {
	if i, ok := a.find(key); ok {
		existingOff := a.slotHeapOffset(i)
		existingKey, existingVal := a.readHeapEntry(existingOff)
		if len(value) <= len(existingVal) {
			a.writeHeapEntry(existingOff, existingKey, value)
			return true
		}
		// Grows in place: old heap bytes become garbage, a fresh
		// entry is appended to the heap for the same slot.
		return a.allocateAndWrite(i, key, value, 0)
	}

	slot, hasFree := a.freeSlot()
	extraSlotBytes := 0
	if !hasFree {
		extraSlotBytes = slotSize
	}
	return a.allocateAndWrite(slot, key, value, extraSlotBytes)
}

// allocateAndWrite reserves heap space for key/value (defragmenting
// once if needed) and binds it to slot, growing the slot table first
// if extraSlotBytes is non-zero (slot wasn't a reused free slot).
func (a Array) allocateAndWrite(slot uint16, key page.NibblePath, value []byte, extraSlotBytes int) bool {
	need := heapEntrySize(key.Length(), len(value)) + extraSlotBytes
	if a.freeHeapSpace() < need {
		a.Defragment()
		if a.freeHeapSpace() < need {
			return false
		}
	}

	if extraSlotBytes > 0 {
		slot = a.numSlots()
		a.setNumSlots(slot + 1)
	}

	size := heapEntrySize(key.Length(), len(value))
	newStart := a.heapStart() - uint16(size)
	a.writeHeapEntry(newStart, key, value)
	a.setHeapStart(newStart)
	a.setSlotStatus(slot, statusOccupied)
	a.setSlotFingerprint(slot, fingerprint(key.Bytes()))
	a.setSlotHeapOffset(slot, newStart)
	return true
}

// TryGet returns the value stored for key, if any. A present entry
// with a zero-length value is a tombstone: found is true, value is
// empty.
func (a Array) TryGet(key page.NibblePath) (value []byte, found bool) {
	i, ok := a.find(key)
	if !ok {
		return nil, false
	}
	_, v := a.readHeapEntry(a.slotHeapOffset(i))
	return v, true
}

// Delete removes key's slot entirely (distinct from storing a
// zero-length tombstone value via TrySet). Returns true iff key was
// present.
func (a Array) Delete(key page.NibblePath) bool {
	i, ok := a.find(key)
	if !ok {
		return false
	}
	a.setSlotStatus(i, statusFree)
	return true
}

// Entry is one (key, value) pair yielded by enumeration.
type Entry struct {
	Key   page.NibblePath
	Value []byte
}

// EnumerateAll yields every stored entry, tombstones included.
func (a Array) EnumerateAll() []Entry {
	var out []Entry
	n := a.numSlots()
	for i := uint16(0); i < n; i++ {
		if a.slotStatus(i) != statusOccupied {
			continue
		}
		k, v := a.readHeapEntry(a.slotHeapOffset(i))
		out = append(out, Entry{Key: k, Value: v})
	}
	return out
}

// EnumerateNibble yields every entry whose first remaining nibble
// equals n, used to flush a nibble bucket down to a child page.
func (a Array) EnumerateNibble(n uint8) []Entry {
	var out []Entry
	for _, e := range a.EnumerateAll() {
		if e.Key.Length() > 0 && e.Key.FirstNibble() == n {
			out = append(out, e)
		}
	}
	return out
}

// MoveNonEmptyKeysTo moves every entry with a non-empty value into
// dest. When treatEmptyAsTombstone is true, entries with an empty
// value are also moved (as tombstones), propagating deletes into
// dest; entries not moved are left untouched. Returns false if dest
// overflowed partway through (a should then be left as-is by the
// caller and the operation retried after reorganizing dest).
func (a Array) MoveNonEmptyKeysTo(dest Array, treatEmptyAsTombstone bool) bool {
	for _, e := range a.EnumerateAll() {
		if len(e.Value) == 0 && !treatEmptyAsTombstone {
			continue
		}
		if !dest.TrySet(e.Key, e.Value) {
			return false
		}
		a.Delete(e.Key)
	}
	return true
}

// RemoveKeysFrom deletes from a every key present in other.
func (a Array) RemoveKeysFrom(other Array) {
	for _, e := range other.EnumerateAll() {
		a.Delete(e.Key)
	}
}

// GatherCountStats1Nibble returns, for each of the 16 possible first
// nibbles, the number of stored keys starting with that nibble.
func (a Array) GatherCountStats1Nibble() [16]int {
	var stats [16]int
	for _, e := range a.EnumerateAll() {
		if e.Key.Length() > 0 {
			stats[e.Key.FirstNibble()]++
		}
	}
	return stats
}

// GatherSizeStats1Nibble returns, for each of the 16 possible first
// nibbles, the total heap bytes occupied by keys starting with that
// nibble.
func (a Array) GatherSizeStats1Nibble() [16]int {
	var stats [16]int
	for _, e := range a.EnumerateAll() {
		if e.Key.Length() > 0 {
			stats[e.Key.FirstNibble()] += heapEntrySize(e.Key.Length(), len(e.Value))
		}
	}
	return stats
}

// HasAny reports whether any stored entry satisfies pred.
func (a Array) HasAny(pred func(page.NibblePath) bool) bool {
	for _, e := range a.EnumerateAll() {
		if pred(e.Key) {
			return true
		}
	}
	return false
}

// Len returns the number of occupied slots.
func (a Array) Len() int {
	count := 0
	n := a.numSlots()
	for i := uint16(0); i < n; i++ {
		if a.slotStatus(i) == statusOccupied {
			count++
		}
	}
	return count
}
