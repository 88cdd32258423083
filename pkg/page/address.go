package page

// Address is a 32-bit page index into the database file. Zero is a
// reserved sentinel (Null) except for the 0th root slot, which is
// addressed specially by the caller rather than through Address(0)
// appearing inside a trie.
type Address uint32

// Null is the reserved "no page" address.
const Null Address = 0

// IsNull reports whether a is the reserved sentinel.
func (a Address) IsNull() bool { return a == Null }

// MaxAddress bounds page addresses to 31 bits, matching spec.md's
// packing invariant for AbandonedPage entries ("page addresses fit in
// 31 bits (database size ≤ 8 TB at 4 KB pages)").
const MaxAddress = Address(1<<31 - 1)
