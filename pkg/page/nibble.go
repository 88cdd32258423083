package page

// NibblePath is a key expressed as an ordered sequence of 4-bit
// nibbles. The engine never interprets byte boundaries in a key: two
// paths of the same nibble length and content compare equal
// regardless of where they started within their backing bytes.
//
// A path is a view over raw bytes starting at a given nibble offset
// (0 or 1, the "odd" alignment) and running for Len nibbles.
type NibblePath struct {
	raw    []byte
	offset int // starting nibble offset within raw[0], 0 or 1
	Len    int // number of nibbles in the path
}

// FromBytes builds a NibblePath covering every nibble of b.
func FromBytes(b []byte) NibblePath {
	return NibblePath{raw: b, offset: 0, Len: len(b) * 2}
}

// NibbleOf builds a single-nibble path holding n, used when composing
// a child's key prefix one bucket index at a time.
func NibbleOf(n uint8) NibblePath {
	return NibblePath{raw: []byte{n << 4}, offset: 0, Len: 1}
}

// Odd reports whether the path starts on the low nibble of raw[0]
// (offset 1) rather than the high nibble (offset 0).
func (p NibblePath) Odd() bool { return p.offset == 1 }

// Length returns the number of nibbles in the path.
func (p NibblePath) Length() int { return p.Len }

// NibbleAt returns the nibble at position i (0-indexed from the start
// of the path), in the range [0,16).
func (p NibblePath) NibbleAt(i int) uint8 {
	if i < 0 || i >= p.Len {
		panic("page: nibble index out of range")
	}
	total := p.offset + i
	b := p.raw[total/2]
	if total%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// FirstNibble returns NibbleAt(0). Callers must ensure Len > 0.
func (p NibblePath) FirstNibble() uint8 { return p.NibbleAt(0) }

// SliceFrom returns the sub-path starting at nibble n (n may equal
// Len, yielding an empty path).
func (p NibblePath) SliceFrom(n int) NibblePath {
	if n < 0 || n > p.Len {
		panic("page: slice_from out of range")
	}
	total := p.offset + n
	return NibblePath{
		raw:    p.raw[total/2:],
		offset: total % 2,
		Len:    p.Len - n,
	}
}

// Append concatenates other onto the end of p, using scratch as the
// backing store for the result (scratch must have room for at least
// (p.Len+other.Len+1)/2 bytes). The returned path is independent of p
// and other's backing arrays.
func (p NibblePath) Append(other NibblePath, scratch []byte) NibblePath {
	total := p.Len + other.Len
	need := (total + 1) / 2
	if cap(scratch) < need {
		scratch = make([]byte, need)
	}
	scratch = scratch[:need]
	out := NibblePath{raw: scratch, offset: 0, Len: total}
	for i := 0; i < p.Len; i++ {
		out.setNibble(i, p.NibbleAt(i))
	}
	for i := 0; i < other.Len; i++ {
		out.setNibble(p.Len+i, other.NibbleAt(i))
	}
	return out
}

func (p NibblePath) setNibble(i int, v uint8) {
	total := p.offset + i
	idx := total / 2
	if total%2 == 0 {
		p.raw[idx] = (p.raw[idx] & 0x0f) | (v << 4)
	} else {
		p.raw[idx] = (p.raw[idx] & 0xf0) | (v & 0x0f)
	}
}

// Equal reports whether p and q hold the same nibble sequence.
func (p NibblePath) Equal(q NibblePath) bool {
	if p.Len != q.Len {
		return false
	}
	for i := 0; i < p.Len; i++ {
		if p.NibbleAt(i) != q.NibbleAt(i) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p starts with every nibble of prefix.
func (p NibblePath) HasPrefix(prefix NibblePath) bool {
	if prefix.Len > p.Len {
		return false
	}
	for i := 0; i < prefix.Len; i++ {
		if p.NibbleAt(i) != prefix.NibbleAt(i) {
			return false
		}
	}
	return true
}

// Bytes packs the path into its own minimal byte slice, for use as a
// map key or for hashing. The odd/even alignment is folded away: the
// result always starts at nibble offset 0.
func (p NibblePath) Bytes() []byte {
	out := make([]byte, (p.Len+1)/2)
	packed := NibblePath{raw: out, offset: 0, Len: p.Len}
	for i := 0; i < p.Len; i++ {
		packed.setNibble(i, p.NibbleAt(i))
	}
	return out
}
