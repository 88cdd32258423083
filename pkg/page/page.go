// Package page defines the fixed-size page buffer, its on-disk header,
// the page address space, and the nibble-keyed path type shared by
// every typed page variant built on top of it.
package page

import (
	"encoding/binary"
	"fmt"
)

// Size is the fixed size, in bytes, of every page in the database.
const Size = 4096

// HeaderSize is the size of PageHeader at the start of every page.
const HeaderSize = 8

// PayloadSize is the number of bytes available to a page's typed
// payload after the header.
const PayloadSize = Size - HeaderSize

// Type identifies which typed view a page's payload should be
// interpreted through.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeRoot
	TypeDataPage
	TypeBottomPage
	TypeLeafOverflow
	TypeStorageFanOutL1
	TypeStorageFanOutL2
	TypeAbandoned
)

func (t Type) String() string {
	switch t {
	case TypeRoot:
		return "root"
	case TypeDataPage:
		return "data"
	case TypeBottomPage:
		return "bottom"
	case TypeLeafOverflow:
		return "leaf-overflow"
	case TypeStorageFanOutL1:
		return "storage-fanout-1"
	case TypeStorageFanOutL2:
		return "storage-fanout-2"
	case TypeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// FormatVersion is written into every page header so a reopened file
// can detect a layout this build no longer understands.
const FormatVersion uint8 = 1

// Metadata bits used by DataPage to record its Leaf/Fanout mode; other
// page types may use the byte for their own single-byte flags.
const (
	MetaDataPageLeaf   uint8 = 0
	MetaDataPageFanout uint8 = 1
)

// Header is the 8-byte prefix present on every page: the batch that
// last wrote it, its type tag, its depth within the trie (where
// applicable), a single metadata byte, and a format version.
//
// batch_id is the central mechanism for copy-on-write detection: a
// page may be mutated in place only by the batch that owns its
// current batch_id.
type Header struct {
	BatchID uint32
	Type    Type
	Level   uint8
	Meta    uint8
	Version uint8
}

// Encode writes the header into the first HeaderSize bytes of dst.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.BatchID)
	dst[4] = uint8(h.Type)
	dst[5] = h.Level
	dst[6] = h.Meta
	dst[7] = h.Version
}

// DecodeHeader reads a Header from the first HeaderSize bytes of src.
func DecodeHeader(src []byte) Header {
	_ = src[HeaderSize-1]
	return Header{
		BatchID: binary.LittleEndian.Uint32(src[0:4]),
		Type:    Type(src[4]),
		Level:   src[5],
		Meta:    src[6],
		Version: src[7],
	}
}

// Page is a raw fixed-size page buffer: an 8-byte Header followed by
// PayloadSize bytes of typed payload. Every in-memory page is a view
// over bytes owned by a PageManager (file-backed, for historical
// pages) or by a batch's private write buffer (for pages currently
// being written).
type Page struct {
	buf []byte
}

// Wrap builds a Page view over an existing Size-byte buffer. The
// buffer is not copied; mutations through the returned Page mutate buf.
func Wrap(buf []byte) Page {
	if len(buf) != Size {
		panic(fmt.Sprintf("page: buffer must be %d bytes, got %d", Size, len(buf)))
	}
	return Page{buf: buf}
}

// NewZero allocates a fresh, zeroed page buffer.
func NewZero() Page {
	return Page{buf: make([]byte, Size)}
}

// Bytes returns the full underlying buffer, header included.
func (p Page) Bytes() []byte { return p.buf }

// Payload returns the mutable payload region following the header.
func (p Page) Payload() []byte { return p.buf[HeaderSize:] }

// Header reads the page's header.
func (p Page) Header() Header { return DecodeHeader(p.buf) }

// SetHeader overwrites the page's header in place.
func (p Page) SetHeader(h Header) { h.Encode(p.buf) }
