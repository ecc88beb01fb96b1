package one

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// QID names a queue on the device. QIDs are issued by the device and are
// unique for the lifetime of the queue they name.
type QID uint32

// QIDNone asks the device to allocate a fresh QID when creating a queue.
const QIDNone QID = 0

// Flags is the packet header flags field.
type Flags uint32

// FlagNone is the only flags value currently defined.
const FlagNone Flags = 0

// HeaderSize is the encoded size of a Header in bytes.
const HeaderSize = 16

// ErrTruncated is returned by Walk when a packet's declared size runs
// past the end of the buffer.
var ErrTruncated = errors.New("truncated packet")

// Header precedes every packet payload on the wire. Fields are encoded
// in the host's byte order, in declaration order, four bytes each.
type Header struct {
	QID          QID
	Flags        Flags
	Size         uint32
	Uncompressed uint32
}

// NewHeader returns the header for a payload of size bytes destined for
// qid. Uncompressed always equals Size until compression exists.
func NewHeader(qid QID, size int) Header {
	return Header{
		QID:          qid,
		Flags:        FlagNone,
		Size:         uint32(size),
		Uncompressed: uint32(size),
	}
}

// PacketSize returns the number of bytes the header and its payload
// occupy in a receive buffer.
func (h Header) PacketSize() int {
	return HeaderSize + int(h.Size)
}

// Put encodes h into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.NativeEndian.PutUint32(b[0:4], uint32(h.QID))
	binary.NativeEndian.PutUint32(b[4:8], uint32(h.Flags))
	binary.NativeEndian.PutUint32(b[8:12], h.Size)
	binary.NativeEndian.PutUint32(b[12:16], h.Uncompressed)
}

// Bytes returns h encoded in a fresh HeaderSize slice.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// ParseHeader decodes a header from the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, have %d: %w", HeaderSize, len(b), ErrTruncated)
	}
	return Header{
		QID:          QID(binary.NativeEndian.Uint32(b[0:4])),
		Flags:        Flags(binary.NativeEndian.Uint32(b[4:8])),
		Size:         binary.NativeEndian.Uint32(b[8:12]),
		Uncompressed: binary.NativeEndian.Uint32(b[12:16]),
	}, nil
}

// Walk calls fn for each packet in buf, in buffer order. The payload
// slice aliases buf and is only valid until fn returns.
//
// Walk stops at the first packet whose header or payload would extend
// past len(buf); packets before it have already been passed to fn. It
// returns the number of packets passed to fn.
func Walk(buf []byte, fn func(h Header, payload []byte)) (int, error) {
	n := 0
	offset := 0
	for offset < len(buf) {
		h, err := ParseHeader(buf[offset:])
		if err != nil {
			return n, fmt.Errorf("packet %d at offset %d: %w", n, offset, err)
		}
		next := offset + h.PacketSize()
		if next > len(buf) {
			return n, fmt.Errorf("packet %d at offset %d declares %d payload bytes, only %d received: %w",
				n, offset, h.Size, len(buf)-offset-HeaderSize, ErrTruncated)
		}
		fn(h, buf[offset+HeaderSize:next])
		n++
		offset = next
	}
	return n, nil
}

// Append appends a packet for qid carrying payload to buf. It is the
// encoder counterpart of Walk.
func Append(buf []byte, qid QID, payload []byte) []byte {
	var hdr [HeaderSize]byte
	NewHeader(qid, len(payload)).Put(hdr[:])
	buf = append(buf, hdr[:]...)
	return append(buf, payload...)
}
