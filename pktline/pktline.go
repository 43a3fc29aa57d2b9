// Package pktline implements the length-prefixed framing used by the version 1
// macaroon wire format.
//
// A packet is laid out as
//
//	LLLL field SP value LF
//
// where LLLL is four hex digits holding the total packet length, including
// the four digits themselves.
package pktline

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// PrefixLen is the number of hex digits that prefix every packet.
	PrefixLen = 4

	// MaxPacketLen is the largest packet length that can be expressed by
	// the four digit prefix.
	MaxPacketLen = 65535
)

var (
	// ErrPacketTooLarge is returned when a field and value can't be framed
	// because the resulting packet would exceed MaxPacketLen.
	ErrPacketTooLarge = errors.New("packet too large to serialize")

	// ErrPacketLength is returned when a packet's length prefix can't be
	// decoded or the declared length doesn't fit the buffer.
	ErrPacketLength = errors.New("unable to decode packet length, or " +
		"packet too long")

	// ErrMalformedPacket is returned when a packet is missing the space
	// after its field name or its trailing newline.
	ErrMalformedPacket = errors.New("packet not properly structured")
)

// Packet is a single decoded field record.
type Packet struct {
	// Field is the name of the field.
	Field string

	// Value holds the raw field value without the trailing newline.
	Value []byte

	// Len is the total number of bytes the packet occupied in the buffer,
	// used by the caller to advance to the next packet.
	Len int
}

// Len returns the framed size of a packet holding the given field and value.
func Len(field string, value []byte) int {
	return PrefixLen + len(field) + len(value) + 2
}

// Encode appends the packet for the given field and value to dst and returns
// the extended buffer. If the packet would exceed MaxPacketLen, dst is
// returned unchanged along with ErrPacketTooLarge.
func Encode(dst []byte, field string, value []byte) ([]byte, error) {
	size := Len(field, value)
	if size > MaxPacketLen {
		return dst, fmt.Errorf("%w: field %q is %d bytes",
			ErrPacketTooLarge, field, size)
	}

	var prefix [PrefixLen / 2]byte
	prefix[0] = byte(size >> 8)
	prefix[1] = byte(size)

	dst = hex.AppendEncode(dst, prefix[:])
	dst = append(dst, field...)
	dst = append(dst, ' ')
	dst = append(dst, value...)
	dst = append(dst, '\n')

	return dst, nil
}

// Decode parses the packet that starts at offset in buf.
func Decode(buf []byte, offset int) (Packet, error) {
	if offset < 0 || len(buf)-offset < PrefixLen {
		return Packet{}, fmt.Errorf("%w: truncated length prefix at "+
			"offset %d", ErrPacketLength, offset)
	}

	var prefix [PrefixLen / 2]byte
	_, err := hex.Decode(prefix[:], buf[offset:offset+PrefixLen])
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrPacketLength, err)
	}
	size := int(prefix[0])<<8 | int(prefix[1])

	switch {
	case size < PrefixLen:
		return Packet{}, fmt.Errorf("%w: declared length %d shorter "+
			"than prefix", ErrPacketLength, size)

	case size > len(buf)-offset:
		return Packet{}, fmt.Errorf("%w: declared length %d exceeds "+
			"remaining %d bytes", ErrPacketLength, size,
			len(buf)-offset)
	}

	body := buf[offset+PrefixLen : offset+size]

	sep := bytes.IndexByte(body, ' ')
	if sep < 0 {
		return Packet{}, fmt.Errorf("%w: no field separator",
			ErrMalformedPacket)
	}

	// The value runs from just after the separator up to the final byte,
	// which must be the newline terminator.
	rest := body[sep+1:]
	if len(rest) == 0 || rest[len(rest)-1] != '\n' {
		return Packet{}, fmt.Errorf("%w: packet not newline "+
			"terminated", ErrMalformedPacket)
	}

	return Packet{
		Field: string(body[:sep]),
		Value: bytes.Clone(rest[:len(rest)-1]),
		Len:   size,
	}, nil
}
