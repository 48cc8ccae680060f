// Package pcapfile defines the on-disk capture-file layout: the file
// header, per-packet header, and padding-packet records used to round
// segments up to the disk block size.
package pcapfile

import (
	"encoding/binary"
	"fmt"

	"github.com/gopacket/gopacket/layers"
)

const (
	// MagicNanoseconds selects the nanosecond-resolution timestamp
	// variant of the classic capture file format.
	MagicNanoseconds uint32 = 0xA1B23C4D

	VersionMajor uint16 = 2
	VersionMinor uint16 = 4

	// FileHeaderSize is the fixed size of the file preface in bytes.
	FileHeaderSize = 24

	// PacketHeaderSize is the fixed size of a per-packet record header.
	PacketHeaderSize = 16

	// padLiteral is repeated to fill a PadPacket's payload.
	padLiteral = "Padding packet, please ignore. "

	// minPadPayloadLen is the smallest a PadPacket payload may be; with
	// the header the shortest pad record is 16+14 = 30 bytes.
	minPadPayloadLen = 14
)

// LinkTypeEthernet is the network field value for Ethernet link layer,
// matching spec.md's LINKTYPE_ETHERNET=1 (also gopacket's LinkTypeEthernet).
var LinkTypeEthernet = uint32(layers.LinkTypeEthernet)

// FileHeader is the fixed 24-byte capture-file preface.
type FileHeader struct {
	Magic      uint32
	VerMajor   uint16
	VerMinor   uint16
	ThisZone   int32
	SigFigs    uint32
	Snaplen    uint32
	LinkType   uint32
}

// NewFileHeader builds a header for the given snaplen using the
// nanosecond-resolution magic and Ethernet link type.
func NewFileHeader(snaplen uint32) FileHeader {
	return FileHeader{
		Magic:    MagicNanoseconds,
		VerMajor: VersionMajor,
		VerMinor: VersionMinor,
		ThisZone: 0,
		SigFigs:  0,
		Snaplen:  snaplen,
		LinkType: LinkTypeEthernet,
	}
}

// Marshal writes the header in little-endian byte order into a 24-byte
// buffer.
func (h FileHeader) Marshal() [FileHeaderSize]byte {
	var buf [FileHeaderSize]byte
	order := binary.LittleEndian
	order.PutUint32(buf[0:4], h.Magic)
	order.PutUint16(buf[4:6], h.VerMajor)
	order.PutUint16(buf[6:8], h.VerMinor)
	order.PutUint32(buf[8:12], uint32(h.ThisZone))
	order.PutUint32(buf[12:16], h.SigFigs)
	order.PutUint32(buf[16:20], h.Snaplen)
	order.PutUint32(buf[20:24], h.LinkType)
	return buf
}

// UnmarshalFileHeader parses a 24-byte buffer into a FileHeader.
func UnmarshalFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("pcapfile: short file header: %d bytes", len(buf))
	}
	order := binary.LittleEndian
	h := FileHeader{
		Magic:    order.Uint32(buf[0:4]),
		VerMajor: order.Uint16(buf[4:6]),
		VerMinor: order.Uint16(buf[6:8]),
		ThisZone: int32(order.Uint32(buf[8:12])),
		SigFigs:  order.Uint32(buf[12:16]),
		Snaplen:  order.Uint32(buf[16:20]),
		LinkType: order.Uint32(buf[20:24]),
	}
	if h.Magic != MagicNanoseconds {
		return h, fmt.Errorf("pcapfile: unexpected magic %#x", h.Magic)
	}
	return h, nil
}

// PacketHeader is the fixed 16-byte per-record preface.
type PacketHeader struct {
	Seconds        uint32
	Nanoseconds    uint32
	CapturedLength uint32
	WireLength     uint32
}

// Marshal writes the header in little-endian byte order into a 16-byte buffer.
func (h PacketHeader) Marshal() [PacketHeaderSize]byte {
	var buf [PacketHeaderSize]byte
	order := binary.LittleEndian
	order.PutUint32(buf[0:4], h.Seconds)
	order.PutUint32(buf[4:8], h.Nanoseconds)
	order.PutUint32(buf[8:12], h.CapturedLength)
	order.PutUint32(buf[12:16], h.WireLength)
	return buf
}

// UnmarshalPacketHeader parses a 16-byte buffer into a PacketHeader.
func UnmarshalPacketHeader(buf []byte) (PacketHeader, error) {
	if len(buf) < PacketHeaderSize {
		return PacketHeader{}, fmt.Errorf("pcapfile: short packet header: %d bytes", len(buf))
	}
	order := binary.LittleEndian
	return PacketHeader{
		Seconds:        order.Uint32(buf[0:4]),
		Nanoseconds:    order.Uint32(buf[4:8]),
		CapturedLength: order.Uint32(buf[8:12]),
		WireLength:     order.Uint32(buf[12:16]),
	}, nil
}

// PadPacket renders a well-formed capture record of exactly padLen bytes
// (header included) whose payload is the filler literal repeated. padLen
// must be at least PacketHeaderSize+minPadPayloadLen.
func PadPacket(padLen int) ([]byte, error) {
	if padLen < PacketHeaderSize+minPadPayloadLen {
		return nil, fmt.Errorf("pcapfile: pad length %d too small for a well-formed record", padLen)
	}
	payloadLen := padLen - PacketHeaderSize
	hdr := PacketHeader{
		CapturedLength: uint32(payloadLen),
		WireLength:     uint32(payloadLen),
	}
	buf := make([]byte, padLen)
	h := hdr.Marshal()
	copy(buf, h[:])
	fillPadLiteral(buf[PacketHeaderSize:])
	return buf, nil
}

func fillPadLiteral(dst []byte) {
	for n := 0; n < len(dst); n += len(padLiteral) {
		copy(dst[n:], padLiteral)
	}
}
