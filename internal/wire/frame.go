package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Stream framing carries packets over ordered byte streams (TCP relays,
// pipes in tests) where datagram boundaries are lost.
const (
	FramePacket byte = 0x01
	FramePing   byte = 0x02
	FramePong   byte = 0x03

	// FrameVersion is checked on every frame.
	FrameVersion uint16 = 1

	FrameHeaderSize = 8 // 2 + 1 + 1 + 4
	MaxFrameSize    = 64 * 1024
)

// FrameHeader precedes every frame on a stream.
type FrameHeader struct {
	Version  uint16
	Type     byte
	Reserved byte
	Length   uint32
}

// WriteFrame writes a framed payload.
func WriteFrame(w io.Writer, frameType byte, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(payload), MaxFrameSize)
	}

	buf := getWriter()
	defer putWriter(buf)

	buf.u16(FrameVersion)
	buf.u8(frameType)
	buf.u8(0)
	buf.u32(uint32(len(payload)))
	buf.raw(payload)

	if _, err := w.Write(buf.buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one framed payload.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var headerBuf [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	header := FrameHeader{
		Version: binary.LittleEndian.Uint16(headerBuf[0:2]),
		Type:    headerBuf[2],
		Length:  binary.LittleEndian.Uint32(headerBuf[4:8]),
	}

	if header.Version != FrameVersion {
		return 0, nil, fmt.Errorf("version mismatch: got %d, want %d", header.Version, FrameVersion)
	}
	if header.Length > MaxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d > %d", header.Length, MaxFrameSize)
	}

	var body []byte
	if header.Length > 0 {
		body = make([]byte, header.Length)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("read body: %w", err)
		}
	}
	return header.Type, body, nil
}
