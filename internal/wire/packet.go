package wire

import (
	"fmt"

	"generals-net/internal/netcmd"
)

// Field tags.
const (
	tagType   = 'T'
	tagFrame  = 'F'
	tagRelay  = 'R'
	tagPlayer = 'P'
	tagID     = 'C'
	tagData   = 'D'
)

// fullHeaderSize is the size of a command header with every tag present.
const fullHeaderSize = 2 + 5 + 2 + 2 + 3 + 1

// wrapperDataSize is the fixed part of a wrapper's data section.
const wrapperDataSize = 2 + 4*5

// WrapperOverhead is how many bytes of a packet a wrapper uses besides the
// chunk it carries.
const WrapperOverhead = fullHeaderSize + wrapperDataSize

// Decoded is one command read from a packet.
type Decoded struct {
	Msg   netcmd.Msg
	Relay uint8
}

// fieldState is the header seen by the previous command in a packet.
type fieldState struct {
	started bool
	typ     netcmd.CommandType
	frame   uint32
	relay   uint8
	player  uint8
	lastID  uint16
	haveID  bool
}

func (s *fieldState) encode(w *writer, msg netcmd.Msg, relay uint8) error {
	h := msg.Base()
	t := msg.Type()
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, t)
	}

	if !s.started || s.typ != t {
		w.u8(tagType)
		w.u8(uint8(t))
		s.typ = t
	}
	if !s.started || s.frame != h.ExecutionFrame {
		w.u8(tagFrame)
		w.u32(h.ExecutionFrame)
		s.frame = h.ExecutionFrame
	}
	if !s.started || s.relay != relay {
		w.u8(tagRelay)
		w.u8(relay)
		s.relay = relay
	}
	newPlayer := !s.started || s.player != h.PlayerID
	if newPlayer {
		w.u8(tagPlayer)
		w.u8(h.PlayerID)
		s.player = h.PlayerID
	}
	if t.RequiresCommandID() {
		if newPlayer || !s.haveID || s.lastID+1 != h.ID {
			w.u8(tagID)
			w.u16(h.ID)
		}
		s.lastID = h.ID
		s.haveID = true
	}
	s.started = true

	w.u8(tagData)
	return writeData(w, msg)
}

// Packet accumulates commands until the next one would not fit.
type Packet struct {
	max   int
	count int
	state fieldState
	w     writer
}

// NewPacket returns an empty packet limited to maxSize bytes.
func NewPacket(maxSize int) *Packet {
	return &Packet{max: maxSize, w: writer{buf: make([]byte, 0, maxSize)}}
}

// Add appends msg if it fits. It returns false, leaving the packet
// unchanged, when it does not.
func (p *Packet) Add(msg netcmd.Msg, relay uint8) (bool, error) {
	scratch := getWriter()
	defer putWriter(scratch)

	state := p.state
	if err := state.encode(scratch, msg, relay); err != nil {
		return false, err
	}
	if len(p.w.buf)+len(scratch.buf) > p.max {
		if p.count == 0 {
			return false, errTooLarge("command", len(scratch.buf), p.max)
		}
		return false, nil
	}
	p.w.raw(scratch.buf)
	p.state = state
	p.count++
	return true, nil
}

// Bytes returns the encoded packet. The slice is reused after Reset.
func (p *Packet) Bytes() []byte { return p.w.buf }

// Len returns the encoded size.
func (p *Packet) Len() int { return len(p.w.buf) }

// Count returns the number of commands in the packet.
func (p *Packet) Count() int { return p.count }

// Reset empties the packet for reuse.
func (p *Packet) Reset() {
	p.w.reset()
	p.state = fieldState{}
	p.count = 0
}

// EncodeCommand encodes msg on its own with every header field present.
func EncodeCommand(msg netcmd.Msg, relay uint8) ([]byte, error) {
	w := getWriter()
	defer putWriter(w)

	var state fieldState
	if err := state.encode(w, msg, relay); err != nil {
		return nil, err
	}
	return append([]byte(nil), w.buf...), nil
}

// DecodePacket reads every command in data.
func DecodePacket(data []byte) ([]Decoded, error) {
	r := &reader{data: data}
	var (
		out    []Decoded
		typ    = netcmd.TypeGameCommand
		frame  uint32
		relay  uint8
		player uint8
		lastID uint16
		id     uint16
		haveID bool
	)

	for r.remaining() > 0 {
		tag := r.u8()
		switch tag {
		case tagType:
			typ = netcmd.CommandType(r.u8())
		case tagFrame:
			frame = r.u32()
		case tagRelay:
			relay = r.u8()
		case tagPlayer:
			player = r.u8()
		case tagID:
			id = r.u16()
			haveID = true
		case tagData:
			msg, err := readData(r, typ)
			if err != nil {
				return out, err
			}
			h := msg.Base()
			h.ExecutionFrame = frame
			h.PlayerID = player
			if typ.RequiresCommandID() {
				if !haveID {
					id = lastID + 1
				}
				h.ID = id
				lastID = id
			}
			haveID = false
			out = append(out, Decoded{Msg: msg, Relay: relay})
		default:
			return out, fmt.Errorf("%w: 0x%02x at offset %d", ErrBadTag, tag, r.off-1)
		}
		if r.err != nil {
			return out, r.err
		}
	}
	return out, nil
}

// DecodeCommand reads a single command encoded by EncodeCommand.
func DecodeCommand(data []byte) (Decoded, error) {
	cmds, err := DecodePacket(data)
	if err != nil {
		return Decoded{}, err
	}
	if len(cmds) != 1 {
		return Decoded{}, fmt.Errorf("%w: expected one command, found %d", ErrBadChunk, len(cmds))
	}
	return cmds[0], nil
}
