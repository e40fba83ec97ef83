// Package wire encodes lockstep commands into datagrams.
//
// A packet is a run of commands. Each command is a set of one-letter tagged
// header fields followed by a 'D' and the command's data. Header fields are
// only written when they differ from the previous command in the same
// packet, so a burst of commands from one player for one frame costs little
// more than its data.
//
//	'T' u8   command type
//	'F' u32  execution frame
//	'R' u8   relay mask
//	'P' u8   player slot
//	'C' u16  command id (omitted when it is the previous id plus one)
//	'D' ...  command data
//
// All integers are little-endian.
package wire

import (
	"errors"
	"fmt"

	"generals-net/internal/netcmd"
	"generals-net/internal/sim"
)

var (
	ErrTruncated      = errors.New("wire: truncated data")
	ErrUnknownCommand = errors.New("wire: unknown command type")
	ErrBadTag         = errors.New("wire: bad field tag")
	ErrTooLarge       = errors.New("wire: value too large")
	ErrNotWrappable   = errors.New("wire: command has no id and cannot be wrapped")
	ErrBadChunk       = errors.New("wire: inconsistent wrapper chunk")
	ErrDigestMismatch = errors.New("wire: file digest mismatch")
)

func errTooLarge(what string, n, limit int) error {
	return fmt.Errorf("%w: %s is %d, limit %d", ErrTooLarge, what, n, limit)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

func writeData(w *writer, msg netcmd.Msg) error {
	switch m := msg.(type) {
	case *netcmd.GameCommand:
		return writeGameCommand(w, m)
	case *netcmd.AckBoth:
		writeAck(w, &m.Ack)
	case *netcmd.AckStage1:
		writeAck(w, &m.Ack)
	case *netcmd.AckStage2:
		writeAck(w, &m.Ack)
	case *netcmd.FrameInfo:
		w.u16(m.CommandCount)
	case *netcmd.PlayerLeave:
		w.u8(m.LeavingPlayerID)
	case *netcmd.RunAheadMetrics:
		w.f32(m.AverageLatency)
		w.u16(m.AverageFps)
	case *netcmd.RunAhead:
		w.u16(m.RunAhead)
		w.u8(m.FrameRate)
	case *netcmd.DestroyPlayer:
		w.u32(m.PlayerIndex)
	case *netcmd.KeepAlive, *netcmd.DisconnectKeepAlive,
		*netcmd.PacketRouterQuery, *netcmd.PacketRouterAck,
		*netcmd.LoadComplete, *netcmd.TimeOutStart:
		// header only
	case *netcmd.DisconnectPlayer:
		w.u8(m.DisconnectSlot)
		w.u32(m.DisconnectFrame)
	case *netcmd.DisconnectChat:
		return w.unicode(m.Text)
	case *netcmd.Chat:
		if err := w.unicode(m.Text); err != nil {
			return err
		}
		w.i32(m.PlayerMask)
	case *netcmd.DisconnectVote:
		w.u8(m.Slot)
		w.u32(m.VoteFrame)
	case *netcmd.Progress:
		w.u8(m.Percentage)
	case *netcmd.Wrapper:
		w.u16(m.WrappedCommandID)
		w.u32(m.ChunkNumber)
		w.u32(m.NumChunks)
		w.u32(m.TotalDataLength)
		w.u32(m.DataLength())
		w.u32(m.DataOffset)
		w.raw(m.Data)
	case *netcmd.File:
		w.cstring(m.PortableFilename)
		w.u32(uint32(len(m.Data)))
		w.raw(m.Data)
	case *netcmd.FileAnnounce:
		w.cstring(m.PortableFilename)
		w.u16(m.FileID)
		w.u8(m.PlayerMask)
		w.raw(m.Digest[:])
	case *netcmd.FileProgress:
		w.u16(m.FileID)
		w.i32(m.Progress)
	case *netcmd.DisconnectFrame:
		w.u32(m.DisconnectFrame)
	case *netcmd.DisconnectScreenOff:
		w.u32(m.NewFrame)
	case *netcmd.FrameResendRequest:
		w.u32(m.FrameToResend)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, msg)
	}
	return nil
}

func writeAck(w *writer, a *netcmd.Ack) {
	w.u16(a.CommandID)
	w.u8(a.OriginalPlayerID)
}

func readAck(r *reader) netcmd.Ack {
	return netcmd.Ack{CommandID: r.u16(), OriginalPlayerID: r.u8()}
}

func readData(r *reader, t netcmd.CommandType) (netcmd.Msg, error) {
	var msg netcmd.Msg
	switch t {
	case netcmd.TypeGameCommand:
		return readGameCommand(r)
	case netcmd.TypeAckBoth:
		msg = &netcmd.AckBoth{Ack: readAck(r)}
	case netcmd.TypeAckStage1:
		msg = &netcmd.AckStage1{Ack: readAck(r)}
	case netcmd.TypeAckStage2:
		msg = &netcmd.AckStage2{Ack: readAck(r)}
	case netcmd.TypeFrameInfo:
		msg = &netcmd.FrameInfo{CommandCount: r.u16()}
	case netcmd.TypePlayerLeave:
		msg = &netcmd.PlayerLeave{LeavingPlayerID: r.u8()}
	case netcmd.TypeRunAheadMetrics:
		m := &netcmd.RunAheadMetrics{}
		m.AverageLatency = r.f32()
		m.AverageFps = r.u16()
		msg = m
	case netcmd.TypeRunAhead:
		m := &netcmd.RunAhead{}
		m.RunAhead = r.u16()
		m.FrameRate = r.u8()
		msg = m
	case netcmd.TypeDestroyPlayer:
		msg = &netcmd.DestroyPlayer{PlayerIndex: r.u32()}
	case netcmd.TypeKeepAlive:
		msg = &netcmd.KeepAlive{}
	case netcmd.TypeDisconnectKeepAlive:
		msg = &netcmd.DisconnectKeepAlive{}
	case netcmd.TypePacketRouterQuery:
		msg = &netcmd.PacketRouterQuery{}
	case netcmd.TypePacketRouterAck:
		msg = &netcmd.PacketRouterAck{}
	case netcmd.TypeLoadComplete:
		msg = &netcmd.LoadComplete{}
	case netcmd.TypeTimeOutStart:
		msg = &netcmd.TimeOutStart{}
	case netcmd.TypeDisconnectPlayer:
		m := &netcmd.DisconnectPlayer{}
		m.DisconnectSlot = r.u8()
		m.DisconnectFrame = r.u32()
		msg = m
	case netcmd.TypeDisconnectChat:
		msg = &netcmd.DisconnectChat{Text: r.unicode()}
	case netcmd.TypeChat:
		m := &netcmd.Chat{}
		m.Text = r.unicode()
		m.PlayerMask = r.i32()
		msg = m
	case netcmd.TypeDisconnectVote:
		m := &netcmd.DisconnectVote{}
		m.Slot = r.u8()
		m.VoteFrame = r.u32()
		msg = m
	case netcmd.TypeProgress:
		msg = &netcmd.Progress{Percentage: r.u8()}
	case netcmd.TypeWrapper:
		m := &netcmd.Wrapper{}
		m.WrappedCommandID = r.u16()
		m.ChunkNumber = r.u32()
		m.NumChunks = r.u32()
		m.TotalDataLength = r.u32()
		n := r.u32()
		m.DataOffset = r.u32()
		if r.err == nil && int64(n) > int64(r.remaining()) {
			return nil, fmt.Errorf("%w: chunk claims %d bytes, %d left", ErrTruncated, n, r.remaining())
		}
		m.Data = r.bytes(int(n))
		msg = m
	case netcmd.TypeFile:
		m := &netcmd.File{}
		m.PortableFilename = r.cstring()
		n := r.u32()
		if r.err == nil && int64(n) > int64(r.remaining()) {
			return nil, fmt.Errorf("%w: file claims %d bytes, %d left", ErrTruncated, n, r.remaining())
		}
		m.Data = r.bytes(int(n))
		msg = m
	case netcmd.TypeFileAnnounce:
		m := &netcmd.FileAnnounce{}
		m.PortableFilename = r.cstring()
		m.FileID = r.u16()
		m.PlayerMask = r.u8()
		copy(m.Digest[:], r.next(len(m.Digest)))
		msg = m
	case netcmd.TypeFileProgress:
		m := &netcmd.FileProgress{}
		m.FileID = r.u16()
		m.Progress = r.i32()
		msg = m
	case netcmd.TypeDisconnectFrame:
		msg = &netcmd.DisconnectFrame{DisconnectFrame: r.u32()}
	case netcmd.TypeDisconnectScreenOff:
		msg = &netcmd.DisconnectScreenOff{NewFrame: r.u32()}
	case netcmd.TypeFrameResendRequest:
		msg = &netcmd.FrameResendRequest{FrameToResend: r.u32()}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, t)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", t, r.err)
	}
	return msg, nil
}

// =============================================================================
// GAME COMMANDS
// =============================================================================

// Game command data is the message type, then a run-length table of
// argument types, then the arguments in order:
//
//	u32 message type
//	u8  number of runs
//	    (u8 argument type, u8 count) per run
//	... arguments

type argRun struct {
	typ   netcmd.ArgumentDataType
	count int
}

func argRuns(args []netcmd.Argument) []argRun {
	var runs []argRun
	for _, a := range args {
		if n := len(runs); n > 0 && runs[n-1].typ == a.Type && runs[n-1].count < 255 {
			runs[n-1].count++
			continue
		}
		runs = append(runs, argRun{typ: a.Type, count: 1})
	}
	return runs
}

func writeGameCommand(w *writer, g *netcmd.GameCommand) error {
	runs := argRuns(g.Args)
	if len(runs) > 255 {
		return errTooLarge("argument runs", len(runs), 255)
	}
	w.u32(uint32(g.MessageType))
	w.u8(uint8(len(runs)))
	for _, run := range runs {
		w.u8(uint8(run.typ))
		w.u8(uint8(run.count))
	}
	for _, a := range g.Args {
		if err := writeArgument(w, a); err != nil {
			return err
		}
	}
	return nil
}

func writeArgument(w *writer, a netcmd.Argument) error {
	switch a.Type {
	case netcmd.ArgInteger:
		w.i32(a.Integer)
	case netcmd.ArgReal:
		w.f32(a.Real)
	case netcmd.ArgBool:
		if a.Bool {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case netcmd.ArgObjectID:
		w.u32(uint32(a.ObjectID))
	case netcmd.ArgDrawableID:
		w.u32(uint32(a.DrawableID))
	case netcmd.ArgTeamID:
		w.u32(a.TeamID)
	case netcmd.ArgLocation:
		w.f32(a.Location.X)
		w.f32(a.Location.Y)
		w.f32(a.Location.Z)
	case netcmd.ArgPixel:
		w.i32(a.Pixel.X)
		w.i32(a.Pixel.Y)
	case netcmd.ArgPixelRegion:
		w.i32(a.PixelRegion.Lo.X)
		w.i32(a.PixelRegion.Lo.Y)
		w.i32(a.PixelRegion.Hi.X)
		w.i32(a.PixelRegion.Hi.Y)
	case netcmd.ArgTimestamp:
		w.u32(a.Timestamp)
	case netcmd.ArgWideChar:
		w.u16(a.WideChar)
	default:
		return fmt.Errorf("%w: argument type %d", ErrUnknownCommand, a.Type)
	}
	return nil
}

func readGameCommand(r *reader) (netcmd.Msg, error) {
	g := &netcmd.GameCommand{MessageType: netcmd.GameMessageType(r.u32())}
	runs := make([]argRun, r.u8())
	total := 0
	for i := range runs {
		runs[i].typ = netcmd.ArgumentDataType(r.u8())
		runs[i].count = int(r.u8())
		if r.err == nil && !runs[i].typ.Valid() {
			return nil, fmt.Errorf("%w: argument type %d", ErrUnknownCommand, runs[i].typ)
		}
		total += runs[i].count
	}
	if r.err != nil {
		return nil, fmt.Errorf("game command: %w", r.err)
	}

	g.Args = make([]netcmd.Argument, 0, total)
	for _, run := range runs {
		for i := 0; i < run.count; i++ {
			g.Args = append(g.Args, readArgument(r, run.typ))
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("game command: %w", r.err)
	}
	return g, nil
}

func readArgument(r *reader, t netcmd.ArgumentDataType) netcmd.Argument {
	switch t {
	case netcmd.ArgInteger:
		return netcmd.IntegerArg(r.i32())
	case netcmd.ArgReal:
		return netcmd.RealArg(r.f32())
	case netcmd.ArgBool:
		return netcmd.BoolArg(r.u8() != 0)
	case netcmd.ArgObjectID:
		return netcmd.ObjectIDArg(sim.ObjectID(r.u32()))
	case netcmd.ArgDrawableID:
		return netcmd.DrawableIDArg(sim.DrawableID(r.u32()))
	case netcmd.ArgTeamID:
		return netcmd.TeamIDArg(r.u32())
	case netcmd.ArgLocation:
		var c sim.Coord3D
		c.X = r.f32()
		c.Y = r.f32()
		c.Z = r.f32()
		return netcmd.LocationArg(c)
	case netcmd.ArgPixel:
		var p sim.ICoord2D
		p.X = r.i32()
		p.Y = r.i32()
		return netcmd.PixelArg(p)
	case netcmd.ArgPixelRegion:
		var reg sim.IRegion2D
		reg.Lo.X = r.i32()
		reg.Lo.Y = r.i32()
		reg.Hi.X = r.i32()
		reg.Hi.Y = r.i32()
		return netcmd.PixelRegionArg(reg)
	case netcmd.ArgTimestamp:
		return netcmd.TimestampArg(r.u32())
	default:
		return netcmd.WideCharArg(r.u16())
	}
}
