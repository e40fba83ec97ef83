// Package netcmd defines the commands exchanged between lockstep peers.
//
// Every command shares a Header (sequence id, sending slot, execution frame,
// send timestamp) and adds its own fixed fields. Commands are shared between
// several queues at once (send buffer, ack tracker, frame assembly) through
// Ref handles.
package netcmd

import (
	"time"

	"generals-net/internal/config"
	"generals-net/internal/xfer"
)

// Header carries the fields common to every command.
type Header struct {
	ID             uint16 // sequence number, unique per sender
	PlayerID       uint8  // sending slot
	ExecutionFrame uint32 // logic frame the command applies on
	Timestamp      int64  // unix nanoseconds when queued
}

// Msg is any command variant.
type Msg interface {
	Base() *Header
	Type() CommandType
	// SortNumber orders the command in replay and ack queues.
	SortNumber() int
}

// Base returns the shared header.
func (h *Header) Base() *Header { return h }

// SortNumber orders by the command's own sequence id.
func (h *Header) SortNumber() int { return int(h.ID) }

// Stamp records the current time on the header.
func (h *Header) Stamp() { h.Timestamp = time.Now().UnixNano() }

// =============================================================================
// ACKNOWLEDGEMENTS
// =============================================================================

// Ack carries the command being acknowledged. Acks sort by that command so
// they interleave with the commands they refer to.
type Ack struct {
	Header
	CommandID        uint16
	OriginalPlayerID uint8
}

// SortNumber orders by the acknowledged command.
func (a *Ack) SortNumber() int { return int(a.CommandID) }

// AckBoth is the fused terminal acknowledgement.
type AckBoth struct{ Ack }

// AckStage1 acknowledges receipt by the relay.
type AckStage1 struct{ Ack }

// AckStage2 acknowledges receipt by the final destination.
type AckStage2 struct{ Ack }

func (*AckBoth) Type() CommandType   { return TypeAckBoth }
func (*AckStage1) Type() CommandType { return TypeAckStage1 }
func (*AckStage2) Type() CommandType { return TypeAckStage2 }

func ackFor(msg Msg) Ack {
	h := msg.Base()
	return Ack{CommandID: h.ID, OriginalPlayerID: h.PlayerID}
}

// NewAckBoth acknowledges msg in full.
func NewAckBoth(msg Msg) *AckBoth { return &AckBoth{ackFor(msg)} }

// NewAckStage1 acknowledges msg at stage one.
func NewAckStage1(msg Msg) *AckStage1 { return &AckStage1{ackFor(msg)} }

// NewAckStage2 acknowledges msg at stage two.
func NewAckStage2(msg Msg) *AckStage2 { return &AckStage2{ackFor(msg)} }

// AckOf returns the acknowledgement payload of an ack variant.
func AckOf(msg Msg) (*Ack, bool) {
	switch a := msg.(type) {
	case *AckBoth:
		return &a.Ack, true
	case *AckStage1:
		return &a.Ack, true
	case *AckStage2:
		return &a.Ack, true
	}
	return nil, false
}

// =============================================================================
// FRAME SCHEDULING
// =============================================================================

// FrameInfo declares how many commands a player sent for its execution frame.
type FrameInfo struct {
	Header
	CommandCount uint16
}

func (*FrameInfo) Type() CommandType { return TypeFrameInfo }

// RunAhead sets the lockstep lookahead and frame rate.
type RunAhead struct {
	Header
	RunAhead  uint16
	FrameRate uint8
}

func (*RunAhead) Type() CommandType { return TypeRunAhead }

// NewRunAhead builds a run-ahead command, clamping runAhead into the bounds
// allowed by cfg.
func NewRunAhead(runAhead, frameRate int, cfg config.NetConfig) *RunAhead {
	lo, hi := cfg.RunAheadBounds()
	runAhead = min(max(runAhead, lo), hi)
	frameRate = min(max(frameRate, 1), 255)
	return &RunAhead{RunAhead: uint16(runAhead), FrameRate: uint8(frameRate)}
}

// DefaultRunAhead is the run-ahead command sent before any metrics exist.
func DefaultRunAhead(cfg config.NetConfig) *RunAhead {
	return NewRunAhead(cfg.DefaultRunAhead, cfg.FrameRate, cfg)
}

// RunAheadMetrics reports a peer's measured latency and frame rate.
type RunAheadMetrics struct {
	Header
	AverageLatency float32 // seconds
	AverageFps     uint16
}

func (*RunAheadMetrics) Type() CommandType { return TypeRunAheadMetrics }

// FrameResendRequest asks a peer to resend every command from a frame on.
type FrameResendRequest struct {
	Header
	FrameToResend uint32
}

func (*FrameResendRequest) Type() CommandType { return TypeFrameResendRequest }

// =============================================================================
// PLAYER LIFECYCLE
// =============================================================================

// PlayerLeave announces that a player left the game.
type PlayerLeave struct {
	Header
	LeavingPlayerID uint8
}

func (*PlayerLeave) Type() CommandType { return TypePlayerLeave }

// DestroyPlayer removes a player's objects from the simulation.
type DestroyPlayer struct {
	Header
	PlayerIndex uint32
}

func (*DestroyPlayer) Type() CommandType { return TypeDestroyPlayer }

// Progress reports map load progress.
type Progress struct {
	Header
	Percentage uint8
}

func (*Progress) Type() CommandType { return TypeProgress }

// LoadComplete signals the sender finished loading.
type LoadComplete struct{ Header }

func (*LoadComplete) Type() CommandType { return TypeLoadComplete }

// TimeOutStart forces the game to start after a load timeout.
type TimeOutStart struct{ Header }

func (*TimeOutStart) Type() CommandType { return TypeTimeOutStart }

// =============================================================================
// KEEPALIVE AND ROUTING
// =============================================================================

// KeepAlive keeps an idle connection from timing out.
type KeepAlive struct{ Header }

func (*KeepAlive) Type() CommandType { return TypeKeepAlive }

// DisconnectKeepAlive is the keepalive used while the disconnect screen is up.
type DisconnectKeepAlive struct{ Header }

func (*DisconnectKeepAlive) Type() CommandType { return TypeDisconnectKeepAlive }

// PacketRouterQuery asks which peer relays packets.
type PacketRouterQuery struct{ Header }

func (*PacketRouterQuery) Type() CommandType { return TypePacketRouterQuery }

// PacketRouterAck answers a router query.
type PacketRouterAck struct{ Header }

func (*PacketRouterAck) Type() CommandType { return TypePacketRouterAck }

// =============================================================================
// DISCONNECT VOTING
// =============================================================================

// DisconnectPlayer disconnects a slot as of a frame.
type DisconnectPlayer struct {
	Header
	DisconnectSlot  uint8
	DisconnectFrame uint32
}

func (*DisconnectPlayer) Type() CommandType { return TypeDisconnectPlayer }

// DisconnectVote is one peer's vote to drop a slot.
type DisconnectVote struct {
	Header
	Slot      uint8
	VoteFrame uint32
}

func (*DisconnectVote) Type() CommandType { return TypeDisconnectVote }

// DisconnectFrame reports the frame a peer stalled on.
type DisconnectFrame struct {
	Header
	DisconnectFrame uint32
}

func (*DisconnectFrame) Type() CommandType { return TypeDisconnectFrame }

// DisconnectScreenOff reports the frame the game resumed on.
type DisconnectScreenOff struct {
	Header
	NewFrame uint32
}

func (*DisconnectScreenOff) Type() CommandType { return TypeDisconnectScreenOff }

// DisconnectChat is chat sent from the disconnect screen.
type DisconnectChat struct {
	Header
	Text string
}

func (*DisconnectChat) Type() CommandType { return TypeDisconnectChat }

// =============================================================================
// CHAT
// =============================================================================

// Chat is an in-game chat line. PlayerMask has bit n set for each
// recipient slot n.
type Chat struct {
	Header
	Text       string
	PlayerMask int32
}

func (*Chat) Type() CommandType { return TypeChat }

// IsFor reports whether slot is a recipient.
func (c *Chat) IsFor(slot uint8) bool {
	return slot < 32 && c.PlayerMask&(1<<slot) != 0
}

// =============================================================================
// LARGE PAYLOADS
// =============================================================================

// Wrapper carries one chunk of a command too large for a single packet.
type Wrapper struct {
	Header
	WrappedCommandID uint16
	ChunkNumber      uint32
	NumChunks        uint32
	TotalDataLength  uint32
	DataOffset       uint32
	Data             []byte
}

func (*Wrapper) Type() CommandType { return TypeWrapper }

// DataLength is the length of this chunk.
func (w *Wrapper) DataLength() uint32 { return uint32(len(w.Data)) }

// File carries a whole file. Filenames travel in portable form.
type File struct {
	Header
	PortableFilename string
	Data             []byte
}

func (*File) Type() CommandType { return TypeFile }

// RealFilename returns the local path for the file.
func (f *File) RealFilename(paths xfer.PathTranslator) string {
	return paths.PortableMapPathToRealMapPath(f.PortableFilename)
}

// SetRealFilename stores a local path in portable form.
func (f *File) SetRealFilename(paths xfer.PathTranslator, real string) {
	f.PortableFilename = paths.RealMapPathToPortableMapPath(real)
}

// FileAnnounce tells peers a file is coming. Digest is the blake3 hash of
// the file contents.
type FileAnnounce struct {
	Header
	PortableFilename string
	FileID           uint16
	PlayerMask       uint8
	Digest           [32]byte
}

func (*FileAnnounce) Type() CommandType { return TypeFileAnnounce }

// RealFilename returns the local path for the announced file.
func (f *FileAnnounce) RealFilename(paths xfer.PathTranslator) string {
	return paths.PortableMapPathToRealMapPath(f.PortableFilename)
}

// SetRealFilename stores a local path in portable form.
func (f *FileAnnounce) SetRealFilename(paths xfer.PathTranslator, real string) {
	f.PortableFilename = paths.RealMapPathToPortableMapPath(real)
}

// FileProgress reports how much of a file a peer has received.
type FileProgress struct {
	Header
	FileID   uint16
	Progress int32 // percent
}

func (*FileProgress) Type() CommandType { return TypeFileProgress }
