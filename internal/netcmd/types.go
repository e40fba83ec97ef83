package netcmd

// CommandType discriminates the command variants on the wire.
type CommandType uint8

const (
	TypeAckBoth CommandType = iota
	TypeAckStage1
	TypeAckStage2
	TypeFrameInfo
	TypeGameCommand
	TypePlayerLeave
	TypeRunAheadMetrics
	TypeRunAhead
	TypeDestroyPlayer
	TypeKeepAlive
	TypeDisconnectChat
	TypeChat
	TypeProgress
	TypeLoadComplete
	TypeTimeOutStart
	TypeWrapper
	TypeFile
	TypeFileAnnounce
	TypeFileProgress
	TypeFrameResendRequest
	TypeDisconnectKeepAlive
	TypeDisconnectPlayer
	TypePacketRouterQuery
	TypePacketRouterAck
	TypeDisconnectVote
	TypeDisconnectFrame
	TypeDisconnectScreenOff

	typeCount
)

// TypeInvalid is reported for a command that is no longer held.
const TypeInvalid CommandType = 0xFF

var typeNames = [typeCount]string{
	TypeAckBoth:             "ack_both",
	TypeAckStage1:           "ack_stage1",
	TypeAckStage2:           "ack_stage2",
	TypeFrameInfo:           "frame_info",
	TypeGameCommand:         "game_command",
	TypePlayerLeave:         "player_leave",
	TypeRunAheadMetrics:     "run_ahead_metrics",
	TypeRunAhead:            "run_ahead",
	TypeDestroyPlayer:       "destroy_player",
	TypeKeepAlive:           "keep_alive",
	TypeDisconnectChat:      "disconnect_chat",
	TypeChat:                "chat",
	TypeProgress:            "progress",
	TypeLoadComplete:        "load_complete",
	TypeTimeOutStart:        "timeout_start",
	TypeWrapper:             "wrapper",
	TypeFile:                "file",
	TypeFileAnnounce:        "file_announce",
	TypeFileProgress:        "file_progress",
	TypeFrameResendRequest:  "frame_resend_request",
	TypeDisconnectKeepAlive: "disconnect_keep_alive",
	TypeDisconnectPlayer:    "disconnect_player",
	TypePacketRouterQuery:   "packet_router_query",
	TypePacketRouterAck:     "packet_router_ack",
	TypeDisconnectVote:      "disconnect_vote",
	TypeDisconnectFrame:     "disconnect_frame",
	TypeDisconnectScreenOff: "disconnect_screen_off",
}

// String returns the command type name, bounded for use as a metric label.
func (t CommandType) String() string {
	if t < typeCount {
		return typeNames[t]
	}
	return "unknown"
}

// Valid reports whether t names a known variant.
func (t CommandType) Valid() bool {
	return t < typeCount
}

// RequiresCommandID reports whether commands of this type carry a sequence
// id. Only these can be acked, resent or wrapped.
func (t CommandType) RequiresCommandID() bool {
	switch t {
	case TypeGameCommand, TypeFrameInfo, TypePlayerLeave, TypeDestroyPlayer,
		TypeRunAheadMetrics, TypeRunAhead, TypeChat, TypeDisconnectVote,
		TypeLoadComplete, TypeTimeOutStart, TypeWrapper, TypeFile,
		TypeFileAnnounce, TypeFileProgress, TypeDisconnectPlayer,
		TypeDisconnectFrame, TypeDisconnectScreenOff, TypeFrameResendRequest:
		return true
	}
	return false
}

// RequiresAck reports whether the receiver must acknowledge the command.
// Wrapper chunks are not acked; the command they carry is, once
// reassembled.
func (t CommandType) RequiresAck() bool {
	return t != TypeWrapper && t.RequiresCommandID()
}

// IsSynchronized reports whether the command executes on a specific logic
// frame and therefore counts toward that frame's command total.
func (t CommandType) IsSynchronized() bool {
	switch t {
	case TypeGameCommand, TypeFrameInfo, TypePlayerLeave, TypeRunAhead, TypeDestroyPlayer:
		return true
	}
	return false
}

// IsAck reports whether t is one of the acknowledgement variants.
func (t CommandType) IsAck() bool {
	return t == TypeAckBoth || t == TypeAckStage1 || t == TypeAckStage2
}
