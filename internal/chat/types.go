// Package chat moderates in-game chat carried by lockstep chat commands:
// a per-player flood guard, a bounded history and a dispatch queue that
// fans accepted lines out to listeners.
package chat

import (
	"strings"
	"time"
	"unicode"

	"generals-net/internal/netcmd"
)

// MaxLineLength is the longest line kept, in runes. The wire format allows
// no more.
const MaxLineLength = 255

// Line is one accepted chat line.
type Line struct {
	From       uint8     `json:"from"`
	FromName   string    `json:"fromName"`
	Text       string    `json:"text"`
	Recipients int32     `json:"recipients"` // bit n set for slot n; -1 for everyone
	Frame      uint32    `json:"frame"`
	Disconnect bool      `json:"disconnect"` // sent from the disconnect screen
	ReceivedAt time.Time `json:"receivedAt"`
}

// IsFor reports whether slot should see the line.
func (l Line) IsFor(slot uint8) bool {
	return slot < 32 && l.Recipients&(1<<slot) != 0
}

// LineFromCommand converts a chat or disconnect chat command. ok is false
// for any other command.
func LineFromCommand(msg netcmd.Msg) (line Line, ok bool) {
	h := msg.Base()
	line = Line{From: h.PlayerID, Frame: h.ExecutionFrame}

	switch c := msg.(type) {
	case *netcmd.Chat:
		line.Text = c.Text
		line.Recipients = c.PlayerMask
	case *netcmd.DisconnectChat:
		line.Text = c.Text
		line.Recipients = -1
		line.Disconnect = true
	default:
		return Line{}, false
	}
	return line, true
}

// Sanitize strips control characters and surrounding space and truncates
// the text to MaxLineLength runes.
func Sanitize(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if runes := []rune(text); len(runes) > MaxLineLength {
		text = string(runes[:MaxLineLength])
	}
	return text
}
