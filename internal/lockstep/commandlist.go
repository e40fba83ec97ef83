// Package lockstep runs the peer-to-peer lockstep protocol: it assembles
// every player's commands per logic frame, acknowledges and retransmits
// them, negotiates run-ahead and tallies disconnect votes.
package lockstep

import (
	"sort"

	"generals-net/internal/netcmd"
)

// CommandList holds command handles ordered by sort number. The list owns
// every handle it holds.
type CommandList struct {
	refs []*netcmd.Ref
}

// Insert adds ref in sort order and takes ownership of it. A command that
// duplicates one already held (same type, player and id) is released and
// Insert returns false.
func (l *CommandList) Insert(ref *netcmd.Ref) bool {
	h := ref.Header()
	if ref.Type().RequiresCommandID() && l.Find(ref.Type(), h.PlayerID, h.ID) != nil {
		ref.Release()
		return false
	}

	n := ref.SortNumber()
	i := sort.Search(len(l.refs), func(i int) bool { return l.refs[i].SortNumber() > n })
	l.refs = append(l.refs, nil)
	copy(l.refs[i+1:], l.refs[i:])
	l.refs[i] = ref
	return true
}

// Find returns the held command matching type, player and id.
func (l *CommandList) Find(t netcmd.CommandType, player uint8, id uint16) *netcmd.Ref {
	for _, r := range l.refs {
		h := r.Header()
		if r.Type() == t && h.PlayerID == player && h.ID == id {
			return r
		}
	}
	return nil
}

// Remove drops ref from the list without releasing it.
func (l *CommandList) Remove(ref *netcmd.Ref) bool {
	for i, r := range l.refs {
		if r == ref {
			l.refs = append(l.refs[:i], l.refs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of held commands.
func (l *CommandList) Len() int { return len(l.refs) }

// Items returns the held handles in order. The list keeps ownership.
func (l *CommandList) Items() []*netcmd.Ref {
	return append([]*netcmd.Ref(nil), l.refs...)
}

// Drain empties the list and hands ownership of every handle to the caller.
func (l *CommandList) Drain() []*netcmd.Ref {
	out := l.refs
	l.refs = nil
	return out
}

// Reset releases every held handle.
func (l *CommandList) Reset() {
	for _, r := range l.refs {
		r.Release()
	}
	l.refs = l.refs[:0]
}
