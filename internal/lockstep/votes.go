package lockstep

import "sync"

type vote struct {
	cast  bool
	frame uint32
}

// DisconnectVotes tallies votes to drop stalled players. A vote only counts
// on the frame it was cast for, so votes from before a stall resumed go
// stale on their own.
type DisconnectVotes struct {
	mu    sync.Mutex
	local uint8
	votes [][]vote // [target][voter]
}

// NewDisconnectVotes creates a tally for slots players; local is our slot.
func NewDisconnectVotes(slots int, local uint8) *DisconnectVotes {
	v := &DisconnectVotes{local: local, votes: make([][]vote, slots)}
	for i := range v.votes {
		v.votes[i] = make([]vote, slots)
	}
	return v
}

func (v *DisconnectVotes) valid(slot uint8) bool { return int(slot) < len(v.votes) }

// Cast records a vote by voter to drop target on frame and returns the
// target's vote count for that frame.
func (v *DisconnectVotes) Cast(target, voter uint8, frame uint32) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.valid(target) || !v.valid(voter) {
		return 0
	}
	v.votes[target][voter] = vote{cast: true, frame: frame}
	return v.count(target, frame)
}

// HasVoted reports whether voter has a live vote against target.
func (v *DisconnectVotes) HasVoted(target, voter uint8) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.valid(target) && v.valid(voter) && v.votes[target][voter].cast
}

// Count returns the votes against target cast for frame.
func (v *DisconnectVotes) Count(target uint8, frame uint32) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.valid(target) {
		return 0
	}
	return v.count(target, frame)
}

func (v *DisconnectVotes) count(target uint8, frame uint32) int {
	n := 0
	for _, vt := range v.votes[target] {
		if vt.cast && vt.frame == frame {
			n++
		}
	}
	return n
}

// IsVotedOut reports whether every other player voted target out on frame.
// The local player is never voted out locally.
func (v *DisconnectVotes) IsVotedOut(target uint8, frame uint32, numPlayers int) bool {
	if target == v.local {
		return false
	}
	return v.Count(target, frame) >= numPlayers-1
}

// ResetVoter withdraws voter's votes cast on or before frame. It is called
// when voter reports a new stall frame or resumes play.
func (v *DisconnectVotes) ResetVoter(voter uint8, frame uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.valid(voter) {
		return
	}
	for target := range v.votes {
		if v.votes[target][voter].frame <= frame {
			v.votes[target][voter].cast = false
		}
	}
}

// Forget clears every vote by and against slot.
func (v *DisconnectVotes) Forget(slot uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.valid(slot) {
		return
	}
	for i := range v.votes {
		v.votes[slot][i] = vote{}
		v.votes[i][slot] = vote{}
	}
}
