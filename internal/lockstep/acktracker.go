package lockstep

import (
	"time"

	"github.com/bits-and-blooms/bitset"

	"generals-net/internal/metrics"
	"generals-net/internal/netcmd"
)

// Resend is a command due for retransmission to one slot.
type Resend struct {
	To  uint8
	Msg netcmd.Msg
}

type pendingKey struct {
	player uint8
	id     uint16
}

// pending is one local command awaiting acknowledgement.
type pending struct {
	ref       *netcmd.Ref
	stage1    *bitset.BitSet // slots that have not acked receipt
	stage2    *bitset.BitSet // slots that have not acked delivery
	firstSent time.Time
	lastSent  time.Time
}

// AckTracker holds a handle to every sent command until each destination
// has acknowledged it at both stages. Stage one means the command reached
// the relay; stage two means it reached the destination. A fused ack does
// both.
type AckTracker struct {
	timeout time.Duration
	// Several entries share a key when one id goes out with different
	// contents to different slots.
	entries map[pendingKey][]*pending
}

// NewAckTracker creates a tracker that resends after timeout.
func NewAckTracker(timeout time.Duration) *AckTracker {
	return &AckTracker{
		timeout: timeout,
		entries: make(map[pendingKey][]*pending),
	}
}

// Track starts waiting for acks of ref from every slot in dests. The
// tracker takes its own handle. Commands without an id cannot be acked and
// are ignored.
func (t *AckTracker) Track(ref *netcmd.Ref, dests *bitset.BitSet, now time.Time) {
	if !ref.Type().RequiresAck() || dests.None() {
		return
	}
	h := ref.Header()
	key := pendingKey{h.PlayerID, h.ID}
	t.entries[key] = append(t.entries[key], &pending{
		ref:       ref.Clone(),
		stage1:    dests.Clone(),
		stage2:    dests.Clone(),
		firstSent: now,
		lastSent:  now,
	})
}

// Ack applies an acknowledgement received from slot at now. It returns
// the time since the command was first sent, zero if nothing was waiting on
// that slot, and whether the command was fully acknowledged and released.
func (t *AckTracker) Ack(from uint8, ack netcmd.Msg, now time.Time) (rtt time.Duration, released bool) {
	a, ok := netcmd.AckOf(ack)
	if !ok {
		return 0, false
	}
	key := pendingKey{a.OriginalPlayerID, a.CommandID}
	for _, p := range t.entries[key] {
		if !p.stage2.Test(uint(from)) {
			continue
		}
		if p.stage1.Test(uint(from)) {
			rtt = now.Sub(p.firstSent)
		}
		switch ack.Type() {
		case netcmd.TypeAckStage1:
			p.stage1.Clear(uint(from))
		case netcmd.TypeAckStage2, netcmd.TypeAckBoth:
			p.stage1.Clear(uint(from))
			p.stage2.Clear(uint(from))
		}
	}
	return rtt, t.settle(key)
}

// settle releases the entries under key that no slot still owes. It
// reports whether any were released.
func (t *AckTracker) settle(key pendingKey) bool {
	list := t.entries[key]
	kept := list[:0]
	released := false
	for _, p := range list {
		if p.stage2.Any() {
			kept = append(kept, p)
			continue
		}
		p.ref.Release()
		released = true
	}
	if len(kept) == 0 {
		delete(t.entries, key)
	} else {
		t.entries[key] = kept
	}
	return released
}

// Due returns commands not acknowledged at stage one within the timeout,
// one entry per waiting slot, and restarts their timers.
func (t *AckTracker) Due(now time.Time) []Resend {
	var out []Resend
	for _, list := range t.entries {
		for _, p := range list {
			if now.Sub(p.lastSent) < t.timeout || p.stage1.None() {
				continue
			}
			for i, ok := p.stage1.NextSet(0); ok; i, ok = p.stage1.NextSet(i + 1) {
				out = append(out, Resend{To: uint8(i), Msg: p.ref.Msg()})
				metrics.RecordResend()
			}
			p.lastSent = now
		}
	}
	return out
}

// DropPlayer stops waiting on slot, releasing commands only it still owed.
func (t *AckTracker) DropPlayer(slot uint8) {
	for key, list := range t.entries {
		for _, p := range list {
			p.stage1.Clear(uint(slot))
			p.stage2.Clear(uint(slot))
		}
		t.settle(key)
	}
}

// Pending returns the number of commands awaiting acknowledgement.
func (t *AckTracker) Pending() int {
	n := 0
	for _, list := range t.entries {
		n += len(list)
	}
	return n
}

// Waiting reports whether the command from player with id is still tracked.
func (t *AckTracker) Waiting(player uint8, id uint16) bool {
	_, ok := t.entries[pendingKey{player, id}]
	return ok
}

// Reset releases every tracked command.
func (t *AckTracker) Reset() {
	for key, list := range t.entries {
		for _, p := range list {
			p.ref.Release()
		}
		delete(t.entries, key)
	}
}
