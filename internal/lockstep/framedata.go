package lockstep

import (
	"generals-net/internal/netcmd"
)

// Readiness of one player's commands for a frame.
type Readiness int

const (
	NotReady       Readiness = iota // still waiting on commands or the count
	Ready                           // every announced command arrived
	ResendRequired                  // more commands than announced; the frame is corrupt
)

func (r Readiness) String() string {
	switch r {
	case NotReady:
		return "not_ready"
	case Ready:
		return "ready"
	case ResendRequired:
		return "resend_required"
	}
	return "unknown"
}

// noCount marks a frame whose command count has not arrived.
const noCount = -1

// FrameData holds one player's commands for one frame.
type FrameData struct {
	frame    uint32
	expected int
	commands CommandList
}

func (f *FrameData) reset(frame uint32) {
	f.commands.Reset()
	f.frame = frame
	f.expected = noCount
}

// Readiness reports whether the frame's commands are complete.
func (f *FrameData) Readiness() Readiness {
	switch {
	case f.expected == noCount:
		return NotReady
	case f.commands.Len() > f.expected:
		return ResendRequired
	case f.commands.Len() == f.expected:
		return Ready
	}
	return NotReady
}

// FrameDataManager keeps one player's commands for a window of frames. The
// window is a ring: a newer frame claims the slot of the frame one window
// behind it, and a slot never moves back to an older frame. Queries for a
// frame no longer held see an empty frame and change nothing.
type FrameDataManager struct {
	slot     uint8
	frames   []FrameData
	quitting bool
}

// NewFrameDataManager creates a manager for slot keeping window frames.
func NewFrameDataManager(slot uint8, window int) *FrameDataManager {
	if window <= 0 {
		window = 1
	}
	m := &FrameDataManager{slot: slot, frames: make([]FrameData, window)}
	for i := range m.frames {
		m.frames[i].reset(uint32(i))
	}
	return m
}

// lookup returns the held data for frame, or nil if its slot holds another
// frame.
func (m *FrameDataManager) lookup(frame uint32) *FrameData {
	f := &m.frames[frame%uint32(len(m.frames))]
	if f.frame != frame {
		return nil
	}
	return f
}

// claim returns the data for frame, evicting an older frame from its slot.
// It returns nil when the slot already holds a newer frame.
func (m *FrameDataManager) claim(frame uint32) *FrameData {
	f := &m.frames[frame%uint32(len(m.frames))]
	if f.frame > frame {
		return nil
	}
	if f.frame != frame {
		f.reset(frame)
	}
	return f
}

// Slot returns the player slot this manager belongs to.
func (m *FrameDataManager) Slot() uint8 { return m.slot }

// AddCommand stores a handle to a synchronized command for its execution
// frame. The manager takes ownership of ref. Duplicates and commands for a
// frame already behind the window are released and reported as false.
func (m *FrameDataManager) AddCommand(ref *netcmd.Ref) bool {
	f := m.claim(ref.Header().ExecutionFrame)
	if f == nil {
		ref.Release()
		return false
	}
	return f.commands.Insert(ref)
}

// SetCommandCount records how many commands the player sent for frame.
func (m *FrameDataManager) SetCommandCount(frame uint32, count int) {
	if f := m.claim(frame); f != nil {
		f.expected = count
	}
}

// CommandCount returns the announced and received counts for frame.
func (m *FrameDataManager) CommandCount(frame uint32) (expected, received int) {
	f := m.lookup(frame)
	if f == nil {
		return noCount, 0
	}
	return f.expected, f.commands.Len()
}

// Readiness reports the state of frame. A quitting player is always ready.
func (m *FrameDataManager) Readiness(frame uint32) Readiness {
	if m.quitting {
		return Ready
	}
	f := m.lookup(frame)
	if f == nil {
		return NotReady
	}
	return f.Readiness()
}

// Commands returns the handles held for frame. The manager keeps ownership.
func (m *FrameDataManager) Commands(frame uint32) []*netcmd.Ref {
	f := m.lookup(frame)
	if f == nil {
		return nil
	}
	return f.commands.Items()
}

// ResetFrame releases the commands for frame and forgets its count.
func (m *FrameDataManager) ResetFrame(frame uint32) {
	if f := m.lookup(frame); f != nil {
		f.reset(frame)
	}
}

// SetQuitting marks the player as leaving; its frames no longer block.
func (m *FrameDataManager) SetQuitting(q bool) { m.quitting = q }

// Quitting reports whether the player is leaving.
func (m *FrameDataManager) Quitting() bool { return m.quitting }

// Reset releases every held command.
func (m *FrameDataManager) Reset() {
	for i := range m.frames {
		m.frames[i].reset(uint32(i))
	}
}
