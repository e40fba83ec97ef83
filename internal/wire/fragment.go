package wire

import (
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"generals-net/internal/netcmd"
)

// Fragment splits a command too large for one packet into wrapper commands.
// Every wrapper takes a fresh id from nextID; the wrapped command keeps its
// own id so the receiver can acknowledge it once reassembled.
func Fragment(msg netcmd.Msg, relay uint8, maxPacket int, nextID func() uint16) ([]*netcmd.Wrapper, error) {
	if !msg.Type().RequiresCommandID() {
		return nil, fmt.Errorf("%w: %s", ErrNotWrappable, msg.Type())
	}
	chunkSize := maxPacket - WrapperOverhead
	if chunkSize <= 0 {
		return nil, errTooLarge("wrapper overhead", WrapperOverhead, maxPacket)
	}

	data, err := EncodeCommand(msg, relay)
	if err != nil {
		return nil, err
	}

	h := msg.Base()
	numChunks := (len(data) + chunkSize - 1) / chunkSize
	wrappers := make([]*netcmd.Wrapper, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		off := i * chunkSize
		end := min(off+chunkSize, len(data))

		w := &netcmd.Wrapper{
			WrappedCommandID: h.ID,
			ChunkNumber:      uint32(i),
			NumChunks:        uint32(numChunks),
			TotalDataLength:  uint32(len(data)),
			DataOffset:       uint32(off),
			Data:             data[off:end],
		}
		w.ID = nextID()
		w.PlayerID = h.PlayerID
		w.ExecutionFrame = h.ExecutionFrame
		wrappers = append(wrappers, w)
	}
	return wrappers, nil
}

// =============================================================================
// REASSEMBLY
// =============================================================================

type assemblyKey struct {
	player uint8
	id     uint16
}

type assembly struct {
	numChunks uint32
	total     uint32
	data      []byte
	have      *bitset.BitSet
	updated   time.Time
}

// Reassembler collects wrapper chunks. A command is complete only once
// every chunk number from 0 to NumChunks-1 has arrived, in any order.
type Reassembler struct {
	mu       sync.Mutex
	pending  map[assemblyKey]*assembly
	maxTotal uint32
	now      func() time.Time
}

// NewReassembler returns a reassembler that rejects commands larger than
// maxTotal bytes.
func NewReassembler(maxTotal int) *Reassembler {
	return &Reassembler{
		pending:  make(map[assemblyKey]*assembly),
		maxTotal: uint32(maxTotal),
		now:      time.Now,
	}
}

// Add stores one chunk. When it completes its command, Add returns the
// full encoded command and true. Duplicate chunks are ignored.
func (r *Reassembler) Add(w *netcmd.Wrapper) ([]byte, bool, error) {
	if err := r.check(w); err != nil {
		return nil, false, err
	}

	key := assemblyKey{player: w.PlayerID, id: w.WrappedCommandID}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.pending[key]
	if !ok {
		a = &assembly{
			numChunks: w.NumChunks,
			total:     w.TotalDataLength,
			data:      make([]byte, w.TotalDataLength),
			have:      bitset.New(uint(w.NumChunks)),
		}
		r.pending[key] = a
	} else if a.numChunks != w.NumChunks || a.total != w.TotalDataLength {
		return nil, false, fmt.Errorf("%w: command %d from slot %d was %d chunks/%d bytes, chunk %d says %d/%d",
			ErrBadChunk, w.WrappedCommandID, w.PlayerID, a.numChunks, a.total, w.ChunkNumber, w.NumChunks, w.TotalDataLength)
	}

	if a.have.Test(uint(w.ChunkNumber)) {
		return nil, false, nil
	}
	copy(a.data[w.DataOffset:], w.Data)
	a.have.Set(uint(w.ChunkNumber))
	a.updated = r.now()

	if a.have.Count() != uint(a.numChunks) {
		return nil, false, nil
	}
	delete(r.pending, key)
	return a.data, true, nil
}

func (r *Reassembler) check(w *netcmd.Wrapper) error {
	switch {
	case w.NumChunks == 0:
		return fmt.Errorf("%w: zero chunks", ErrBadChunk)
	case w.ChunkNumber >= w.NumChunks:
		return fmt.Errorf("%w: chunk %d of %d", ErrBadChunk, w.ChunkNumber, w.NumChunks)
	case w.TotalDataLength > r.maxTotal:
		return errTooLarge("wrapped command", int(w.TotalDataLength), int(r.maxTotal))
	case w.NumChunks > max(w.TotalDataLength, 1):
		return fmt.Errorf("%w: %d chunks for %d bytes", ErrBadChunk, w.NumChunks, w.TotalDataLength)
	case uint64(w.DataOffset)+uint64(len(w.Data)) > uint64(w.TotalDataLength):
		return fmt.Errorf("%w: chunk %d at %d+%d overruns %d bytes",
			ErrBadChunk, w.ChunkNumber, w.DataOffset, len(w.Data), w.TotalDataLength)
	}
	return nil
}

// Pending returns the number of partially received commands.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Missing returns the chunk numbers not yet received for a command.
func (r *Reassembler) Missing(player uint8, wrappedID uint16) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.pending[assemblyKey{player: player, id: wrappedID}]
	if !ok {
		return nil
	}
	var missing []uint32
	for i := uint32(0); i < a.numChunks; i++ {
		if !a.have.Test(uint(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Expire drops assemblies that have not seen a chunk since before cutoff and
// returns how many were dropped.
func (r *Reassembler) Expire(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for key, a := range r.pending {
		if a.updated.Before(cutoff) {
			delete(r.pending, key)
			dropped++
		}
	}
	return dropped
}

// DropPlayer discards everything pending from a slot.
func (r *Reassembler) DropPlayer(player uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.pending {
		if key.player == player {
			delete(r.pending, key)
		}
	}
}
