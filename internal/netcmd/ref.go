package netcmd

import (
	"sync"
	"sync/atomic"
)

// owner is the shared state behind every Ref to one command.
type owner struct {
	msg       Msg
	count     atomic.Int32
	onRelease []func(Msg)
	once      sync.Once
}

// Ref is one owner's handle on a shared command. A command is queued in the
// send buffer, the ack tracker and the frame list at the same time; each of
// those holds its own Ref and releases it when done. Release hooks run once,
// when the last Ref goes.
//
// A Ref is not safe for use by several goroutines at once, but distinct Refs
// to the same command are.
type Ref struct {
	o        *owner
	released atomic.Bool
}

// NewRef wraps msg with a single owner. onRelease hooks run after the final
// Release.
func NewRef(msg Msg, onRelease ...func(Msg)) *Ref {
	o := &owner{msg: msg, onRelease: onRelease}
	o.count.Store(1)
	return &Ref{o: o}
}

// Msg returns the shared command, or nil if this handle was released.
func (r *Ref) Msg() Msg {
	if r == nil || r.released.Load() {
		return nil
	}
	return r.o.msg
}

// Clone returns a new handle to the same command. Cloning a released handle
// returns nil.
func (r *Ref) Clone() *Ref {
	if r == nil || r.released.Load() {
		return nil
	}
	r.o.count.Add(1)
	return &Ref{o: r.o}
}

// Release gives up this handle. Releasing the same handle twice does nothing.
// It reports whether this call dropped the last owner.
func (r *Ref) Release() bool {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return false
	}
	if r.o.count.Add(-1) != 0 {
		return false
	}
	r.o.once.Do(func() {
		for _, fn := range r.o.onRelease {
			fn(r.o.msg)
		}
	})
	return true
}

// Released reports whether this handle has been released.
func (r *Ref) Released() bool {
	return r == nil || r.released.Load()
}

// Owners returns the number of live handles to the command.
func (r *Ref) Owners() int {
	if r == nil {
		return 0
	}
	return int(r.o.count.Load())
}

// Type returns the command type of the referenced command, or TypeInvalid
// if this handle was released.
func (r *Ref) Type() CommandType {
	msg := r.Msg()
	if msg == nil {
		return TypeInvalid
	}
	return msg.Type()
}

// SortNumber returns the sort key of the referenced command, or -1 if this
// handle was released.
func (r *Ref) SortNumber() int {
	msg := r.Msg()
	if msg == nil {
		return -1
	}
	return msg.SortNumber()
}

// Header returns the referenced command's header, or nil if this handle was
// released.
func (r *Ref) Header() *Header {
	msg := r.Msg()
	if msg == nil {
		return nil
	}
	return msg.Base()
}
