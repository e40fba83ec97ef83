// Package xfer implements the versioned binary transfer protocol used for
// save games, network payloads and desync checksums.
//
// One call sequence over an object graph serves three purposes. Driven by a
// save Xfer it produces bytes, driven by a load Xfer it restores the graph
// from those bytes, and driven by a CRC Xfer it folds the same bytes into a
// checksum. Callers never branch on the mode; each primitive encodes the
// current value, hands the buffer to the operation, and decodes whatever
// comes back.
//
// Errors are sticky: after the first failure every primitive is a no-op and
// Err reports that failure.
package xfer

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// MaxStringLength is the longest string a single length byte can describe.
const MaxStringLength = 255

// Version is the per-structure format version written ahead of versioned
// payloads.
type Version uint8

// Xfer drives one save, load or CRC pass.
type Xfer struct {
	op         operation
	identifier string
	options    Options
	names      Names
	paths      PathTranslator
	registry   PostProcessRegistry
	err        error
}

// Option configures an Xfer at construction.
type Option func(*Xfer)

// WithNames supplies the name tables used by KindOf, UpgradeMask and
// ScienceType.
func WithNames(n Names) Option {
	return func(x *Xfer) { x.names = n }
}

// WithPaths supplies the real/portable map path translation used by MapName.
func WithPaths(p PathTranslator) Option {
	return func(x *Xfer) { x.paths = p }
}

// WithPostProcess supplies the registry that loaded snapshots are queued on.
func WithPostProcess(r PostProcessRegistry) Option {
	return func(x *Xfer) { x.registry = r }
}

// WithOptions sets the initial option bits.
func WithOptions(o Options) Option {
	return func(x *Xfer) { x.options = o }
}

func newXfer(op operation, opts []Option) *Xfer {
	x := &Xfer{op: op}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Identifier returns the name of the file or stream being transferred.
func (x *Xfer) Identifier() string { return x.identifier }

// Options returns the current option bits.
func (x *Xfer) Options() Options { return x.options }

// SetOptions turns on the given option bits.
func (x *Xfer) SetOptions(o Options) { x.options |= o }

// ClearOptions turns off the given option bits.
func (x *Xfer) ClearOptions(o Options) { x.options &^= o }

// Names returns the injected name tables.
func (x *Xfer) Names() Names { return x.names }

// Err returns the first error hit by this Xfer, if any.
func (x *Xfer) Err() error { return x.err }

// Open binds the Xfer to a file.
func (x *Xfer) Open(identifier string) error {
	if x.op == nil {
		return x.fail(ErrModeUnknown)
	}
	if err := x.op.open(identifier); err != nil {
		return err
	}
	x.identifier = identifier
	x.err = nil
	return nil
}

// Close releases the underlying file or stream. Closing twice is harmless.
func (x *Xfer) Close() error {
	if x.op == nil {
		return nil
	}
	return x.op.close()
}

func (x *Xfer) fail(err error) error {
	if x.err == nil {
		x.err = err
	}
	return x.err
}

func (x *Xfer) transfer(p []byte) error {
	if x.err != nil {
		return x.err
	}
	if x.op == nil {
		return x.fail(ErrModeUnknown)
	}
	if err := x.op.transfer(p); err != nil {
		return x.fail(err)
	}
	return nil
}

// BeginBlock opens a size-prefixed block. On load it returns the stored size
// so a reader can Skip a block it does not understand.
func (x *Xfer) BeginBlock() (int32, error) {
	if x.err != nil {
		return 0, x.err
	}
	if x.op == nil {
		return 0, x.fail(ErrModeUnknown)
	}
	size, err := x.op.beginBlock()
	if err != nil {
		return 0, x.fail(err)
	}
	return size, nil
}

// EndBlock closes the innermost block.
func (x *Xfer) EndBlock() error {
	if x.err != nil {
		return x.err
	}
	if x.op == nil {
		return x.fail(ErrModeUnknown)
	}
	if err := x.op.endBlock(); err != nil {
		return x.fail(err)
	}
	return nil
}

// Skip moves past n bytes of input. Only meaningful on load.
func (x *Xfer) Skip(n int32) error {
	if x.err != nil {
		return x.err
	}
	if x.op == nil {
		return x.fail(ErrModeUnknown)
	}
	if err := x.op.skip(n); err != nil {
		return x.fail(err)
	}
	return nil
}

// Version transfers a format version. On load a stored version newer than
// current is fatal.
func (x *Xfer) Version(v *Version, current Version) error {
	b := uint8(*v)
	if err := x.Uint8(&b); err != nil {
		return err
	}
	*v = Version(b)
	if x.decoding() && *v > current {
		return x.fail(fmt.Errorf("%w: %s has version %d, this build knows %d",
			ErrInvalidVersion, x.identifier, *v, current))
	}
	return nil
}

// Marker is a debugging label in the original format; it transfers nothing.
func (x *Xfer) Marker(label string) {}

// Byte transfers a signed byte.
func (x *Xfer) Byte(v *int8) error {
	b := [1]byte{byte(*v)}
	if err := x.transfer(b[:]); err != nil {
		return err
	}
	*v = int8(b[0])
	return nil
}

// Uint8 transfers an unsigned byte.
func (x *Xfer) Uint8(v *uint8) error {
	b := [1]byte{*v}
	if err := x.transfer(b[:]); err != nil {
		return err
	}
	*v = b[0]
	return nil
}

// Bool transfers a boolean as one byte.
func (x *Xfer) Bool(v *bool) error {
	var b [1]byte
	if *v {
		b[0] = 1
	}
	if err := x.transfer(b[:]); err != nil {
		return err
	}
	*v = b[0] != 0
	return nil
}

// Short transfers an int16.
func (x *Xfer) Short(v *int16) error {
	u := uint16(*v)
	if err := x.Ushort(&u); err != nil {
		return err
	}
	*v = int16(u)
	return nil
}

// Ushort transfers a uint16.
func (x *Xfer) Ushort(v *uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], *v)
	if err := x.transfer(b[:]); err != nil {
		return err
	}
	*v = binary.LittleEndian.Uint16(b[:])
	return nil
}

// Int transfers an int32.
func (x *Xfer) Int(v *int32) error {
	u := uint32(*v)
	if err := x.Uint(&u); err != nil {
		return err
	}
	*v = int32(u)
	return nil
}

// Uint transfers a uint32.
func (x *Xfer) Uint(v *uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], *v)
	if err := x.transfer(b[:]); err != nil {
		return err
	}
	*v = binary.LittleEndian.Uint32(b[:])
	return nil
}

// Int64 transfers an int64.
func (x *Xfer) Int64(v *int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(*v))
	if err := x.transfer(b[:]); err != nil {
		return err
	}
	*v = int64(binary.LittleEndian.Uint64(b[:]))
	return nil
}

// Real transfers a float32.
func (x *Xfer) Real(v *float32) error {
	u := math.Float32bits(*v)
	if err := x.Uint(&u); err != nil {
		return err
	}
	*v = math.Float32frombits(u)
	return nil
}

// AsciiString transfers a string as a length byte followed by its bytes.
func (x *Xfer) AsciiString(s *string) error {
	if !x.decoding() && len(*s) > MaxStringLength {
		return x.fail(fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(*s)))
	}
	n := uint8(len(*s))
	if err := x.Uint8(&n); err != nil {
		return err
	}
	if n == 0 {
		*s = ""
		return nil
	}
	buf := make([]byte, n)
	copy(buf, *s)
	if err := x.transfer(buf); err != nil {
		return err
	}
	*s = string(buf)
	return nil
}

// UnicodeString transfers a string as a length byte followed by that many
// UTF-16 code units.
func (x *Xfer) UnicodeString(s *string) error {
	units := utf16.Encode([]rune(*s))
	if !x.decoding() && len(units) > MaxStringLength {
		return x.fail(fmt.Errorf("%w: %d code units", ErrStringTooLong, len(units)))
	}
	n := uint8(len(units))
	if err := x.Uint8(&n); err != nil {
		return err
	}
	buf := make([]byte, 2*int(n))
	if !x.decoding() {
		for i, u := range units {
			binary.LittleEndian.PutUint16(buf[2*i:], u)
		}
	}
	if err := x.transfer(buf); err != nil {
		return err
	}
	decoded := make([]uint16, n)
	for i := range decoded {
		decoded[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	*s = string(utf16.Decode(decoded))
	return nil
}

// User transfers raw bytes in place.
func (x *Xfer) User(p []byte) error {
	if len(p) == 0 {
		return x.err
	}
	return x.transfer(p)
}
