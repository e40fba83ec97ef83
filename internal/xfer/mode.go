package xfer

// Mode is the direction an Xfer moves data.
type Mode uint8

const (
	ModeInvalid Mode = iota
	ModeSave
	ModeLoad
	ModeCRC
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeSave:
		return "save"
	case ModeLoad:
		return "load"
	case ModeCRC:
		return "crc"
	default:
		return "invalid"
	}
}

// Options alter how an Xfer treats snapshots.
type Options uint32

const (
	// NoPostProcessing keeps loaded snapshots out of the post-process pass.
	NoPostProcessing Options = 1 << iota
)

// operation is the closed set of things an Xfer can do with bytes: write
// them out, read them in, or fold them into a checksum. Every primitive is
// expressed as one transfer of an encoded buffer, so only the operation
// knows the direction.
type operation interface {
	// transfer moves len(p) bytes. Save and CRC consume p; load overwrites it.
	transfer(p []byte) error

	beginBlock() (int32, error)
	endBlock() error
	skip(n int32) error

	open(identifier string) error
	close() error
}

// Mode reports which operation this Xfer performs.
func (x *Xfer) Mode() Mode {
	switch x.op.(type) {
	case *saveOp:
		return ModeSave
	case *loadOp:
		return ModeLoad
	case *crcOp:
		return ModeCRC
	default:
		return ModeInvalid
	}
}

func (x *Xfer) decoding() bool {
	_, ok := x.op.(*loadOp)
	return ok
}
