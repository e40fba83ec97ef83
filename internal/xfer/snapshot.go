package xfer

// Snapshot is implemented by everything that is saved, networked or checked
// for desync.
type Snapshot interface {
	// CRC folds the fields that must agree across peers.
	CRC(x *Xfer) error
	// Xfer saves or loads every persistent field.
	Xfer(x *Xfer) error
	// LoadPostProcess runs after the whole graph has loaded, to resolve ids
	// that referred to objects loaded later.
	LoadPostProcess() error
}

// PostProcessRegistry collects loaded snapshots for the post-process pass.
type PostProcessRegistry interface {
	AddPostProcessSnapshot(s Snapshot)
}

// PathTranslator converts map paths between the local install layout and
// the portable form stored in saves and sent over the network.
type PathTranslator interface {
	RealMapPathToPortableMapPath(path string) string
	PortableMapPathToRealMapPath(path string) string
}

// Snapshot transfers s. On load, s is queued for post-processing unless
// NoPostProcessing is set.
func (x *Xfer) Snapshot(s Snapshot) error {
	if x.err != nil {
		return x.err
	}

	var err error
	switch x.op.(type) {
	case *saveOp:
		err = s.Xfer(x)
	case *loadOp:
		err = s.Xfer(x)
		if err == nil && x.options&NoPostProcessing == 0 && x.registry != nil {
			x.registry.AddPostProcessSnapshot(s)
		}
	case *crcOp:
		err = s.CRC(x)
	default:
		err = ErrModeUnknown
	}
	if err != nil {
		return x.fail(err)
	}
	return nil
}

// MapName transfers a map path. Saves store the portable form; loads turn
// it back into a local path.
func (x *Xfer) MapName(path *string) error {
	if x.paths == nil {
		return x.AsciiString(path)
	}
	switch x.Mode() {
	case ModeSave:
		portable := x.paths.RealMapPathToPortableMapPath(*path)
		return x.AsciiString(&portable)
	case ModeLoad:
		var portable string
		if err := x.AsciiString(&portable); err != nil {
			return err
		}
		*path = x.paths.PortableMapPathToRealMapPath(portable)
		return nil
	case ModeCRC:
		return x.AsciiString(path)
	default:
		return x.fail(ErrModeUnknown)
	}
}
