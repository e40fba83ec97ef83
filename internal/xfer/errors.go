package xfer

import "errors"

// Format errors. Any of these aborts the current save, load or CRC pass; the
// data is not something this build can safely interpret.
var (
	ErrModeUnknown     = errors.New("xfer: unknown mode")
	ErrInvalidVersion  = errors.New("xfer: invalid version")
	ErrUnknownString   = errors.New("xfer: unknown string")
	ErrListNotEmpty    = errors.New("xfer: list not empty")
	ErrListTooLong     = errors.New("xfer: list too long")
	ErrStringTooLong   = errors.New("xfer: string too long")
	ErrReadError       = errors.New("xfer: read error")
	ErrWriteError      = errors.New("xfer: write error")
	ErrBlockMismatch   = errors.New("xfer: block mismatch")
	ErrNoNameTable     = errors.New("xfer: no name table")
	ErrFileNotFound    = errors.New("xfer: file not found")
	ErrFileAlreadyOpen = errors.New("xfer: file already open")
	ErrFileNotOpen     = errors.New("xfer: file not open")
)
