package xfer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// saveOp writes transferred bytes to a stream. Open blocks are buffered in
// memory so their size can be written ahead of their contents without
// requiring a seekable destination.
type saveOp struct {
	w        io.Writer
	file     *os.File
	zw       *lz4.Writer
	compress bool
	blocks   []*bytes.Buffer
}

// NewSave returns a save Xfer writing to w.
func NewSave(w io.Writer, opts ...Option) *Xfer {
	return newXfer(&saveOp{w: w}, opts)
}

// CreateSave returns a save Xfer writing to a newly created file. When
// compress is set the file body is an lz4 frame; OpenLoad detects this.
func CreateSave(path string, compress bool, opts ...Option) (*Xfer, error) {
	x := newXfer(&saveOp{compress: compress}, opts)
	if err := x.Open(path); err != nil {
		return nil, err
	}
	return x, nil
}

func (s *saveOp) open(identifier string) error {
	if s.file != nil {
		return fmt.Errorf("%w: %s", ErrFileAlreadyOpen, identifier)
	}
	f, err := os.Create(identifier)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteError, identifier, err)
	}
	s.file = f
	s.w = f
	if s.compress {
		s.zw = lz4.NewWriter(f)
		s.w = s.zw
	}
	s.blocks = s.blocks[:0]
	return nil
}

func (s *saveOp) close() error {
	if s.file == nil {
		return nil
	}
	var errs []error
	if len(s.blocks) != 0 {
		errs = append(errs, fmt.Errorf("%w: %d blocks left open", ErrBlockMismatch, len(s.blocks)))
	}
	if s.zw != nil {
		errs = append(errs, s.zw.Close())
		s.zw = nil
	}
	errs = append(errs, s.file.Close())
	s.file = nil
	s.w = nil
	return errors.Join(errs...)
}

func (s *saveOp) sink() io.Writer {
	if n := len(s.blocks); n > 0 {
		return s.blocks[n-1]
	}
	return s.w
}

func (s *saveOp) transfer(p []byte) error {
	w := s.sink()
	if w == nil {
		return ErrFileNotOpen
	}
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteError, err)
	}
	return nil
}

func (s *saveOp) beginBlock() (int32, error) {
	s.blocks = append(s.blocks, new(bytes.Buffer))
	return 0, nil
}

func (s *saveOp) endBlock() error {
	n := len(s.blocks)
	if n == 0 {
		return fmt.Errorf("%w: end without begin", ErrBlockMismatch)
	}
	block := s.blocks[n-1]
	s.blocks = s.blocks[:n-1]

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(block.Len()))
	if err := s.transfer(size[:]); err != nil {
		return err
	}
	return s.transfer(block.Bytes())
}

func (s *saveOp) skip(n int32) error {
	return nil
}
