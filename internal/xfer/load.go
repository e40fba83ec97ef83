package xfer

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/pierrec/lz4/v4"
)

// lz4FrameMagic marks a compressed save file.
const lz4FrameMagic = 0x184D2204

// loadOp reads transferred bytes from a stream.
type loadOp struct {
	r    io.Reader
	file *os.File
	path string
}

// NewLoad returns a load Xfer reading from r. Compressed input is detected
// and decompressed transparently.
func NewLoad(r io.Reader, opts ...Option) *Xfer {
	return newXfer(&loadOp{r: detectCompression(r)}, opts)
}

// OpenLoad returns a load Xfer reading the named file.
func OpenLoad(path string, opts ...Option) (*Xfer, error) {
	x := newXfer(&loadOp{}, opts)
	if err := x.Open(path); err != nil {
		return nil, err
	}
	return x, nil
}

func detectCompression(r io.Reader) io.Reader {
	if r == nil {
		return nil
	}
	br := bufio.NewReader(r)
	if magic, err := br.Peek(4); err == nil && binary.LittleEndian.Uint32(magic) == lz4FrameMagic {
		return lz4.NewReader(br)
	}
	return br
}

func (l *loadOp) open(identifier string) error {
	if l.file != nil {
		return fmt.Errorf("%w: %s while %s is open", ErrFileAlreadyOpen, identifier, l.path)
	}
	f, err := os.Open(identifier)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, identifier)
		}
		return fmt.Errorf("%w: %s: %v", ErrReadError, identifier, err)
	}
	l.file = f
	l.path = identifier
	l.r = detectCompression(f)
	runtime.SetFinalizer(l, finalizeLoad)
	return nil
}

// finalizeLoad closes a file that was never closed by its owner.
func finalizeLoad(l *loadOp) {
	if l.file != nil {
		log.Printf("❌ xfer: load file %s was never closed, closing it now", l.path)
		l.file.Close()
		l.file = nil
	}
}

func (l *loadOp) close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.r = nil
	runtime.SetFinalizer(l, nil)
	return err
}

func (l *loadOp) transfer(p []byte) error {
	if l.r == nil {
		return ErrFileNotOpen
	}
	if _, err := io.ReadFull(l.r, p); err != nil {
		return fmt.Errorf("%w: wanted %d bytes: %v", ErrReadError, len(p), err)
	}
	return nil
}

func (l *loadOp) beginBlock() (int32, error) {
	var size [4]byte
	if err := l.transfer(size[:]); err != nil {
		return 0, err
	}
	n := int32(binary.LittleEndian.Uint32(size[:]))
	if n < 0 {
		return 0, fmt.Errorf("%w: negative block size %d", ErrReadError, n)
	}
	return n, nil
}

func (l *loadOp) endBlock() error {
	return nil
}

func (l *loadOp) skip(n int32) error {
	if l.r == nil {
		return ErrFileNotOpen
	}
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, l.r, int64(n)); err != nil {
		return fmt.Errorf("%w: skipping %d bytes: %v", ErrReadError, n, err)
	}
	return nil
}
