package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
	"unicode/utf16"
)

// writer appends little-endian fields to a byte slice.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) raw(p []byte) { w.buf = append(w.buf, p...) }

// cstring writes s followed by a NUL.
func (w *writer) cstring(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// unicode writes a unit count byte and that many UTF-16 code units.
func (w *writer) unicode(s string) error {
	units := utf16.Encode([]rune(s))
	if len(units) > math.MaxUint8 {
		return errTooLarge("text", len(units), math.MaxUint8)
	}
	w.u8(uint8(len(units)))
	for _, u := range units {
		w.u16(u)
	}
	return nil
}

func (w *writer) reset() { w.buf = w.buf[:0] }

// reader consumes little-endian fields. The first short read is sticky.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) u8() uint8 {
	if p := r.next(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if p := r.next(2); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if p := r.next(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int) []byte {
	p := r.next(n)
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}

func (r *reader) cstring() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.data[r.off:], 0)
	if i < 0 {
		r.err = ErrTruncated
		return ""
	}
	s := string(r.data[r.off : r.off+i])
	r.off += i + 1
	return s
}

func (r *reader) unicode() string {
	n := int(r.u8())
	units := make([]uint16, n)
	for i := range units {
		units[i] = r.u16()
	}
	if r.err != nil {
		return ""
	}
	return string(utf16.Decode(units))
}

// Writer pool for command encoding
var writerPool = sync.Pool{
	New: func() interface{} {
		return &writer{buf: make([]byte, 0, 512)}
	},
}

func getWriter() *writer {
	w := writerPool.Get().(*writer)
	w.reset()
	return w
}

func putWriter(w *writer) {
	writerPool.Put(w)
}
