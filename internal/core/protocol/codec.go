package protocol

import (
	"encoding/binary"
	"math"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/pkg/generic"
)

// MaxStringLen bounds every length-prefixed string on the wire.
const MaxStringLen = math.MaxUint16

// MaxArrayLen bounds every length-prefixed array on the wire.
const MaxArrayLen = math.MaxUint16

var le = binary.LittleEndian

// Writer appends fixed-width little-endian fields to a byte slice.
type Writer struct {
	buf []byte
	err error
}

var writerPool = generic.NewPool(
	func() *Writer { return &Writer{buf: make([]byte, 0, 256)} },
	func(w *Writer) bool {
		if cap(w.buf) > 64*1024 {
			return false
		}
		w.Reset()
		return true
	},
)

// AcquireWriter takes an empty Writer from the pool.
func AcquireWriter() *Writer {
	return writerPool.Get()
}

// ReleaseWriter hands w back to the pool. Bytes previously returned by w
// must not be used afterwards.
func ReleaseWriter(w *Writer) {
	writerPool.Put(w)
}

// NewWriterSize creates an unpooled Writer with room for n bytes.
func NewWriterSize(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

// Bytes returns the encoded bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Err returns the first encoding error, if any.
func (w *Writer) Err() error { return w.err }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U16(v uint16) { w.buf = le.AppendUint16(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = le.AppendUint32(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = le.AppendUint64(w.buf, v) }

func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

// Raw appends b without a length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// String writes a u16 length prefix followed by the raw bytes.
func (w *Writer) String(s string) {
	if len(s) > MaxStringLen {
		w.fail(ErrStringTooLong)
		return
	}
	w.U16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// Count writes an array length prefix.
func (w *Writer) Count(n int) {
	if n > MaxArrayLen {
		w.fail(ErrTooManyEntries)
		return
	}
	w.U16(uint16(n))
}

func (w *Writer) Vec3(v models.Vec3) {
	w.F32(v.X)
	w.F32(v.Y)
	w.F32(v.Z)
}

func (w *Writer) EntityID(id models.EntityID) { w.U16(uint16(id)) }

func (w *Writer) Peer(p models.PeerID) { w.U32(uint32(p)) }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Reader consumes fields written by Writer. The first failure is sticky:
// later reads return zero values and Err reports the original cause.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return le.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return le.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return le.Uint64(b)
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

func (r *Reader) F64() float64 { return math.Float64frombits(r.U64()) }

func (r *Reader) String() string {
	n := int(r.U16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// Count reads an array length prefix and checks that at least n*minSize
// bytes remain, so a corrupt count cannot trigger a huge allocation.
func (r *Reader) Count(minSize int) int {
	n := int(r.U16())
	if r.err != nil {
		return 0
	}
	if minSize > 0 && n*minSize > r.Remaining() {
		r.err = ErrShortBuffer
		return 0
	}
	return n
}

func (r *Reader) Vec3() models.Vec3 {
	return models.Vec3{X: r.F32(), Y: r.F32(), Z: r.F32()}
}

func (r *Reader) EntityID() models.EntityID { return models.EntityID(r.U16()) }

func (r *Reader) Peer() models.PeerID { return models.PeerID(r.U32()) }
