package protocol

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	frameHeaderSize = 5

	// frameCompressed marks a zstd-compressed frame body.
	frameCompressed uint8 = 1 << 0

	// DefaultMaxFrameSize bounds one reliable frame on the wire.
	DefaultMaxFrameSize = 4 << 20

	// DefaultCompressThreshold is the smallest body worth compressing.
	DefaultCompressThreshold = 512
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultMaxFrameSize))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Framer turns message bytes into self-delimiting reliable frames:
// [u32 body length][u8 flags][body]. Bodies of at least Threshold bytes are
// zstd-compressed when that makes them smaller.
type Framer struct {
	Threshold int
	MaxSize   int
}

func NewFramer(threshold, maxSize int) Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return Framer{Threshold: threshold, MaxSize: maxSize}
}

// Pack returns one complete frame for payload.
func (f Framer) Pack(payload []byte) ([]byte, error) {
	body, flags := payload, uint8(0)
	if f.Threshold > 0 && len(payload) >= f.Threshold {
		enc, _, err := codecs()
		if err != nil {
			return nil, err
		}
		if packed := enc.EncodeAll(payload, nil); len(packed) < len(payload) {
			body, flags = packed, frameCompressed
		}
	}
	if len(body) > f.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	out := make([]byte, 0, frameHeaderSize+len(body))
	out = le.AppendUint32(out, uint32(len(body)))
	out = append(out, flags)
	return append(out, body...), nil
}

// Unpack decodes a frame produced by Pack.
func (f Framer) Unpack(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, ErrShortBuffer
	}
	n := int(le.Uint32(frame))
	if n != len(frame)-frameHeaderSize {
		return nil, fmt.Errorf("%w: frame length %d, have %d", ErrMalformed, n, len(frame)-frameHeaderSize)
	}
	return f.body(frame[4], frame[frameHeaderSize:])
}

// ReadFrame reads exactly one frame from r and returns its payload.
func (f Framer) ReadFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(le.Uint32(hdr[:]))
	if n > f.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return f.body(hdr[4], body)
}

func (f Framer) body(flags uint8, body []byte) ([]byte, error) {
	if flags&^frameCompressed != 0 {
		return nil, fmt.Errorf("%w: frame flags 0x%02x", ErrMalformed, flags)
	}
	if flags&frameCompressed == 0 {
		return body, nil
	}
	_, dec, err := codecs()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return out, nil
}
