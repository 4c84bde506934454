package protocol

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultMaxBodySize*4))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Compress sets FlagCompressed on h and returns the zstd encoding of body
// when body is at least threshold bytes. threshold <= 0 disables
// compression.
func Compress(h *Header, body []byte, threshold int) ([]byte, error) {
	if threshold <= 0 || len(body) < threshold {
		return body, nil
	}
	enc, _, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	h.Flags |= FlagCompressed
	return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
}

// Decompress undoes Compress for a received frame. Bodies without the flag
// pass through. The result is bounded by maxBody like the raw body.
func Decompress(h *Header, body []byte, maxBody int) ([]byte, error) {
	if !h.Compressed() {
		return body, nil
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	_, dec, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame %d: %w", h.Seq, err)
	}
	if len(out) > maxBody {
		return nil, fmt.Errorf("%w: %d bytes after decompression", ErrBodyTooLarge, len(out))
	}
	return out, nil
}
