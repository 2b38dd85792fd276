package cache

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum encoded entry size before
	// compression is considered.
	CompressionThreshold = 2048

	// MaxEntrySize caps the decompressed size of an entry.
	MaxEntrySize = 1 << 20
)

// zstdMagic is the zstd frame header. A JSON document never starts with it.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ErrEntryTooLarge is returned when an entry exceeds MaxEntrySize.
var ErrEntryTooLarge = errors.New("entry exceeds maximum size")

// Codec compresses large entries with zstd. Small entries are stored as
// plain JSON so the cache directory stays readable.
// Encoder and decoder are goroutine-safe and can be reused.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewCodec creates a codec with a shared zstd encoder and decoder.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxEntrySize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{
		encoder: enc,
		decoder: dec,
	}, nil
}

// Close releases encoder/decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode compresses data when it is at least CompressionThreshold bytes and
// compression actually shrinks it.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	if len(data) > MaxEntrySize {
		return nil, ErrEntryTooLarge
	}
	if len(data) < CompressionThreshold {
		return data, nil
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()
	if enc == nil {
		return data, nil
	}

	compressed := enc.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, nil
	}
	return compressed, nil
}

// Decode returns the plain entry bytes, decompressing zstd frames.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}

	c.mu.RLock()
	dec := c.decoder
	c.mu.RUnlock()
	if dec == nil {
		return nil, errors.New("codec closed")
	}

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, ErrEntryTooLarge
		}
		return nil, fmt.Errorf("decompressing entry: %w", err)
	}
	if len(out) > MaxEntrySize {
		return nil, ErrEntryTooLarge
	}
	return out, nil
}
