// Package compression compresses HTTP batch payloads.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type string

const (
	TypeNone   Type = "none"
	TypeGzip   Type = "gzip"
	TypeZstd   Type = "zstd"
	TypeSnappy Type = "snappy"
	TypeLZ4    Type = "lz4"
)

// Level is an algorithm-specific compression level. Zero selects the default.
type Level int

// Config holds compression configuration.
type Config struct {
	Type  Type
	Level Level
}

// Enabled reports whether a compression algorithm is selected.
func (c Config) Enabled() bool {
	return c.Type != "" && c.Type != TypeNone
}

// ParseType parses a compression type name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy":
		return TypeSnappy, nil
	case "lz4":
		return TypeLZ4, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip, TypeZstd, TypeSnappy, TypeLZ4:
		return string(t)
	default:
		return ""
	}
}

// ParseContentEncoding maps a Content-Encoding header value to a Type.
func ParseContentEncoding(encoding string) Type {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return TypeGzip
	case "zstd":
		return TypeZstd
	case "snappy":
		return TypeSnappy
	case "lz4":
		return TypeLZ4
	default:
		return TypeNone
	}
}

// zstd encoders are safe for concurrent EncodeAll; one per level is kept.
var (
	zstdMu       sync.Mutex
	zstdEncoders = map[zstd.EncoderLevel]*zstd.Encoder{}
	zstdDecoder  *zstd.Decoder
	zstdDecOnce  sync.Once
	zstdDecErr   error
)

func zstdEncoder(level Level) (*zstd.Encoder, error) {
	el := zstd.SpeedDefault
	if level != 0 {
		el = zstd.EncoderLevelFromZstd(int(level))
	}
	zstdMu.Lock()
	defer zstdMu.Unlock()
	if enc, ok := zstdEncoders[el]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(el))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	zstdEncoders[el] = enc
	return enc, nil
}

// Compress compresses data. With compression disabled data is returned as is.
func Compress(data []byte, cfg Config) ([]byte, error) {
	if !cfg.Enabled() {
		return data, nil
	}

	var out []byte
	switch cfg.Type {
	case TypeGzip:
		var buf bytes.Buffer
		level := gzip.DefaultCompression
		if cfg.Level != 0 {
			level = int(cfg.Level)
		}
		gw, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if _, err := gw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write gzip data: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		out = buf.Bytes()
	case TypeZstd:
		enc, err := zstdEncoder(cfg.Level)
		if err != nil {
			return nil, err
		}
		out = enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	case TypeSnappy:
		out = snappy.Encode(nil, data)
	case TypeLZ4:
		var buf bytes.Buffer
		lw := lz4.NewWriter(&buf)
		if cfg.Level != 0 {
			if err := lw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(cfg.Level))); err != nil {
				return nil, fmt.Errorf("invalid lz4 level %d: %w", cfg.Level, err)
			}
		}
		if _, err := lw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write lz4 data: %w", err)
		}
		if err := lw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
		}
		out = buf.Bytes()
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}

	recordCompression(cfg.Type, len(data), len(out))
	return out, nil
}

// Decompress reverses Compress.
func Decompress(data []byte, t Type) ([]byte, error) {
	switch t {
	case TypeNone, "":
		return data, nil
	case TypeGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case TypeZstd:
		zstdDecOnce.Do(func() {
			zstdDecoder, zstdDecErr = zstd.NewReader(nil)
		})
		if zstdDecErr != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", zstdDecErr)
		}
		return zstdDecoder.DecodeAll(data, nil)
	case TypeSnappy:
		return snappy.Decode(nil, data)
	case TypeLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}
