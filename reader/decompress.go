package reader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pierrec/lz4/v4"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/apperr"
)

// Encoding is the LZ4 container an archive object was written with.
type Encoding int

const (
	EncodingFrame Encoding = iota
	EncodingBlock
)

func (e Encoding) String() string {
	if e == EncodingBlock {
		return "block"
	}
	return "frame"
}

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "frame":
		return EncodingFrame, nil
	case "block":
		return EncodingBlock, nil
	default:
		return EncodingFrame, fmt.Errorf("unknown lz4 encoding %q", s)
	}
}

const (
	frameMagic = 0x184D2204

	// LZ4 cannot expand input by more than 255x.
	maxBlockRatio = 255

	// DefaultMaxDecompressedBytes bounds one decompressed archive object
	// when no limit is configured.
	DefaultMaxDecompressedBytes = 256 << 20
)

// Decompress inflates raw with the given encoding and returns it as text,
// bounded by DefaultMaxDecompressedBytes.
func Decompress(raw []byte, enc Encoding) (string, error) {
	return DecompressLimit(raw, enc, 0)
}

// DecompressLimit is Decompress with an explicit bound on the decompressed
// size. A non-positive limit means DefaultMaxDecompressedBytes.
func DecompressLimit(raw []byte, enc Encoding, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultMaxDecompressedBytes
	}
	var (
		out []byte
		err error
	)
	switch enc {
	case EncodingFrame:
		out, err = decompressFrame(raw, limit)
	case EncodingBlock:
		out, err = decompressBlock(raw, limit)
	default:
		return "", apperr.Dataf(nil, "unsupported encoding %d", enc)
	}
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", apperr.Dataf(nil, "decompressed %s payload is not valid UTF-8", enc)
	}
	return string(out), nil
}

func decompressFrame(raw []byte, limit int) ([]byte, error) {
	if len(raw) < 4 || binary.LittleEndian.Uint32(raw) != frameMagic {
		return nil, apperr.Dataf(nil, "lz4 frame magic not found")
	}
	out, err := io.ReadAll(io.LimitReader(lz4.NewReader(bytes.NewReader(raw)), int64(limit)+1))
	if err != nil {
		return nil, apperr.Dataf(err, "lz4 frame decode failed")
	}
	if len(out) > limit {
		return nil, apperr.Dataf(nil, "lz4 frame exceeds %d decompressed bytes", limit)
	}
	return out, nil
}

// decompressBlock decodes into a single buffer sized to the smaller of the
// limit and the largest expansion of raw. A block carries no size header, so
// corrupt input and output larger than the buffer both fail here.
func decompressBlock(raw []byte, limit int) ([]byte, error) {
	if len(raw) == 0 {
		return []byte{}, nil
	}

	size := limit
	if len(raw) <= limit/maxBlockRatio {
		size = len(raw) * maxBlockRatio
	}
	buf := make([]byte, size)
	n, err := lz4.UncompressBlock(raw, buf)
	if err != nil {
		return nil, apperr.Dataf(err, "lz4 block decode failed (output limit %d bytes)", size)
	}
	return buf[:n], nil
}

// Vintage picks the encoding of an archive object by the period it covers.
type Vintage struct {
	Current      Encoding
	Legacy       Encoding
	LegacyBefore time.Time
	// MaxBytes bounds the decompressed size of one object; 0 means
	// DefaultMaxDecompressedBytes.
	MaxBytes int
}

// VintageFromConfig converts validated encoding rules.
func VintageFromConfig(rules config.EncodingRules) (Vintage, error) {
	current, err := ParseEncoding(rules.Encoding)
	if err != nil {
		return Vintage{}, err
	}
	v := Vintage{Current: current, Legacy: current}
	if rules.LegacyBefore == "" {
		return v, nil
	}
	if v.Legacy, err = ParseEncoding(rules.LegacyEncoding); err != nil {
		return Vintage{}, err
	}
	if v.LegacyBefore, err = time.Parse("2006-01-02", rules.LegacyBefore); err != nil {
		return Vintage{}, fmt.Errorf("invalid legacy_before %q: %w", rules.LegacyBefore, err)
	}
	return v, nil
}

func (v Vintage) EncodingFor(t time.Time) Encoding {
	if !v.LegacyBefore.IsZero() && t.Before(v.LegacyBefore) {
		return v.Legacy
	}
	return v.Current
}
