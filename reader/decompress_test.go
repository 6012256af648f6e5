package reader

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/apperr"
)

const sampleCSV = "time,coin,funding,open_interest,prev_day_px,day_ntl_vlm,premium,oracle_px,mark_px,mid_px,impact_bid_px,impact_ask_px\n" +
	"2024-01-01T00:00:00Z,BTC,0.0001,1000.5,42000.0,1000000.0,0.0002,42100.0,42150.0,42125.0,42120.0,42130.0\n"

func compressFrame(t testing.TB, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		t.Fatalf("lz4 write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("lz4 close: %v", err)
	}
	return buf.Bytes()
}

func compressBlock(t testing.TB, text string) []byte {
	t.Helper()
	dst := make([]byte, lz4.CompressBlockBound(len(text)))
	n, err := lz4.CompressBlock([]byte(text), dst, nil)
	if err != nil {
		t.Fatalf("lz4 compress block: %v", err)
	}
	if n == 0 {
		t.Fatalf("input was not compressible")
	}
	return dst[:n]
}

func TestDecompressFrameRoundTrip(t *testing.T) {
	for _, text := range []string{sampleCSV, "", "ünïcode ✓\n", strings.Repeat("BTC,ETH,SOL\n", 5000)} {
		got, err := Decompress(compressFrame(t, text), EncodingFrame)
		if err != nil {
			t.Fatalf("Decompress failed: %v", err)
		}
		if got != text {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(text))
		}
	}
}

func TestDecompressBlockRoundTrip(t *testing.T) {
	text := strings.Repeat(sampleCSV, 200)
	got, err := Decompress(compressBlock(t, text), EncodingBlock)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if got != text {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(text))
	}
}

func TestDecompressCorruptInput(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		enc  Encoding
	}{
		{"frame magic then garbage", []byte{0x04, 0x22, 0x4D, 0x18, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, EncodingFrame},
		{"no magic", []byte("plain text"), EncodingFrame},
		{"empty frame", nil, EncodingFrame},
		{"block garbage", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, EncodingBlock},
		{"block given to frame decoder", compressBlock(t, strings.Repeat(sampleCSV, 50)), EncodingFrame},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decompress(c.raw, c.enc)
			if err == nil {
				t.Fatalf("expected error")
			}
			if apperr.KindOf(err) != apperr.KindData {
				t.Fatalf("expected Data error, got %v", err)
			}
		})
	}
}

func TestDecompressLimit(t *testing.T) {
	text := strings.Repeat(sampleCSV, 8000)

	for _, c := range []struct {
		name string
		raw  []byte
		enc  Encoding
	}{
		{"frame", compressFrame(t, text), EncodingFrame},
		{"block", compressBlock(t, text), EncodingBlock},
	} {
		t.Run(c.name, func(t *testing.T) {
			got, err := DecompressLimit(c.raw, c.enc, len(text))
			if err != nil {
				t.Fatalf("DecompressLimit at exact size: %v", err)
			}
			if len(got) != len(text) {
				t.Fatalf("got %d bytes, want %d", len(got), len(text))
			}

			_, err = DecompressLimit(c.raw, c.enc, len(text)/2)
			if apperr.KindOf(err) != apperr.KindData {
				t.Fatalf("expected Data error over the limit, got %v", err)
			}
		})
	}
}

func TestDecompressRandomInputAllocationIsBounded(t *testing.T) {
	const limit = 8 << 20
	rng := rand.New(rand.NewSource(7))
	noise := make([]byte, 4<<20)
	rng.Read(noise)

	framed := make([]byte, 4+len(noise))
	binary.LittleEndian.PutUint32(framed, frameMagic)
	copy(framed[4:], noise)

	for _, c := range []struct {
		name string
		raw  []byte
		enc  Encoding
	}{
		{"block", noise, EncodingBlock},
		{"frame", framed, EncodingFrame},
	} {
		t.Run(c.name, func(t *testing.T) {
			var before, after runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&before)

			_, err := DecompressLimit(c.raw, c.enc, limit)

			runtime.ReadMemStats(&after)
			if err == nil {
				t.Fatalf("random input decoded without error")
			}
			if apperr.KindOf(err) != apperr.KindData {
				t.Fatalf("expected Data error, got %v", err)
			}
			if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 4*limit {
				t.Fatalf("allocated %d MiB decoding %d MiB of noise", alloc>>20, len(c.raw)>>20)
			}
		})
	}
}

func FuzzDecompress(f *testing.F) {
	f.Add(compressFrame(f, sampleCSV), false)
	f.Add(compressBlock(f, strings.Repeat(sampleCSV, 4)), true)
	f.Add([]byte{0x04, 0x22, 0x4D, 0x18, 0x64, 0x40, 0xA7}, false)
	f.Add([]byte{0xF0, 0xFF, 0xFF, 0xFF, 0x00}, true)
	f.Add([]byte{}, true)

	f.Fuzz(func(t *testing.T, raw []byte, block bool) {
		enc := EncodingFrame
		if block {
			enc = EncodingBlock
		}
		_, err := DecompressLimit(raw, enc, 1<<20)
		if err != nil && apperr.KindOf(err) != apperr.KindData {
			t.Fatalf("expected Data error, got %v", err)
		}
	})
}

func TestDecompressRejectsInvalidUTF8(t *testing.T) {
	_, err := Decompress(compressFrame(t, string([]byte{0xff, 0xfe, 0xfd})), EncodingFrame)
	if apperr.KindOf(err) != apperr.KindData {
		t.Fatalf("expected Data error, got %v", err)
	}
}

func TestVintageEncodingFor(t *testing.T) {
	v, err := VintageFromConfig(config.EncodingRules{Encoding: "frame", LegacyEncoding: "block", LegacyBefore: "2023-06-01"})
	if err != nil {
		t.Fatalf("VintageFromConfig: %v", err)
	}
	if got := v.EncodingFor(time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC)); got != EncodingBlock {
		t.Errorf("expected block before cutoff, got %s", got)
	}
	if got := v.EncodingFor(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)); got != EncodingFrame {
		t.Errorf("expected frame from cutoff, got %s", got)
	}

	plain, err := VintageFromConfig(config.EncodingRules{})
	if err != nil {
		t.Fatalf("VintageFromConfig: %v", err)
	}
	if plain.EncodingFor(time.Time{}) != EncodingFrame {
		t.Errorf("default encoding should be frame")
	}

	if _, err := VintageFromConfig(config.EncodingRules{Encoding: "zstd"}); err == nil {
		t.Errorf("expected error for unknown encoding")
	}
}
