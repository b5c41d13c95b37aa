package decode

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/murmurlabs/murmur/internal/config"
)

func TestSamplesFromF32LE(t *testing.T) {
	// 0.5 and -1.0 as little-endian float32, plus two trailing garbage bytes.
	raw := []byte{0x00, 0x00, 0x00, 0x3f, 0x00, 0x00, 0x80, 0xbf, 0xde, 0xad}
	samples := samplesFromF32LE(raw)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if math.Abs(float64(samples[0])-0.5) > 1e-6 {
		t.Fatalf("expected 0.5, got %f", samples[0])
	}
	if math.Abs(float64(samples[1])+1.0) > 1e-6 {
		t.Fatalf("expected -1.0, got %f", samples[1])
	}
}

func TestSamplesFromF32LEEmpty(t *testing.T) {
	if got := samplesFromF32LE(nil); len(got) != 0 {
		t.Fatalf("expected no samples, got %d", len(got))
	}
}

func TestDecodeMissingBinary(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewFFmpegDecoder(config.DecodeConfig{
		FFmpegPath: "/nonexistent/ffmpeg",
		TimeoutMS:  1000,
		SampleRate: 16000,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.Decode(ctx, []byte("not audio")); err == nil {
		t.Fatal("expected error for missing ffmpeg binary")
	}
}
