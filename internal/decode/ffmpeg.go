package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/murmurlabs/murmur/internal/config"
)

// ErrEmptyOutput is returned when ffmpeg exits cleanly but produces no
// samples, typically for a truncated or silent container.
var ErrEmptyOutput = errors.New("decode produced no samples")

type ffmpegDecoder struct {
	path       string
	sampleRate int
	timeout    time.Duration
	log        *slog.Logger
}

// NewFFmpegDecoder builds a Decoder that shells out to ffmpeg. The container
// format is forced to webm, which parses leniently for partial streams.
func NewFFmpegDecoder(cfg config.DecodeConfig, log *slog.Logger) Decoder {
	return &ffmpegDecoder{
		path:       cfg.FFmpegPath,
		sampleRate: cfg.SampleRate,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
		log:        log.With(slog.String("component", "decoder")),
	}
}

func (d *ffmpegDecoder) Decode(ctx context.Context, blob []byte) ([]float32, error) {
	file, err := os.CreateTemp(os.TempDir(), "murmur_audio_*.webm")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(blob); err != nil {
		file.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	command := exec.CommandContext(ctx, d.path,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "webm",
		"-i", file.Name(),
		"-f", "f32le",
		"-ar", strconv.Itoa(d.sampleRate),
		"-ac", "1",
		"pipe:1",
	)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	start := time.Now()
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg timed out after %s: %w", d.timeout, ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}

	samples := samplesFromF32LE(stdout.Bytes())
	if len(samples) == 0 {
		return nil, ErrEmptyOutput
	}

	d.log.Info("decoded audio",
		slog.Int("input_bytes", len(blob)),
		slog.Int("samples", len(samples)),
		slog.Float64("seconds", float64(len(samples))/float64(d.sampleRate)),
		slog.Duration("took", time.Since(start)))
	return samples, nil
}

// samplesFromF32LE reinterprets little-endian float32 PCM. A trailing partial
// sample is dropped.
func samplesFromF32LE(raw []byte) []float32 {
	n := len(raw) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
