package engine

import (
	"context"

	"github.com/murmurlabs/murmur/internal/config"
)

// Segment is one recognized span of speech.
type Segment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Options control a single transcription call.
type Options struct {
	BeamSize        int
	VADFilter       bool
	VADMinSilenceMS int
	VADSpeechPadMS  int
}

// OptionsFromConfig derives per-call decoding options. Beam size 1 keeps the
// engine on its single-best path for low latency.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		BeamSize:        cfg.BeamSize,
		VADFilter:       true,
		VADMinSilenceMS: cfg.VADMinSilenceMS,
		VADSpeechPadMS:  cfg.VADSpeechPadMS,
	}
}

// Engine abstracts the transcription backend. Implementations are not
// assumed safe for concurrent calls; callers serialize.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language string, opts Options) ([]Segment, error)
}
