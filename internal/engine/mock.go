package engine

import (
	"context"
	"fmt"
)

type mockEngine struct{}

// NewMockEngine returns an engine that reports the sample count instead of
// recognizing speech. Useful for wiring tests and bus consumers.
func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Transcribe(_ context.Context, samples []float32, language string, _ Options) ([]Segment, error) {
	return []Segment{{
		Text:       fmt.Sprintf("[transcript language=%s samples=%d]", language, len(samples)),
		Confidence: 0,
	}}, nil
}
