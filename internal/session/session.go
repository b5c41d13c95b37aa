// Package session owns the recording lifecycle: Idle -> Recording ->
// Finalizing -> Stopped. Audio fragments are buffered while recording and the
// decode+transcribe pipeline runs exactly once, at stop time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/decode"
	"github.com/murmurlabs/murmur/internal/engine"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Result is the terminal output of a session, delivered through the sink.
type Result struct {
	Text  string
	Final bool
}

// Sink receives session results. It must not block; the server backs it with
// a buffered outbound queue.
type Sink func(Result)

// finalizeOutcome separates a skipped attempt (audio below the minimums)
// from a failed pipeline run; both leave the prior transcript in place.
type finalizeOutcome int

const (
	finalizeOK finalizeOutcome = iota
	finalizeSkipped
	finalizeFailed
)

var ErrAlreadyStarted = errors.New("session already started")

// Session is one recording-to-transcript lifecycle. Methods are safe for
// concurrent use, though the connection handler serializes inbound calls.
type Session struct {
	id      string
	cfg     config.SessionConfig
	decoder decode.Decoder
	loader  *engine.Loader
	opts    engine.Options
	sink    Sink
	log     *slog.Logger

	mu         sync.Mutex
	state      State
	language   string
	fragments  [][]byte
	transcript string
	skipped    bool
	engine     engine.Engine
}

func New(cfg config.SessionConfig, decoder decode.Decoder, loader *engine.Loader, opts engine.Options, sink Sink, log *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		cfg:     cfg,
		decoder: decoder,
		loader:  loader,
		opts:    opts,
		sink:    sink,
		log:     log.With(slog.String("component", "session"), slog.String("session_id", id)),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Language returns the hint resolved at start time.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Start resolves the language hint, clears buffered state and ensures the
// shared engine handle is loaded. Loading can block for seconds on first use.
func (s *Session) Start(ctx context.Context, language string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if language == "" {
		language = s.cfg.Language
	}
	s.language = language
	s.fragments = nil
	s.transcript = ""
	s.skipped = false
	s.mu.Unlock()

	eng, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.engine = eng
	s.state = StateRecording
	s.mu.Unlock()

	s.log.Info("recording started", slog.String("language", language))
	return nil
}

// FeedAudio appends one opaque fragment. Outside of Recording it is a silent
// no-op, which also covers fragments racing a stop.
func (s *Session) FeedAudio(fragment []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.fragments = append(s.fragments, fragment)
}

// BufferedBytes reports the total fragment payload currently held.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, f := range s.fragments {
		total += len(f)
	}
	return total
}

// Stop finalizes the session. It leaves Recording before any blocking work so
// that late fragments no-op, runs decode and transcribe at most once, and
// always returns a transcript string: on any pipeline failure the previous
// transcript (possibly empty) is returned. The terminal result is emitted
// through the sink exactly once.
func (s *Session) Stop(ctx context.Context) string {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		cached := s.transcript
		s.mu.Unlock()
		return cached
	case StateFinalizing:
		// A concurrent stop is already driving the pipeline; report what is
		// known without running it again.
		cached := s.transcript
		s.mu.Unlock()
		return cached
	case StateIdle:
		s.state = StateStopped
		cached := s.transcript
		s.mu.Unlock()
		return cached
	}

	s.state = StateFinalizing
	blob := concat(s.fragments)
	count := len(s.fragments)
	language := s.language
	eng := s.engine
	s.mu.Unlock()

	s.log.Info("finalizing", slog.Int("fragments", count), slog.Int("bytes", len(blob)))

	text, outcome := s.finalize(ctx, eng, blob, language)

	s.mu.Lock()
	if outcome == finalizeOK && text != "" {
		s.transcript = text
	}
	s.skipped = outcome == finalizeSkipped
	s.state = StateStopped
	final := s.transcript
	s.mu.Unlock()

	s.log.Info("session stopped", slog.Int("transcript_chars", len(final)))
	if s.sink != nil {
		s.sink(Result{Text: final, Final: true})
	}
	return final
}

// Abandon discards the session without running the pipeline. Used when a new
// start request replaces an existing session.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.state = StateStopped
	s.fragments = nil
	s.log.Info("session abandoned")
}

// finalize runs decode then transcribe. Failures are logged and absorbed so
// that the caller keeps the previous transcript.
func (s *Session) finalize(ctx context.Context, eng engine.Engine, blob []byte, language string) (string, finalizeOutcome) {
	if len(blob) < s.cfg.MinAudioBytes {
		s.log.Info("audio below minimum, skipping transcription", slog.Int("bytes", len(blob)))
		return "", finalizeSkipped
	}

	start := time.Now()
	samples, err := s.decoder.Decode(ctx, blob)
	if err != nil {
		s.log.Warn("decode failed", slog.String("error", err.Error()))
		return "", finalizeFailed
	}
	if len(samples) < s.cfg.MinSamples {
		s.log.Info("decoded audio below minimum, skipping transcription", slog.Int("samples", len(samples)))
		return "", finalizeSkipped
	}

	segments, err := eng.Transcribe(ctx, samples, language, s.opts)
	if err != nil {
		s.log.Warn("transcription failed", slog.String("error", err.Error()))
		return "", finalizeFailed
	}

	text := engine.JoinSegments(segments)
	s.log.Info("transcription complete",
		slog.Int("segments", len(segments)),
		slog.Int("chars", len(text)),
		slog.Duration("took", time.Since(start)))
	return text, finalizeOK
}

// FinalizeSkipped reports whether the last stop skipped transcription
// because the buffered audio was below the configured minimums.
func (s *Session) FinalizeSkipped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

func concat(fragments [][]byte) []byte {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	blob := make([]byte, 0, total)
	for _, f := range fragments {
		blob = append(blob, f...)
	}
	return blob
}

// Describe renders a short state line for logs and health output.
func (s *Session) Describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s state=%s fragments=%d", s.id, s.state, len(s.fragments))
}
