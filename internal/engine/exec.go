package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur/internal/config"
)

const wavSampleRate = 16000

type execEngine struct {
	cmd []string
	cfg config.EngineConfig
	mu  sync.Mutex
}

type execResult struct {
	Segments []Segment `json:"segments"`
}

// NewExecEngine wraps an external recognizer command. The command receives a
// 16 kHz mono WAV file and prints {"segments":[{"text","confidence"}]} on
// stdout.
func NewExecEngine(cfg config.EngineConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, samples []float32, language string, opts Options) ([]Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "murmur_stt_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeSamplesToWav(file, samples); err != nil {
		return nil, err
	}

	base := e.cmd[0]
	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if e.cfg.Model != "" {
		cmdArgs = append(cmdArgs, "--model", e.cfg.Model)
	}
	if e.cfg.Device != "" {
		cmdArgs = append(cmdArgs, "--device", e.cfg.Device)
	}
	if e.cfg.ComputeType != "" {
		cmdArgs = append(cmdArgs, "--compute-type", e.cfg.ComputeType)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}
	cmdArgs = append(cmdArgs, "--beam-size", strconv.Itoa(opts.BeamSize))
	if opts.VADFilter {
		cmdArgs = append(cmdArgs,
			"--vad-filter",
			"--vad-min-silence-ms", strconv.Itoa(opts.VADMinSilenceMS),
			"--vad-speech-pad-ms", strconv.Itoa(opts.VADSpeechPadMS),
		)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return resp.Segments, nil
}

func writeSamplesToWav(file *os.File, samples []float32) error {
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: wavSampleRate}}
	buffer.Data = make([]int, len(samples))
	for i, s := range samples {
		buffer.Data[i] = int(pcm16FromFloat(s))
	}

	enc := wav.NewEncoder(file, wavSampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// pcm16FromFloat clamps to the int16 range before scaling.
func pcm16FromFloat(s float32) int16 {
	switch {
	case s >= 1.0:
		return 32767
	case s <= -1.0:
		return -32768
	default:
		return int16(s * 32767)
	}
}
