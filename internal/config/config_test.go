package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8765 {
		t.Fatalf("expected default port 8765, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.Language != "en" {
		t.Fatalf("expected default language en, got %q", cfg.Session.Language)
	}
	if cfg.Decode.SampleRate != 16000 {
		t.Fatalf("expected 16kHz decode rate, got %d", cfg.Decode.SampleRate)
	}
	if cfg.Engine.BeamSize != 1 {
		t.Fatalf("expected greedy decoding by default, got beam size %d", cfg.Engine.BeamSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_HTTP_PORT", "9900")
	t.Setenv("MURMUR_SESSION_LANGUAGE", "de")
	t.Setenv("MURMUR_SESSION_MIN_AUDIO_BYTES", "2048")
	t.Setenv("MURMUR_DECODE_FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("MURMUR_DECODE_TIMEOUT_MS", "15000")
	t.Setenv("MURMUR_ENGINE_MODE", "exec")
	t.Setenv("MURMUR_ENGINE_COMMAND", "whisper-cli --json")
	t.Setenv("MURMUR_ENGINE_AUTO_TUNE", "false")
	t.Setenv("MURMUR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("MURMUR_BUS_EMBEDDED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 9900 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.Language != "de" {
		t.Fatalf("expected language override, got %q", cfg.Session.Language)
	}
	if cfg.Session.MinAudioBytes != 2048 {
		t.Fatalf("expected min audio bytes override, got %d", cfg.Session.MinAudioBytes)
	}
	if cfg.Decode.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("expected ffmpeg path override, got %q", cfg.Decode.FFmpegPath)
	}
	if cfg.Decode.TimeoutMS != 15000 {
		t.Fatalf("expected decode timeout override, got %d", cfg.Decode.TimeoutMS)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "whisper-cli --json" {
		t.Fatalf("expected engine overrides, got %+v", cfg.Engine)
	}
	if cfg.Engine.AutoTune {
		t.Fatal("expected auto tune disabled")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 bus servers, got %v", cfg.Bus.Servers)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.yaml")
	body := []byte("http:\n  bind: 0.0.0.0\n  port: 9000\nengine:\n  mode: exec\n  command: whisper-cli\n  beam_size: 2\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Bind != "0.0.0.0" || cfg.HTTP.Port != 9000 {
		t.Fatalf("expected http overrides from file, got %+v", cfg.HTTP)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.BeamSize != 2 {
		t.Fatalf("expected engine overrides from file, got %+v", cfg.Engine)
	}
	// Untouched sections keep their defaults.
	if cfg.Session.MinSamples != 1000 {
		t.Fatalf("expected default min samples, got %d", cfg.Session.MinSamples)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("MURMUR_ENGINE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}
