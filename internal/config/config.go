package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Session     SessionConfig    `yaml:"session"`
	Decode      DecodeConfig     `yaml:"decode"`
	Engine      EngineConfig     `yaml:"engine"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SessionConfig shapes the recording session lifecycle.
type SessionConfig struct {
	Language string `yaml:"language"`
	// Buffered streams or decoded sample runs below these thresholds are
	// treated as silence and skip the engine entirely.
	MinAudioBytes int `yaml:"min_audio_bytes"`
	MinSamples    int `yaml:"min_samples"`
}

type DecodeConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	SampleRate int    `yaml:"sample_rate"`
}

type EngineConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	Model           string `yaml:"model"`
	Device          string `yaml:"device"`
	ComputeType     string `yaml:"compute_type"`
	BeamSize        int    `yaml:"beam_size"`
	AutoTune        bool   `yaml:"auto_tune"`
	VADMinSilenceMS int    `yaml:"vad_min_silence_ms"`
	VADSpeechPadMS  int    `yaml:"vad_speech_pad_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmur-bridge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8765,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/murmur-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Session: SessionConfig{
			Language:      "en",
			MinAudioBytes: 1000,
			MinSamples:    1000,
		},
		Decode: DecodeConfig{
			FFmpegPath: "ffmpeg",
			TimeoutMS:  30000,
			SampleRate: 16000,
		},
		Engine: EngineConfig{
			Mode:            "mock",
			Model:           "distil-large-v3",
			Device:          "cuda",
			ComputeType:     "int8_float16",
			BeamSize:        1,
			AutoTune:        true,
			VADMinSilenceMS: 500,
			VADSpeechPadMS:  200,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MURMUR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "MURMUR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "MURMUR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MURMUR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MURMUR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "MURMUR_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MURMUR_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Session.Language, "MURMUR_SESSION_LANGUAGE")
	overrideInt(&cfg.Session.MinAudioBytes, "MURMUR_SESSION_MIN_AUDIO_BYTES")
	overrideInt(&cfg.Session.MinSamples, "MURMUR_SESSION_MIN_SAMPLES")
	overrideString(&cfg.Decode.FFmpegPath, "MURMUR_DECODE_FFMPEG_PATH")
	overrideInt(&cfg.Decode.TimeoutMS, "MURMUR_DECODE_TIMEOUT_MS")
	overrideInt(&cfg.Decode.SampleRate, "MURMUR_DECODE_SAMPLE_RATE")
	overrideString(&cfg.Engine.Mode, "MURMUR_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "MURMUR_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Model, "MURMUR_ENGINE_MODEL")
	overrideString(&cfg.Engine.Device, "MURMUR_ENGINE_DEVICE")
	overrideString(&cfg.Engine.ComputeType, "MURMUR_ENGINE_COMPUTE_TYPE")
	overrideInt(&cfg.Engine.BeamSize, "MURMUR_ENGINE_BEAM_SIZE")
	overrideBool(&cfg.Engine.AutoTune, "MURMUR_ENGINE_AUTO_TUNE")
	overrideInt(&cfg.Engine.VADMinSilenceMS, "MURMUR_ENGINE_VAD_MIN_SILENCE_MS")
	overrideInt(&cfg.Engine.VADSpeechPadMS, "MURMUR_ENGINE_VAD_SPEECH_PAD_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Session.MinAudioBytes < 0 {
		return errors.New("session.min_audio_bytes must be >= 0")
	}
	if cfg.Session.MinSamples < 0 {
		return errors.New("session.min_samples must be >= 0")
	}
	if cfg.Decode.FFmpegPath == "" {
		return errors.New("decode.ffmpeg_path must not be empty")
	}
	if cfg.Decode.TimeoutMS <= 0 {
		return errors.New("decode.timeout_ms must be positive")
	}
	if cfg.Decode.SampleRate <= 0 {
		return errors.New("decode.sample_rate must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.BeamSize <= 0 {
		return errors.New("engine.beam_size must be positive")
	}
	if cfg.Engine.VADMinSilenceMS < 0 {
		return errors.New("engine.vad_min_silence_ms must be >= 0")
	}
	if cfg.Engine.VADSpeechPadMS < 0 {
		return errors.New("engine.vad_speech_pad_ms must be >= 0")
	}
	return nil
}
