package hardware

import (
	"testing"

	"github.com/murmurlabs/murmur/internal/config"
)

func TestTierSelection(t *testing.T) {
	cases := []struct {
		name    string
		info    Info
		model   string
		device  string
		compute string
	}{
		{"gpu", Info{AcceleratorAvailable: true, TotalMemoryGB: 4}, "distil-large-v3", "cuda", "int8_float16"},
		{"cpu high memory", Info{TotalMemoryGB: 16}, "small", "cpu", "int8"},
		{"cpu low memory", Info{TotalMemoryGB: 4}, "tiny", "cpu", "int8"},
	}
	for _, tc := range cases {
		model, device, compute := tier(tc.info)
		if model != tc.model || device != tc.device || compute != tc.compute {
			t.Fatalf("%s: got %s/%s/%s, want %s/%s/%s", tc.name, model, device, compute, tc.model, tc.device, tc.compute)
		}
	}
}

func TestApplyRespectsAutoTuneFlag(t *testing.T) {
	cfg := config.EngineConfig{AutoTune: false, Model: "custom", Device: "cpu", ComputeType: "int8", BeamSize: 4}
	Apply(&cfg, Info{AcceleratorAvailable: true})
	if cfg.Model != "custom" || cfg.BeamSize != 4 {
		t.Fatalf("expected config untouched, got %+v", cfg)
	}

	cfg.AutoTune = true
	Apply(&cfg, Info{AcceleratorAvailable: true})
	if cfg.Model != "distil-large-v3" || cfg.Device != "cuda" {
		t.Fatalf("expected gpu tier applied, got %+v", cfg)
	}
	if cfg.BeamSize != 1 {
		t.Fatalf("expected beam size forced to 1, got %d", cfg.BeamSize)
	}
}

func TestParseMemInfoGB(t *testing.T) {
	data := []byte("MemTotal:       16384000 kB\nMemFree:         1000000 kB\n")
	gb := parseMemInfoGB(data)
	if gb < 15.0 || gb > 16.0 {
		t.Fatalf("expected roughly 15.6 GB, got %f", gb)
	}
	if got := parseMemInfoGB([]byte("garbage")); got != fallbackMemoryGB {
		t.Fatalf("expected fallback for unparseable input, got %f", got)
	}
}
