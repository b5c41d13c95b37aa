// Package hardware probes the local machine and picks default engine
// parameters. It only influences configuration defaults; nothing in the
// session pipeline depends on it.
package hardware

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/murmurlabs/murmur/internal/config"
)

// Info summarizes what was detected on this host.
type Info struct {
	AcceleratorAvailable bool
	GPUName              string
	TotalMemoryGB        float64
	CPUCount             int
}

const fallbackMemoryGB = 8.0

// Detect probes for a CUDA-capable GPU and total system memory.
func Detect(log *slog.Logger) Info {
	info := Info{
		TotalMemoryGB: readMemInfoGB("/proc/meminfo"),
		CPUCount:      runtime.NumCPU(),
	}
	if name, ok := probeGPU(); ok {
		info.AcceleratorAvailable = true
		info.GPUName = name
	}
	log.Info("hardware detected",
		slog.Bool("accelerator", info.AcceleratorAvailable),
		slog.String("gpu", info.GPUName),
		slog.Float64("memory_gb", info.TotalMemoryGB),
		slog.Int("cpus", info.CPUCount))
	return info
}

// Apply tunes engine parameters for the detected hardware when auto tuning is
// enabled. Explicitly configured engines are left alone.
func Apply(cfg *config.EngineConfig, info Info) {
	if !cfg.AutoTune {
		return
	}
	model, device, compute := tier(info)
	cfg.Model = model
	cfg.Device = device
	cfg.ComputeType = compute
	cfg.BeamSize = 1
}

// tier picks the model size for the machine: best quality model on a GPU, a
// balanced model on a CPU with headroom, the smallest model otherwise.
func tier(info Info) (model, device, compute string) {
	switch {
	case info.AcceleratorAvailable:
		return "distil-large-v3", "cuda", "int8_float16"
	case info.TotalMemoryGB >= 8:
		return "small", "cpu", "int8"
	default:
		return "tiny", "cpu", "int8"
	}
}

func probeGPU() (string, bool) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if name == "" {
		return "", false
	}
	return name, true
}

func readMemInfoGB(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallbackMemoryGB
	}
	return parseMemInfoGB(data)
}

func parseMemInfoGB(data []byte) float64 {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			break
		}
		return kb / (1024 * 1024)
	}
	return fallbackMemoryGB
}
