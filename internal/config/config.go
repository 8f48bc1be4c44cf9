package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Raw --gpus value; ManagedGPUs is the parsed form, nil when unset.
	GPUList     string
	ManagedGPUs []int

	PollInterval time.Duration
	Prober       string
	SMIPath      string
	LogLevel     string

	// Synthetic workload settings.
	MatrixSize      int
	WorkloadCommand string

	// Internal worker mode: when >= 0 the binary runs the occupancy
	// routine on this device instead of supervising.
	OccupyDevice int
}

func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("gpu-occupancy-agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cfg := Config{
		GPUList:         envString("GPUS", ""),
		PollInterval:    time.Duration(envInt("POLL_INTERVAL_SECONDS", 300)) * time.Second,
		Prober:          envString("PROBER", "smi"),
		SMIPath:         envString("NVIDIA_SMI_PATH", "nvidia-smi"),
		LogLevel:        envString("LOG_LEVEL", "info"),
		MatrixSize:      envInt("MATRIX_SIZE", 8192),
		WorkloadCommand: envString("WORKLOAD_COMMAND", ""),
		OccupyDevice:    -1,
	}

	fs.StringVar(&cfg.GPUList, "gpus", cfg.GPUList, "Comma-separated list of GPU indices to manage (e.g. '0,2,3'); empty means all")
	fs.DurationVar(&cfg.PollInterval, "interval", cfg.PollInterval, "Sleep between probe cycles")
	fs.StringVar(&cfg.Prober, "prober", cfg.Prober, "Usage prober backend: smi or nvml")
	fs.StringVar(&cfg.SMIPath, "smi-path", cfg.SMIPath, "Path to the nvidia-smi binary")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level: debug, info, warn, error")
	fs.IntVar(&cfg.MatrixSize, "matrix-size", cfg.MatrixSize, "Square matrix dimension for the synthetic workload")
	fs.StringVar(&cfg.WorkloadCommand, "workload-cmd", cfg.WorkloadCommand, "External occupancy command to run instead of the built-in worker")
	fs.IntVar(&cfg.OccupyDevice, "occupy-device", cfg.OccupyDevice, "Internal: run the occupancy worker on this device")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	ids, err := ParseGPUList(cfg.GPUList)
	if err != nil {
		return Config{}, err
	}
	cfg.ManagedGPUs = ids

	return cfg, nil
}

// ParseGPUList parses a comma-separated index list. An empty or blank
// input returns nil, meaning "manage all enumerated devices".
func ParseGPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("could not parse --gpus %q: provide comma-separated non-negative integers, e.g. '0,2'", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
