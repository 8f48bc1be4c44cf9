package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gpu-occupancy-agent/internal/agent"
	"gpu-occupancy-agent/internal/config"
	"gpu-occupancy-agent/internal/logging"
	nvmlwrap "gpu-occupancy-agent/internal/nvml"
	"gpu-occupancy-agent/internal/occupy"
	"gpu-occupancy-agent/internal/probe"
	"gpu-occupancy-agent/internal/smi"
	"gpu-occupancy-agent/internal/workload"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.OccupyDevice >= 0 {
		occupy.Run(cfg.OccupyDevice, cfg.MatrixSize) // never returns
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	hostname, _ := os.Hostname()

	prober := buildProber(cfg)
	devices, err := prober.Devices(context.Background())
	if err != nil {
		logger.Error(map[string]any{"msg": "device enumeration failed", "error": err.Error()})
		os.Exit(1)
	}
	if len(devices) == 0 {
		logger.Error(map[string]any{"msg": "no gpus detected, exiting"})
		os.Exit(1)
	}

	sup := agent.New(agent.Options{
		Config:   cfg,
		NodeName: hostname,
		Logger:   logger,
		Prober:   prober,
		Launcher: newLauncher(cfg),
		Devices:  devices,
		Managed:  cfg.ManagedGPUs,
	})
	if len(sup.Managed()) == 0 {
		logger.Error(map[string]any{"msg": "no gpus selected, exiting"})
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(map[string]any{
		"msg":        "gpu-occupancy-agent starting",
		"node":       hostname,
		"gpus":       sup.Managed(),
		"interval_s": int(cfg.PollInterval.Seconds()),
	})

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(map[string]any{"msg": "gpu-occupancy-agent exited with error", "error": err.Error()})
		// give log collector a chance
		time.Sleep(250 * time.Millisecond)
		os.Exit(1)
	}
}

func buildProber(cfg config.Config) probe.Prober {
	switch strings.ToLower(strings.TrimSpace(cfg.Prober)) {
	case "nvml":
		return nvmlwrap.New()
	default:
		return smi.New(cfg.SMIPath)
	}
}

func newLauncher(cfg config.Config) workload.Launcher {
	l := &workload.ExecLauncher{MatrixSize: cfg.MatrixSize}
	if fields := strings.Fields(cfg.WorkloadCommand); len(fields) > 0 {
		l.Command = fields[0]
		l.Args = fields[1:]
	}
	return l
}
