package workload

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Process is one spawned synthetic-workload child. The supervisor only
// ever observes liveness and issues terminate; it never calls into the
// workload itself.
type Process interface {
	PID() int
	DeviceID() int
	Alive() bool
	// Terminate requests exit via SIGTERM. Safe to call on an already
	// exited process.
	Terminate() error
	// Wait blocks until the process has fully exited and been reaped.
	Wait() error
}

type Launcher interface {
	Launch(deviceID int) (Process, error)
}

// ExecLauncher spawns workloads as isolated OS processes. By default it
// re-execs the agent binary in worker mode; Command overrides that with
// an arbitrary occupancy command (e.g. a dedicated GPU burner).
type ExecLauncher struct {
	// Command and Args, when set, replace the built-in worker.
	Command string
	Args    []string

	// MatrixSize is forwarded to the built-in worker.
	MatrixSize int
}

func (l *ExecLauncher) Launch(deviceID int) (Process, error) {
	cmd, err := l.buildCommand(deviceID)
	if err != nil {
		return nil, err
	}
	// Device pinning for the child; the built-in worker and most GPU
	// workloads honor CUDA_VISIBLE_DEVICES.
	cmd.Env = append(os.Environ(), "CUDA_VISIBLE_DEVICES="+strconv.Itoa(deviceID))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting workload for gpu %d: %w", deviceID, err)
	}

	h := &Handle{deviceID: deviceID, cmd: cmd, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

func (l *ExecLauncher) buildCommand(deviceID int) (*exec.Cmd, error) {
	if strings.TrimSpace(l.Command) != "" {
		return exec.Command(l.Command, l.Args...), nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving agent binary: %w", err)
	}
	return exec.Command(self,
		"-occupy-device", strconv.Itoa(deviceID),
		"-matrix-size", strconv.Itoa(l.MatrixSize),
	), nil
}

// Handle tracks one launched child. A reaper goroutine owns cmd.Wait;
// Alive and Wait observe its done channel so both stay race-free.
type Handle struct {
	deviceID int
	cmd      *exec.Cmd
	done     chan struct{}
	waitErr  error
}

func (h *Handle) PID() int      { return h.cmd.Process.Pid }
func (h *Handle) DeviceID() int { return h.deviceID }

func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) Terminate() error {
	if !h.Alive() {
		return nil
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Lost the race with exit; not an error.
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("terminating pid %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}

func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}
