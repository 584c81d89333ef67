// Package modelproc supervises the externally spawned inference-server
// subprocess: at most one child at a time, PID tracking, forced kill and
// restart. The tracked PID is typically a launcher shim whose real worker
// is its direct child, so Kill targets the child first.
package modelproc

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"tandem/internal/logging"
)

var (
	// ErrAlreadyRunning reports a Start while a server handle is present.
	ErrAlreadyRunning = errors.New("inference server already running")
	// ErrNotRunning reports a Kill with no tracked server.
	ErrNotRunning = errors.New("inference server not running")
)

// Status is the supervisor's externally visible state.
type Status struct {
	Running bool
	PID     int
}

// Supervisor owns the inference-server lifecycle. The handle slot (cmd +
// done) and the PID slot are guarded independently: handle operations may
// wait, the PID lock is short-held.
type Supervisor struct {
	binary string
	args   []string

	handleMu sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}

	pidMu sync.Mutex
	pid   int
}

// New creates a Supervisor for the given server binary and arguments.
func New(binary string, args []string) *Supervisor {
	return &Supervisor{binary: binary, args: args}
}

// Start spawns the inference server unless one is already tracked. The
// spawned task records the PID, drains the child's stdout line by line
// until EOF and then reaps it. Spawn failure clears both slots.
func (s *Supervisor) Start() error {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	if s.cmd != nil {
		logging.ModelProc("start requested but server already running (pid %d)", s.getPID())
		return ErrAlreadyRunning
	}

	cmd := exec.Command(s.binary, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		s.resetPID()
		return fmt.Errorf("failed to spawn %s: %w", s.binary, err)
	}
	s.setPID(cmd.Process.Pid)

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	logging.ModelProc("spawned %s (pid %d)", s.binary, cmd.Process.Pid)

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			logging.Get(logging.CategoryModelProc).Debugf("server: %s", scanner.Text())
		}
		err := cmd.Wait()
		logging.ModelProc("server exited: %v", err)

		s.handleMu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
			s.done = nil
			s.resetPID()
		}
		s.handleMu.Unlock()
	}()
	return nil
}

// Kill forcibly terminates the tracked server. The real worker is the
// direct child of the tracked PID when a launcher shim is in play; the
// child is signalled first, falling back to the tracked PID itself.
func (s *Supervisor) Kill() error {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	return s.killLocked()
}

func (s *Supervisor) killLocked() error {
	pid := s.getPID()
	if s.cmd == nil || pid == 0 {
		return ErrNotRunning
	}

	target := pid
	if child, err := directChild(pid); err == nil && child != 0 {
		target = child
	}
	if err := syscall.Kill(target, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", target, err)
	}
	if target != pid {
		// The shim usually follows its worker down; nudge it anyway.
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	logging.ModelProc("killed server (pid %d, target %d)", pid, target)

	done := s.done
	s.cmd = nil
	s.done = nil
	s.resetPID()

	if done != nil {
		// The drain goroutine reaps the child; wait for it so Restart
		// cannot race the old process.
		s.handleMu.Unlock()
		<-done
		s.handleMu.Lock()
	}
	return nil
}

// Restart kills the tracked server if present, then starts a fresh one.
func (s *Supervisor) Restart() error {
	s.handleMu.Lock()
	if s.cmd != nil {
		if err := s.killLocked(); err != nil && !errors.Is(err, ErrNotRunning) {
			s.handleMu.Unlock()
			return err
		}
	}
	s.handleMu.Unlock()
	return s.Start()
}

// Status reports {running, pid} without side effects.
func (s *Supervisor) Status() Status {
	s.handleMu.Lock()
	running := s.cmd != nil
	s.handleMu.Unlock()
	return Status{Running: running, PID: s.getPID()}
}

func (s *Supervisor) setPID(pid int) {
	s.pidMu.Lock()
	s.pid = pid
	s.pidMu.Unlock()
}

func (s *Supervisor) resetPID() {
	s.setPID(0)
}

func (s *Supervisor) getPID() int {
	s.pidMu.Lock()
	defer s.pidMu.Unlock()
	return s.pid
}

// directChild returns one direct child of pid from the process table, or 0
// when pid has none.
func directChild(pid int) (int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		child, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		stat, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "stat"))
		if err != nil {
			continue
		}
		// Field 4 of /proc/<pid>/stat is the ppid; the comm field may
		// contain spaces but is parenthesized.
		raw := string(stat)
		end := strings.LastIndexByte(raw, ')')
		if end < 0 {
			continue
		}
		fields := strings.Fields(raw[end+1:])
		if len(fields) < 2 {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err == nil && ppid == pid {
			return child, nil
		}
	}
	return 0, nil
}
