package modelproc

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSleeper() *Supervisor {
	// sh acts as the launcher shim; sleep is its worker child.
	return New("sh", []string{"-c", "echo ready; sleep 30"})
}

func stop(t *testing.T, s *Supervisor) {
	t.Helper()
	if err := s.Kill(); err != nil && !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Kill failed: %v", err)
	}
}

func TestStartAndStatus(t *testing.T) {
	s := newSleeper()
	if st := s.Status(); st.Running || st.PID != 0 {
		t.Fatalf("fresh supervisor must be idle: %+v", st)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stop(t, s)

	st := s.Status()
	if !st.Running || st.PID == 0 {
		t.Errorf("expected running with pid, got %+v", st)
	}
	// The tracked PID must be a live process.
	if err := syscall.Kill(st.PID, 0); err != nil {
		t.Errorf("tracked pid %d not alive: %v", st.PID, err)
	}
}

func TestDoubleStartReturnsAlreadyRunning(t *testing.T) {
	s := newSleeper()
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stop(t, s)
	firstPID := s.Status().PID

	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start must report already running, got %v", err)
	}
	if pid := s.Status().PID; pid != firstPID {
		t.Errorf("second Start spawned a new child: %d != %d", pid, firstPID)
	}
}

func TestKillClearsState(t *testing.T) {
	s := newSleeper()
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pid := s.Status().PID

	if err := s.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	st := s.Status()
	if st.Running || st.PID != 0 {
		t.Errorf("state not cleared after kill: %+v", st)
	}

	// The process must actually be gone (reaping already happened).
	deadline := time.After(5 * time.Second)
	for {
		if err := syscall.Kill(pid, 0); err != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pid %d still alive after kill", pid)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestKillWithoutStart(t *testing.T) {
	s := newSleeper()
	if err := s.Kill(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestRestartSpawnsFreshChild(t *testing.T) {
	s := newSleeper()
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stop(t, s)
	firstPID := s.Status().PID

	if err := s.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	st := s.Status()
	if !st.Running {
		t.Fatal("expected running after restart")
	}
	if st.PID == firstPID {
		t.Errorf("restart reused pid %d", firstPID)
	}
}

func TestRestartWhenIdleJustStarts(t *testing.T) {
	s := newSleeper()
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	defer stop(t, s)
	if !s.Status().Running {
		t.Error("expected running after restart from idle")
	}
}

func TestSpawnFailureClearsSlots(t *testing.T) {
	s := New("/nonexistent/llama-server", nil)
	if err := s.Start(); err == nil {
		t.Fatal("expected spawn failure")
	}
	st := s.Status()
	if st.Running || st.PID != 0 {
		t.Errorf("slots not cleared after spawn failure: %+v", st)
	}
	// A failed spawn must not block a retry.
	if err := s.Start(); errors.Is(err, ErrAlreadyRunning) {
		t.Error("failed spawn left a stale handle")
	}
}

func TestNaturalExitClearsState(t *testing.T) {
	s := New("sh", []string{"-c", "echo done"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for s.Status().Running {
		select {
		case <-deadline:
			t.Fatal("supervisor never noticed the exit")
		case <-time.After(20 * time.Millisecond):
		}
	}
	if pid := s.Status().PID; pid != 0 {
		t.Errorf("pid not cleared after natural exit: %d", pid)
	}
}
