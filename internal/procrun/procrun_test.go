package procrun

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "echo hello; echo world 1>&2"}, t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	out := string(res.Output)
	if !strings.Contains(out, "hello") || !strings.Contains(out, "world") {
		t.Errorf("Output = %q, want it to contain both stdout and stderr", out)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "exit 3"}, t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "sleep 5"}, t.TempDir(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != TimeoutExitCode {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, TimeoutExitCode)
	}
	if res.Elapsed >= 5*time.Second {
		t.Errorf("Elapsed = %v, expected the process to be killed well before its sleep finished", res.Elapsed)
	}
}

func TestRunStartFailure(t *testing.T) {
	res, err := Run(context.Background(), "/nonexistent/binary-that-does-not-exist", nil, t.TempDir(), time.Second)
	if err == nil {
		t.Fatalf("expected an error for a binary that cannot be started")
	}
	if res.ExitCode == 0 || res.ExitCode == TimeoutExitCode {
		t.Errorf("ExitCode = %d, want a start-failure sentinel distinct from success and timeout", res.ExitCode)
	}
}
