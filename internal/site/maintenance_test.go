package site

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benchops/agent/internal/runner"
)

func TestWaitUntilReadyEventuallySucceeds(t *testing.T) {
	s, env := newTestSite(t)
	attempts := 0
	env.run.handler = func(command string) (*runner.Result, error) {
		attempts++
		if attempts < 3 {
			return nil, &runner.CommandError{Command: command, Output: "jobs pending", ExitCode: 1}
		}
		return &runner.Result{Command: command, Output: "ready"}, nil
	}

	interval := 20 * time.Millisecond
	start := time.Now()
	result := s.WaitUntilReady(context.Background(), time.Second, interval)
	elapsed := time.Since(start)

	if len(result.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(result.Attempts))
	}
	if !result.Ready() {
		t.Fatalf("last attempt not OK: %+v", result.Attempts)
	}
	if result.Attempts[0].Error == "" || result.Attempts[1].Error == "" {
		t.Fatalf("failed attempts missing errors: %+v", result.Attempts)
	}
	if result.Attempts[2].Output != "ready" {
		t.Fatalf("success output not captured: %+v", result.Attempts[2])
	}
	// Two failed attempts mean at least two sleeps.
	if elapsed < 2*interval {
		t.Fatalf("elapsed %v, want at least %v", elapsed, 2*interval)
	}
}

func TestWaitUntilReadyTimesOutWithoutError(t *testing.T) {
	s, env := newTestSite(t)
	env.run.handler = func(command string) (*runner.Result, error) {
		return nil, &runner.CommandError{Command: command, Output: "jobs pending", ExitCode: 1}
	}

	result := s.WaitUntilReady(context.Background(), 50*time.Millisecond, 10*time.Millisecond)
	if result.Ready() {
		t.Fatalf("poll reported ready without a successful attempt")
	}
	if len(result.Attempts) == 0 {
		t.Fatalf("no attempts recorded")
	}
	for _, attempt := range result.Attempts {
		if attempt.OK {
			t.Fatalf("unexpected successful attempt: %+v", attempt)
		}
	}
}

func TestWaitUntilReadyStopsOnContextCancel(t *testing.T) {
	s, env := newTestSite(t)
	env.run.handler = func(command string) (*runner.Result, error) {
		return nil, &runner.CommandError{Command: command, Output: "jobs pending", ExitCode: 1}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := s.WaitUntilReady(ctx, time.Minute, time.Minute)
	if result.Ready() {
		t.Fatalf("poll reported ready after cancellation")
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(result.Attempts))
	}
}

func TestDisableMaintenanceModeSwallowsUnblockFailure(t *testing.T) {
	s, env := newTestSite(t)
	env.run.handler = func(command string) (*runner.Result, error) {
		if strings.Contains(command, "block_user") {
			return nil, &runner.CommandError{Command: command, Output: "no such flag", ExitCode: 2}
		}
		return &runner.Result{Command: command, Output: "ok"}, nil
	}

	if _, err := s.DisableMaintenanceMode(context.Background()); err != nil {
		t.Fatalf("DisableMaintenanceMode: %v", err)
	}
	commands := env.run.recorded()
	if len(commands) != 2 {
		t.Fatalf("expected unblock then set-maintenance-mode, got %v", commands)
	}
	if !strings.HasSuffix(commands[1], "set-maintenance-mode off") {
		t.Fatalf("unexpected command: %q", commands[1])
	}
}

func TestSchedulerCommands(t *testing.T) {
	s, env := newTestSite(t)

	if _, err := s.PauseScheduler(context.Background()); err != nil {
		t.Fatalf("PauseScheduler: %v", err)
	}
	if _, err := s.ResumeScheduler(context.Background()); err != nil {
		t.Fatalf("ResumeScheduler: %v", err)
	}
	if _, err := s.EnableScheduler(context.Background()); err != nil {
		t.Fatalf("EnableScheduler: %v", err)
	}

	got := env.run.recorded()
	want := []string{"scheduler pause", "scheduler resume", "scheduler enable"}
	for i, suffix := range want {
		if !strings.HasSuffix(got[i], suffix) {
			t.Fatalf("command %d = %q, want suffix %q", i, got[i], suffix)
		}
	}
}
