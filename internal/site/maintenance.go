package site

import (
	"context"
	"time"

	"github.com/benchops/agent/internal/runner"
)

// EnableMaintenanceMode puts the site into maintenance mode.
func (s *Site) EnableMaintenanceMode(ctx context.Context) (*runner.Result, error) {
	return s.BenchExecute(ctx, "set-maintenance-mode on")
}

// DisableMaintenanceMode takes the site out of maintenance mode. The user
// unblock is best-effort: the flag does not exist on all framework versions,
// so its failure is deliberately swallowed.
func (s *Site) DisableMaintenanceMode(ctx context.Context) (*runner.Result, error) {
	if _, err := s.BenchExecute(ctx, "execute frappe.modules.patch_handler.block_user --args False,"); err != nil {
		s.log.Debug().Err(err).Msg("user unblock not available, ignoring")
	}
	return s.BenchExecute(ctx, "set-maintenance-mode off")
}

// PauseScheduler pauses the site's background job scheduler.
func (s *Site) PauseScheduler(ctx context.Context) (*runner.Result, error) {
	return s.BenchExecute(ctx, "scheduler pause")
}

// EnableScheduler enables the site's background job scheduler.
func (s *Site) EnableScheduler(ctx context.Context) (*runner.Result, error) {
	return s.BenchExecute(ctx, "scheduler enable")
}

// ResumeScheduler resumes a paused scheduler.
func (s *Site) ResumeScheduler(ctx context.Context) (*runner.Result, error) {
	return s.BenchExecute(ctx, "scheduler resume")
}

// ClearCache clears the site cache.
func (s *Site) ClearCache(ctx context.Context) (*runner.Result, error) {
	return s.BenchExecute(ctx, "clear-cache")
}

// ClearWebsiteCache clears the rendered website cache.
func (s *Site) ClearWebsiteCache(ctx context.Context) (*runner.Result, error) {
	return s.BenchExecute(ctx, "clear-website-cache")
}

// UpdatePlan applies a hosting plan to the site.
func (s *Site) UpdatePlan(ctx context.Context, plan string) (*runner.Result, error) {
	return s.BenchExecute(ctx, "update-site-plan "+plan)
}

// Attempt is one readiness probe outcome.
type Attempt struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	OK     bool   `json:"ok"`
}

// PollResult is the full attempt history of one readiness wait.
type PollResult struct {
	Attempts []Attempt `json:"attempts"`
}

// Ready reports whether the last attempt succeeded.
func (p PollResult) Ready() bool {
	n := len(p.Attempts)
	return n > 0 && p.Attempts[n-1].OK
}

// WaitUntilReady polls the readiness probe until it succeeds or the timeout
// elapses, sleeping interval between failed attempts. It never returns an
// error: the caller inspects the last attempt. Transient probe failure is
// expected while queued work drains and must not abort the workflow.
func (s *Site) WaitUntilReady(ctx context.Context, timeout, interval time.Duration) PollResult {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}

	var result PollResult
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := s.BenchExecute(ctx, "ready-for-migration")
		if err == nil {
			result.Attempts = append(result.Attempts, Attempt{Output: res.Output, OK: true})
			break
		}
		result.Attempts = append(result.Attempts, Attempt{Error: err.Error()})
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return result
		}
	}
	return result
}
