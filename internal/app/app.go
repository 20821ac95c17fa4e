// Package app composes site operations into recorded jobs: lock, execute the
// ordered steps, record the outcome, notify.
package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/benchops/agent/internal/bench"
	"github.com/benchops/agent/internal/config"
	"github.com/benchops/agent/internal/job"
	"github.com/benchops/agent/internal/lock"
	"github.com/benchops/agent/internal/notify"
	"github.com/benchops/agent/internal/site"
	"github.com/benchops/agent/internal/storage"
)

type App struct {
	Cfg      *config.Config
	Bench    *bench.Bench
	Storage  storage.Storage
	Rec      job.Recorder
	Notifier notify.Notifier
	Log      zerolog.Logger
}

func New(cfg *config.Config, b *bench.Bench, store storage.Storage, rec job.Recorder, notifier notify.Notifier, log zerolog.Logger) *App {
	return &App{Cfg: cfg, Bench: b, Storage: store, Rec: rec, Notifier: notifier, Log: log}
}

// runJob serializes against the site, opens a job record, runs the
// composition, and closes the record. The job record is returned even on
// failure so callers can surface the failing step verbatim.
func (a *App) runJob(ctx context.Context, siteName, name string, fn func(ctx context.Context, s *site.Site, e *job.Execution) error) (*job.Job, error) {
	guard, err := lock.AcquireSite(a.Cfg.Global.LockDirectory, siteName)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	e := job.Start(name, siteName, a.Rec, a.Log)
	var jobErr error
	defer func() {
		e.Finish(jobErr)
		if a.Notifier != nil {
			// Notification must survive a cancelled job context.
			_ = a.Notifier.Notify(context.Background(), notify.FromJob(e.Job))
		}
	}()

	s, err := a.Bench.NewSite(siteName)
	if err != nil {
		jobErr = err
		return e.Job, jobErr
	}
	jobErr = fn(ctx, s, e)
	return e.Job, jobErr
}
