package job

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type captureRecorder struct {
	jobs  []Status
	steps []Status
}

func (c *captureRecorder) JobUpdated(j *Job) error {
	c.jobs = append(c.jobs, j.Status)
	return nil
}

func (c *captureRecorder) StepUpdated(s *Step) error {
	c.steps = append(c.steps, s.Status)
	return nil
}

func TestExecutionRecordsSteps(t *testing.T) {
	rec := &captureRecorder{}
	e := Start("Backup Site", "one.example.com", rec, zerolog.Nop())

	out, err := e.Run("Backup Site", nil, func() (any, error) { return "done", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done" {
		t.Fatalf("unexpected output: %v", out)
	}
	e.Finish(nil)

	if e.Job.Status != StatusSuccess {
		t.Fatalf("unexpected job status: %s", e.Job.Status)
	}
	if len(e.Job.Steps) != 1 || e.Job.Steps[0].Status != StatusSuccess {
		t.Fatalf("step not recorded as success: %+v", e.Job.Steps)
	}
	if e.Job.Steps[0].EndedAt.Before(e.Job.Steps[0].StartedAt) {
		t.Fatalf("step end before start")
	}
	// running + success for both the job and the step
	if len(rec.jobs) != 2 || len(rec.steps) != 2 {
		t.Fatalf("recorder transitions: jobs=%d steps=%d", len(rec.jobs), len(rec.steps))
	}
}

func TestExecutionCapturesFailure(t *testing.T) {
	rec := &captureRecorder{}
	e := Start("Restore Site", "one.example.com", rec, zerolog.Nop())

	_, err := e.Run("Restore Site", map[string]any{"file": "db.sql.gz"}, func() (any, error) {
		return nil, errors.New("mysql exited with status 1")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	e.Finish(err)

	if e.Job.Status != StatusFailure {
		t.Fatalf("unexpected job status: %s", e.Job.Status)
	}
	step := e.Job.Steps[0]
	if step.Status != StatusFailure || step.Error == "" {
		t.Fatalf("failure not captured: %+v", step)
	}
	if e.Job.Error != step.Error {
		t.Fatalf("job error should surface the failing step's error")
	}
}
