// Package job wraps orchestration operations with before/after recording and
// failure capture. The bookkeeping store itself is external; Recorder is the
// contract the agent produces records for.
package job

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Step is a single recorded unit of work within a job.
type Step struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Input     any       `json:"input,omitempty"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Job aggregates the ordered steps of one orchestrated operation.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Site      string    `json:"site"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Steps     []*Step   `json:"steps"`
	Error     string    `json:"error,omitempty"`
}

// Recorder receives job and step state transitions.
type Recorder interface {
	JobUpdated(j *Job) error
	StepUpdated(s *Step) error
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) JobUpdated(*Job) error   { return nil }
func (NopRecorder) StepUpdated(*Step) error { return nil }

// Execution drives one job: steps run in order, the first failing step aborts
// the job, and every transition is pushed to the recorder.
type Execution struct {
	Job *Job

	rec Recorder
	log zerolog.Logger
}

func Start(name, site string, rec Recorder, log zerolog.Logger) *Execution {
	if rec == nil {
		rec = NopRecorder{}
	}
	j := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Site:      site,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_ = rec.JobUpdated(j)
	log.Info().Str("job", name).Str("site", site).Str("job_id", j.ID).Msg("job started")
	return &Execution{Job: j, rec: rec, log: log}
}

// Run executes one titled step, recording its input, output, and error.
func (e *Execution) Run(title string, input any, fn func() (any, error)) (any, error) {
	step := &Step{
		ID:        uuid.NewString(),
		JobID:     e.Job.ID,
		Title:     title,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		Input:     input,
	}
	e.Job.Steps = append(e.Job.Steps, step)
	_ = e.rec.StepUpdated(step)

	output, err := fn()
	step.EndedAt = time.Now().UTC()
	step.Output = output
	if err != nil {
		step.Status = StatusFailure
		step.Error = err.Error()
		e.log.Error().Str("step", title).Str("job_id", e.Job.ID).Err(err).Msg("step failed")
	} else {
		step.Status = StatusSuccess
		e.log.Debug().Str("step", title).Str("job_id", e.Job.ID).Msg("step finished")
	}
	_ = e.rec.StepUpdated(step)
	return output, err
}

// Finish closes the job with the outcome of its composition.
func (e *Execution) Finish(err error) {
	e.Job.EndedAt = time.Now().UTC()
	if err != nil {
		e.Job.Status = StatusFailure
		e.Job.Error = err.Error()
		e.log.Error().Str("job", e.Job.Name).Str("job_id", e.Job.ID).Err(err).Msg("job failed")
	} else {
		e.Job.Status = StatusSuccess
		e.log.Info().Str("job", e.Job.Name).Str("job_id", e.Job.ID).Msg("job finished")
	}
	_ = e.rec.JobUpdated(e.Job)
}
