// Package notify pushes finished-job events to the control plane's webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/benchops/agent/internal/config"
	"github.com/benchops/agent/internal/job"
)

type Event struct {
	Job       string    `json:"job"`
	JobID     string    `json:"job_id"`
	Site      string    `json:"site"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// FromJob flattens a finished job record into a webhook event.
func FromJob(j *job.Job) Event {
	return Event{
		Job:       j.Name,
		JobID:     j.ID,
		Site:      j.Site,
		Status:    string(j.Status),
		StartedAt: j.StartedAt,
		EndedAt:   j.EndedAt,
		Duration:  j.EndedAt.Sub(j.StartedAt).String(),
		Error:     j.Error,
	}
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var err error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if nerr := target.Notify(ctx, event); nerr != nil {
			err = nerr
		}
	}
	return err
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(event)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %s", w.Name, resp.Status)
	}
	return nil
}

func FromConfig(cfg config.NotifyConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	return Multi{Targets: targets}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
