package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/benchops/agent/internal/bench"
	"github.com/benchops/agent/internal/config"
	"github.com/benchops/agent/internal/job"
	"github.com/benchops/agent/internal/runner"
)

type scriptRunner struct {
	mu       sync.Mutex
	commands []string
	handler  func(command string) (*runner.Result, error)
}

func (r *scriptRunner) Execute(ctx context.Context, command string, stdin string) (*runner.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	r.mu.Unlock()
	if r.handler != nil {
		return r.handler(command)
	}
	return &runner.Result{Command: command, Output: "ok"}, nil
}

func newTestApp(t *testing.T, run runner.Runner) (*App, string) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Global.LockDirectory = t.TempDir()
	cfg.Bench.Name = "bench-one"
	cfg.Bench.SitesDirectory = t.TempDir()
	cfg.Bench.ContainerSitesPath = "/container/sites"
	cfg.Bench.DatabaseHost = "127.0.0.1"

	siteDir := filepath.Join(cfg.Bench.SitesDirectory, "alpha.example.com")
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		t.Fatalf("mkdir site: %v", err)
	}
	seed := []byte(`{"db_name":"testdb","db_password":"secret"}`)
	if err := os.WriteFile(filepath.Join(siteDir, "site_config.json"), seed, 0o644); err != nil {
		t.Fatalf("write site config: %v", err)
	}

	b := bench.New(cfg, run, zerolog.Nop())
	return New(cfg, b, nil, job.NopRecorder{}, nil, zerolog.Nop()), cfg.Bench.SitesDirectory
}

func TestRestoreJobDiscardsDownloadsOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("dump bytes"))
	}))
	defer server.Close()

	run := &scriptRunner{}
	run.handler = func(command string) (*runner.Result, error) {
		if strings.Contains(command, "--force restore") {
			return nil, &runner.CommandError{Command: command, Output: "restore blew up", ExitCode: 1}
		}
		return &runner.Result{Command: command, Output: "ok"}, nil
	}
	a, sitesDir := newTestApp(t, run)

	j, err := a.RestoreJob(context.Background(), "alpha.example.com", RestoreOptions{
		RootPassword: "rootpw",
		DatabaseURL:  server.URL + "/database.sql.gz",
	})
	if err == nil {
		t.Fatalf("expected restore failure")
	}
	if j == nil || j.Status != job.StatusFailure {
		t.Fatalf("job record = %+v", j)
	}

	entries, readErr := os.ReadDir(sitesDir)
	if readErr != nil {
		t.Fatalf("read sites dir: %v", readErr)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "alpha.example.com-restore-") {
			t.Fatalf("staging directory survived the failed restore: %s", entry.Name())
		}
	}
}

func TestSetupERPNextJob(t *testing.T) {
	run := &scriptRunner{}
	run.handler = func(command string) (*runner.Result, error) {
		if strings.Contains(command, "console") {
			return &runner.Result{Command: command, Output: "In [1]: >>>deadbeef<<<\n"}, nil
		}
		return &runner.Result{Command: command, Output: "ok"}, nil
	}
	a, sitesDir := newTestApp(t, run)

	journeys := filepath.Join(sitesDir, "alpha.example.com", "journeys_config.json")
	if err := os.WriteFile(journeys, []byte(`{"company": "Acme"}`), 0o644); err != nil {
		t.Fatalf("seed journeys config: %v", err)
	}

	j, err := a.SetupERPNextJob(context.Background(), "alpha.example.com",
		"jo@example.com", "Jo", "Rivera", map[string]any{"country": "US"})
	if err != nil {
		t.Fatalf("SetupERPNextJob: %v", err)
	}
	if j.Status != job.StatusSuccess || len(j.Steps) != 3 {
		t.Fatalf("job record = %+v", j)
	}
	sid, ok := j.Steps[2].Output.(map[string]string)
	if !ok || sid["sid"] != "deadbeef" {
		t.Fatalf("session id step output = %+v", j.Steps[2].Output)
	}

	var sawCreate bool
	for _, command := range run.commands {
		if strings.Contains(command, "add-system-manager jo@example.com --first-name Jo --last-name Rivera") {
			sawCreate = true
		}
	}
	if !sawCreate {
		t.Fatalf("create user command not issued: %v", run.commands)
	}
}
