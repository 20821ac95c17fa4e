package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/benchops/agent/internal/util"
)

// Status is a point-in-time liveness snapshot of the site.
type Status struct {
	Web       bool      `json:"web"`
	Scheduler bool      `json:"scheduler"`
	Timestamp time.Time `json:"timestamp"`
}

// FetchStatus probes the web frontend and the scheduler concurrently. Any
// ping outcome other than HTTP 200, including network failure, counts as not
// alive.
func (s *Site) FetchStatus(ctx context.Context) (Status, error) {
	status := Status{Web: true, Scheduler: true, Timestamp: time.Now().UTC()}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		status.Web = s.pingWeb(egCtx)
		return nil
	})
	eg.Go(func() error {
		doctor, err := s.BenchExecute(egCtx, "doctor")
		if err != nil {
			return err
		}
		if strings.Contains(doctor.Output, "inactive") {
			status.Scheduler = false
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Status{}, err
	}
	return status, nil
}

func (s *Site) pingWeb(ctx context.Context) bool {
	url := fmt.Sprintf("https://%s/api/method/ping", s.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Usage reports site disk and database consumption in megabytes.
func (s *Site) Usage(ctx context.Context) map[string]int64 {
	backupSize := util.DirSize(s.backupOutputDirectory())
	publicSize := util.DirSize(filepath.Join(s.Directory, "public"))
	privateSize := util.DirSize(filepath.Join(s.Directory, "private"))

	return map[string]int64{
		"database": util.BytesToMB(s.DatabaseSize(ctx)),
		"public":   util.BytesToMB(publicSize),
		"private":  util.BytesToMB(privateSize - backupSize),
		"backups":  util.BytesToMB(backupSize),
	}
}

// DatabaseSize returns the database size in bytes, or 0 when it cannot be
// determined.
func (s *Site) DatabaseSize(ctx context.Context) int64 {
	query := fmt.Sprintf(
		"SELECT SUM(`data_length` + `index_length`) FROM information_schema.tables"+
			" WHERE `table_schema` = \"%s\" GROUP BY `table_schema`", s.Database)
	res, err := s.run.Execute(ctx, fmt.Sprintf(
		"mysql -sN -h %s -u%s -p%s -e '%s'", s.Host, s.User, s.Password, query), "")
	if err != nil {
		return 0
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Output), 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// Timezone reads the site's default timezone from the database.
func (s *Site) Timezone(ctx context.Context) (string, error) {
	query := fmt.Sprintf(
		"select defvalue from %s.tabDefaultValue where defkey = 'time_zone' and parent = '__default'",
		s.Database)
	res, err := s.run.Execute(ctx, fmt.Sprintf(
		"mysql -h %s -u%s -p%s -sN -e \"%s\"", s.Host, s.User, s.Password, query), "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

// Analytics reads the cached analytics snapshot.
func (s *Site) Analytics() (map[string]any, error) {
	data, err := os.ReadFile(s.AnalyticsFile)
	if err != nil {
		return nil, fmt.Errorf("read analytics snapshot: %w", err)
	}
	snapshot := map[string]any{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse analytics snapshot: %w", err)
	}
	return snapshot, nil
}

var sidPattern = regexp.MustCompile(`>>>(.*)<<<`)

// SessionID logs in as user through the framework console and extracts the
// resulting session id.
func (s *Site) SessionID(ctx context.Context, user string) (string, error) {
	code := fmt.Sprintf(`import frappe
from frappe.app import init_request
try:
    from frappe.utils import set_request
except ImportError:
    from frappe.tests import set_request
set_request()
frappe.app.init_request(frappe.local.request)
frappe.local.login_manager.login_as("%s")
print(">>>" + frappe.session.sid + "<<<")

`, user)

	res, err := s.BenchExecuteInput(ctx, "console", code)
	if err != nil {
		return "", err
	}
	match := sidPattern.FindStringSubmatch(res.Output)
	if match == nil {
		return "", fmt.Errorf("no session id in console output")
	}
	return match[1], nil
}
