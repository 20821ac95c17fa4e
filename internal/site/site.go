// Package site implements lifecycle orchestration for one hosted site:
// backup, restore, migrate, maintenance, and domain management, composed from
// shell commands against the bench environment and the site's database.
package site

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/benchops/agent/internal/runner"
)

// ConfigMissingError indicates the site root or its config file is absent.
// Construction fails on it; nothing else is recoverable without the config.
type ConfigMissingError struct {
	Path string
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("site configuration missing: %s", e.Path)
}

// DatabaseCredential is a short-lived credential scoped to one site's
// database, leased for restore and reinstall. Release is idempotent; the
// credential must never outlive the operation that needed it.
type DatabaseCredential struct {
	User     string
	Password string

	release func(context.Context) error
}

func NewDatabaseCredential(user, password string, release func(context.Context) error) *DatabaseCredential {
	return &DatabaseCredential{User: user, Password: password, release: release}
}

// Release revokes the credential. Calling it again is a no-op.
func (c *DatabaseCredential) Release(ctx context.Context) error {
	if c == nil || c.release == nil {
		return nil
	}
	release := c.release
	c.release = nil
	return release(ctx)
}

// Env is the bench-side capability surface a Site depends on.
type Env interface {
	SitesDirectory() string
	ContainerSitesPath() string
	DefaultDatabaseHost() string
	// Execute runs a command line inside the bench environment.
	Execute(ctx context.Context, command string, stdin string) (*runner.Result, error)
	// LeaseDatabaseCredential provisions a credential scoped to database.
	LeaseDatabaseCredential(ctx context.Context, site, rootPassword, database string) (*DatabaseCredential, error)
}

// Site is one hosted instance: its filesystem root, configuration document,
// and database identity.
type Site struct {
	Name              string
	Directory         string
	BackupDirectory   string
	LogsDirectory     string
	ConfigFile        string
	TouchedTablesFile string
	AnalyticsFile     string

	Database string
	User     string
	Password string
	Host     string

	env Env
	run runner.Runner
	log zerolog.Logger
}

// New constructs a Site from persisted filesystem state. It fails with
// ConfigMissingError when the site directory or config file does not exist.
func New(name string, env Env, run runner.Runner, log zerolog.Logger) (*Site, error) {
	s := &Site{env: env, run: run, log: log.With().Str("site", name).Logger()}
	s.setPaths(name)

	info, err := os.Stat(s.Directory)
	if err != nil || !info.IsDir() {
		return nil, &ConfigMissingError{Path: s.Directory}
	}
	if _, err := os.Stat(s.ConfigFile); err != nil {
		return nil, &ConfigMissingError{Path: s.ConfigFile}
	}

	cfg, err := s.ReadConfig()
	if err != nil {
		return nil, err
	}
	s.Database, _ = cfg["db_name"].(string)
	s.User = s.Database
	s.Password, _ = cfg["db_password"].(string)
	if host, ok := cfg["db_host"].(string); ok && host != "" {
		s.Host = host
	} else {
		s.Host = env.DefaultDatabaseHost()
	}
	return s, nil
}

func (s *Site) setPaths(name string) {
	s.Name = name
	s.Directory = filepath.Join(s.env.SitesDirectory(), name)
	s.BackupDirectory = filepath.Join(s.Directory, ".migrate")
	s.LogsDirectory = filepath.Join(s.Directory, "logs")
	s.ConfigFile = filepath.Join(s.Directory, "site_config.json")
	s.TouchedTablesFile = filepath.Join(s.Directory, "touched_tables.json")
	s.AnalyticsFile = filepath.Join(s.Directory, "analytics.json")
}

// BenchExecute runs a bench CLI command scoped to this site.
func (s *Site) BenchExecute(ctx context.Context, command string) (*runner.Result, error) {
	return s.BenchExecuteInput(ctx, command, "")
}

// BenchExecuteInput is BenchExecute with piped stdin.
func (s *Site) BenchExecuteInput(ctx context.Context, command, stdin string) (*runner.Result, error) {
	return s.env.Execute(ctx, fmt.Sprintf("bench --site %s %s", s.Name, command), stdin)
}

// Rename moves the site directory and updates the in-memory identity.
func (s *Site) Rename(newName string) error {
	target := filepath.Join(s.env.SitesDirectory(), newName)
	if err := os.Rename(s.Directory, target); err != nil {
		return err
	}
	s.setPaths(newName)
	return nil
}
