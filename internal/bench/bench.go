// Package bench is the collaborator surface around one managed bench: command
// execution inside the bench environment, scoped database credentials, proxy
// regeneration, and backup file staging.
package bench

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benchops/agent/internal/config"
	"github.com/benchops/agent/internal/runner"
	"github.com/benchops/agent/internal/site"
	"github.com/benchops/agent/internal/util"
)

type Bench struct {
	Name      string
	Directory string

	sitesDir           string
	containerSitesPath string
	dbHost             string
	execPrefix         string
	proxySetup         string
	proxyReload        string

	run runner.Runner
	log zerolog.Logger
}

func New(cfg *config.Config, run runner.Runner, log zerolog.Logger) *Bench {
	return &Bench{
		Name:               cfg.Bench.Name,
		Directory:          cfg.Bench.Directory,
		sitesDir:           cfg.Bench.SitesDirectory,
		containerSitesPath: cfg.Bench.ContainerSitesPath,
		dbHost:             cfg.Bench.DatabaseHost,
		execPrefix:         cfg.Bench.ExecPrefix,
		proxySetup:         cfg.Proxy.SetupCommand,
		proxyReload:        cfg.Proxy.ReloadCommand,
		run:                run,
		log:                log.With().Str("bench", cfg.Bench.Name).Logger(),
	}
}

func (b *Bench) SitesDirectory() string      { return b.sitesDir }
func (b *Bench) ContainerSitesPath() string  { return b.containerSitesPath }
func (b *Bench) DefaultDatabaseHost() string { return b.dbHost }

// NewSite constructs the named site against this bench.
func (b *Bench) NewSite(name string) (*site.Site, error) {
	return site.New(name, b, b.run, b.log)
}

// Execute runs a command line inside the bench environment, applying the
// configured exec prefix (e.g. "docker exec <container>").
func (b *Bench) Execute(ctx context.Context, command string, stdin string) (*runner.Result, error) {
	if b.execPrefix != "" {
		command = b.execPrefix + " " + command
	}
	return b.run.Execute(ctx, command, stdin)
}

// LeaseDatabaseCredential provisions a temporary database user with
// privileges scoped to the site's database. The returned credential revokes
// the user on Release.
func (b *Bench) LeaseDatabaseCredential(ctx context.Context, siteName, rootPassword, database string) (*site.DatabaseCredential, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return nil, err
	}
	user := "tmp_" + hex.EncodeToString(suffix)
	password := strings.ReplaceAll(uuid.NewString(), "-", "")

	grant := fmt.Sprintf(
		"CREATE USER '%s'@'%%' IDENTIFIED BY '%s'; "+
			"GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%%'; "+
			"FLUSH PRIVILEGES;",
		user, password, database, user)
	if _, err := b.mysqlAsRoot(ctx, rootPassword, grant); err != nil {
		return nil, fmt.Errorf("provision database user for %s: %w", siteName, err)
	}
	b.log.Debug().Str("site", siteName).Str("user", user).Msg("database credential leased")

	release := func(ctx context.Context) error {
		drop := fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%'; FLUSH PRIVILEGES;", user)
		if _, err := b.mysqlAsRoot(ctx, rootPassword, drop); err != nil {
			return fmt.Errorf("revoke database user for %s: %w", siteName, err)
		}
		b.log.Debug().Str("site", siteName).Str("user", user).Msg("database credential released")
		return nil
	}
	return site.NewDatabaseCredential(user, password, release), nil
}

// mysqlAsRoot pipes the statement over stdin so the shell never interprets
// quotes or backticks inside the SQL.
func (b *Bench) mysqlAsRoot(ctx context.Context, rootPassword, statement string) (*runner.Result, error) {
	return b.run.Execute(ctx, fmt.Sprintf(
		"mysql -h %s -u root -p%s", b.dbHost, rootPassword), statement)
}

// SetupNginx regenerates the reverse proxy configuration for the bench.
func (b *Bench) SetupNginx(ctx context.Context) (*runner.Result, error) {
	return b.Execute(ctx, b.proxySetup, "")
}

// ReloadNginx reloads the reverse proxy on the host.
func (b *Bench) ReloadNginx(ctx context.Context) (*runner.Result, error) {
	return b.run.Execute(ctx, b.proxyReload, "")
}

// DownloadedFiles are staged backup artifacts fetched for a restore.
type DownloadedFiles struct {
	Directory string `json:"directory"`
	Database  string `json:"database"`
	Public    string `json:"public"`
	Private   string `json:"private"`
}

// DownloadBackupFiles fetches the referenced backup artifacts into a scratch
// directory under the sites directory, so the bench container can reach them.
// Empty references are skipped.
func (b *Bench) DownloadBackupFiles(ctx context.Context, siteName, databaseURL, publicURL, privateURL string) (*DownloadedFiles, error) {
	dir, err := os.MkdirTemp(b.sitesDir, siteName+"-restore-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	files := &DownloadedFiles{Directory: dir}
	targets := []struct {
		url  string
		dest *string
	}{
		{databaseURL, &files.Database},
		{publicURL, &files.Public},
		{privateURL, &files.Private},
	}
	for _, target := range targets {
		if target.url == "" {
			continue
		}
		local, err := b.downloadFile(ctx, dir, target.url)
		if err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
		*target.dest = local
	}
	return files, nil
}

func (b *Bench) downloadFile(ctx context.Context, dir, fileURL string) (string, error) {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("parse backup url: %w", err)
	}
	local := filepath.Join(dir, path.Base(parsed.Path))

	err = util.Retry(ctx, 3, 2*time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download %s: %s", fileURL, resp.Status)
		}
		out, err := os.Create(local)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, resp.Body)
		return err
	})
	if err != nil {
		return "", err
	}
	return local, nil
}

// DeleteDownloadedFiles removes a staging directory created by
// DownloadBackupFiles. Directories outside the sites directory are refused.
func (b *Bench) DeleteDownloadedFiles(dir string) error {
	if dir == "" {
		return nil
	}
	rel, err := filepath.Rel(b.sitesDir, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to delete %s: not a staging directory under the sites directory", dir)
	}
	return os.RemoveAll(dir)
}
