package site

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/benchops/agent/internal/runner"
)

// RestoreOptions are the inputs to a site restore.
type RestoreOptions struct {
	RootPassword  string
	AdminPassword string
	DatabaseFile  string
	PublicFile    string
	PrivateFile   string
}

// Restore runs the bench restore command under a leased database credential.
// The credential is released on every exit path, success or failure.
func (s *Site) Restore(ctx context.Context, opts RestoreOptions) (res *runner.Result, err error) {
	cred, err := s.env.LeaseDatabaseCredential(ctx, s.Name, opts.RootPassword, s.Database)
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := cred.Release(ctx); relErr != nil && err == nil {
			err = relErr
		}
	}()

	database := s.containerPath(opts.DatabaseFile)
	public := s.containerPath(opts.PublicFile)
	private := s.containerPath(opts.PrivateFile)

	command := fmt.Sprintf(
		"--force restore --mariadb-root-username %s --mariadb-root-password %s --admin-password %s",
		cred.User, cred.Password, opts.AdminPassword)
	if public != "" {
		command += " --with-public-files " + public
	}
	if private != "" {
		command += " --with-private-files " + private
	}
	command += " " + database

	return s.BenchExecute(ctx, command)
}

// Reinstall wipes and reinstalls the site, with the same scoped-credential
// teardown guarantee as Restore.
func (s *Site) Reinstall(ctx context.Context, rootPassword, adminPassword string) (res *runner.Result, err error) {
	cred, err := s.env.LeaseDatabaseCredential(ctx, s.Name, rootPassword, s.Database)
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := cred.Release(ctx); relErr != nil && err == nil {
			err = relErr
		}
	}()

	return s.BenchExecute(ctx, fmt.Sprintf(
		"reinstall --yes --mariadb-root-username %s --mariadb-root-password %s --admin-password %s",
		cred.User, cred.Password, adminPassword))
}

// containerPath rewrites a host-side sites path into the bench container's
// mount path convention. Empty paths stay empty.
func (s *Site) containerPath(hostPath string) string {
	if hostPath == "" {
		return ""
	}
	return strings.Replace(hostPath, s.env.SitesDirectory(), s.env.ContainerSitesPath(), 1)
}

// InstallApp installs one app on the site.
func (s *Site) InstallApp(ctx context.Context, app string) (*runner.Result, error) {
	return s.BenchExecute(ctx, "install-app "+app)
}

// InstallApps installs every listed app except frappe, which the restore
// already provides. Returns per-app command output.
func (s *Site) InstallApps(ctx context.Context, apps []string) (map[string]string, error) {
	installed := map[string]string{}
	for _, app := range apps {
		if app == "frappe" {
			continue
		}
		res, err := s.InstallApp(ctx, app)
		if err != nil {
			return nil, err
		}
		installed[app] = res.Output
	}
	return installed, nil
}

// UninstallApp removes one app from the site.
func (s *Site) UninstallApp(ctx context.Context, app string) (*runner.Result, error) {
	return s.BenchExecute(ctx, fmt.Sprintf("uninstall-app %s --yes --force", app))
}

// InstalledApps lists apps currently installed on the site.
func (s *Site) InstalledApps(ctx context.Context) ([]string, error) {
	res, err := s.BenchExecute(ctx, "execute frappe.get_installed_apps")
	if err != nil {
		return nil, err
	}
	var apps []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Output)), &apps); err != nil {
		return nil, fmt.Errorf("parse installed apps: %w", err)
	}
	return apps, nil
}

// UninstallUnavailableApps removes every installed app that is not in the
// keep set, clearing cache after each removal. Returns the removed apps.
func (s *Site) UninstallUnavailableApps(ctx context.Context, appsToKeep []string) ([]string, error) {
	installed, err := s.InstalledApps(ctx)
	if err != nil {
		return nil, err
	}
	keep := map[string]struct{}{}
	for _, app := range appsToKeep {
		keep[app] = struct{}{}
	}

	var removed []string
	for _, app := range installed {
		if _, ok := keep[app]; ok {
			continue
		}
		if _, err := s.BenchExecute(ctx, fmt.Sprintf("remove-from-installed-apps '%s'", app)); err != nil {
			return removed, err
		}
		if _, err := s.BenchExecute(ctx, "clear-cache"); err != nil {
			return removed, err
		}
		removed = append(removed, app)
	}
	return removed, nil
}

// Migrate runs the site migration. Lenient mode continues past non-critical
// patch failures instead of aborting.
func (s *Site) Migrate(ctx context.Context, skipFailingPatches bool) (*runner.Result, error) {
	if skipFailingPatches {
		return s.BenchExecute(ctx, "migrate --skip-failing")
	}
	return s.BenchExecute(ctx, "migrate")
}

// SetAdminPassword resets the administrator account password.
func (s *Site) SetAdminPassword(ctx context.Context, password string) (*runner.Result, error) {
	return s.BenchExecute(ctx, "set-admin-password "+password)
}
