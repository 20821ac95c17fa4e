package app

import (
	"context"
	"fmt"
	"path"

	"github.com/benchops/agent/internal/cryptoutil"
	"github.com/benchops/agent/internal/job"
	"github.com/benchops/agent/internal/site"
)

// BackupJob runs a full backup and optionally copies the artifact set to
// offsite storage.
func (a *App) BackupJob(ctx context.Context, siteName string, withFiles, offsite bool) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Backup Site", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		var backups site.BackupSet
		_, err := e.Run("Backup Site", map[string]any{"with_files": withFiles}, func() (any, error) {
			var err error
			backups, err = s.Backup(ctx, withFiles)
			return backups, err
		})
		if err != nil {
			return err
		}

		if _, err := e.Run("Verify Backup", nil, func() (any, error) {
			return nil, s.VerifyBackup(backups)
		}); err != nil {
			return err
		}

		if !offsite {
			return nil
		}
		if a.Storage == nil {
			return fmt.Errorf("offsite backup requested but no storage backend is configured")
		}
		var encKey []byte
		if a.Cfg.Offsite.EncryptionKey != "" {
			encKey, err = cryptoutil.ParseKey(a.Cfg.Offsite.EncryptionKey)
			if err != nil {
				return err
			}
		}
		prefix := path.Join(a.Cfg.Offsite.Prefix, siteName)
		_, err = e.Run("Upload Offsite Backup", map[string]any{"prefix": prefix}, func() (any, error) {
			return s.UploadOffsiteBackup(ctx, a.Storage, prefix, encKey, backups)
		})
		return err
	})
}

// RestoreOptions are the inputs to RestoreJob.
type RestoreOptions struct {
	Apps               []string
	RootPassword       string
	AdminPassword      string
	DatabaseURL        string
	PublicURL          string
	PrivateURL         string
	SkipFailingPatches bool
}

// RestoreJob downloads the referenced backups, restores the site under a
// scoped credential, reconciles installed apps, migrates, and brings the site
// back online. Downloaded files are discarded whether or not the restore
// succeeds.
func (a *App) RestoreJob(ctx context.Context, siteName string, opts RestoreOptions) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Restore Site", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		files, err := a.Bench.DownloadBackupFiles(ctx, siteName, opts.DatabaseURL, opts.PublicURL, opts.PrivateURL)
		if err != nil {
			return err
		}
		// Staged downloads are discarded on every exit path.
		defer func() {
			if err := a.Bench.DeleteDownloadedFiles(files.Directory); err != nil {
				a.Log.Warn().Err(err).Msg("failed to discard downloaded backups")
			}
		}()

		if _, err := e.Run("Restore Site", map[string]any{"database": files.Database}, func() (any, error) {
			return s.Restore(ctx, site.RestoreOptions{
				RootPassword:  opts.RootPassword,
				AdminPassword: opts.AdminPassword,
				DatabaseFile:  files.Database,
				PublicFile:    files.Public,
				PrivateFile:   files.Private,
			})
		}); err != nil {
			return err
		}

		if _, err := e.Run("Uninstall Unavailable Apps", map[string]any{"keep": opts.Apps}, func() (any, error) {
			return s.UninstallUnavailableApps(ctx, opts.Apps)
		}); err != nil {
			return err
		}
		if _, err := e.Run("Migrate Site", map[string]any{"skip_failing_patches": opts.SkipFailingPatches}, func() (any, error) {
			return s.Migrate(ctx, opts.SkipFailingPatches)
		}); err != nil {
			return err
		}
		if _, err := e.Run("Set Administrator Password", nil, func() (any, error) {
			return s.SetAdminPassword(ctx, opts.AdminPassword)
		}); err != nil {
			return err
		}
		if _, err := e.Run("Enable Scheduler", nil, func() (any, error) {
			return s.EnableScheduler(ctx)
		}); err != nil {
			return err
		}
		return a.refreshProxy(ctx, e)
	})
}

// ReinstallJob wipes and reinstalls the site.
func (a *App) ReinstallJob(ctx context.Context, siteName, rootPassword, adminPassword string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Reinstall Site", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Reinstall Site", nil, func() (any, error) {
			return s.Reinstall(ctx, rootPassword, adminPassword)
		})
		return err
	})
}

// MigrateJob runs a site migration.
func (a *App) MigrateJob(ctx context.Context, siteName string, skipFailingPatches bool) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Migrate Site", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Migrate Site", map[string]any{"skip_failing_patches": skipFailingPatches}, func() (any, error) {
			return s.Migrate(ctx, skipFailingPatches)
		})
		return err
	})
}

// RenameJob quiesces the site, moves its directory, refreshes the proxy, and
// brings it back online under the new name.
func (a *App) RenameJob(ctx context.Context, siteName, newName string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Rename Site", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		if _, err := e.Run("Enable Maintenance Mode", nil, func() (any, error) {
			return s.EnableMaintenanceMode(ctx)
		}); err != nil {
			return err
		}
		// The poller never fails; the attempt history is the step output.
		if _, err := e.Run("Wait for Enqueued Jobs", nil, func() (any, error) {
			return s.WaitUntilReady(ctx, a.Cfg.Poll.ReadyTimeout, a.Cfg.Poll.ReadyInterval), nil
		}); err != nil {
			return err
		}

		cfg, err := s.ReadConfig()
		if err != nil {
			return err
		}
		if host, _ := cfg["host_name"].(string); host == "https://"+s.Name {
			if _, err := e.Run("Update Site Configuration", map[string]any{"host_name": "https://" + newName}, func() (any, error) {
				return s.UpdateConfig(map[string]any{"host_name": "https://" + newName}, nil)
			}); err != nil {
				return err
			}
		}

		if _, err := e.Run("Rename Site", map[string]any{"new_name": newName}, func() (any, error) {
			return nil, s.Rename(newName)
		}); err != nil {
			return err
		}
		if err := a.refreshProxy(ctx, e); err != nil {
			return err
		}
		if _, err := e.Run("Disable Maintenance Mode", nil, func() (any, error) {
			return s.DisableMaintenanceMode(ctx)
		}); err != nil {
			return err
		}
		_, err = e.Run("Enable Scheduler", nil, func() (any, error) {
			return s.EnableScheduler(ctx)
		})
		return err
	})
}

// AddDomainJob adds a domain to the site and refreshes the proxy.
func (a *App) AddDomainJob(ctx context.Context, siteName, domain string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Add Domain", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		if _, err := e.Run("Add Domain", map[string]any{"domain": domain}, func() (any, error) {
			return nil, s.AddDomain(domain)
		}); err != nil {
			return err
		}
		return a.refreshProxy(ctx, e)
	})
}

// RemoveDomainJob removes a domain from the site and refreshes the proxy.
// Removing an absent domain is a no-op that still reloads the proxy.
func (a *App) RemoveDomainJob(ctx context.Context, siteName, domain string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Remove Domain", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		if _, err := e.Run("Remove Domain", map[string]any{"domain": domain}, func() (any, error) {
			return nil, s.RemoveDomain(domain)
		}); err != nil {
			return err
		}
		return a.refreshProxy(ctx, e)
	})
}

// UpdateConfigJob applies additions and removals to the site configuration.
func (a *App) UpdateConfigJob(ctx context.Context, siteName string, additions map[string]any, removals []string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Update Site Configuration", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Update Site Configuration", map[string]any{"set": additions, "remove": removals}, func() (any, error) {
			return s.UpdateConfig(additions, removals)
		})
		return err
	})
}

// InstallAppJob installs an app on the site.
func (a *App) InstallAppJob(ctx context.Context, siteName, appName string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Install App on Site", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Install App on Site", map[string]any{"app": appName}, func() (any, error) {
			return s.InstallApp(ctx, appName)
		})
		return err
	})
}

// UninstallAppJob removes an app from the site.
func (a *App) UninstallAppJob(ctx context.Context, siteName, appName string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Uninstall App from Site", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Uninstall App from Site", map[string]any{"app": appName}, func() (any, error) {
			return s.UninstallApp(ctx, appName)
		})
		return err
	})
}

// SetupERPNextJob provisions the first system manager, seeds the journeys
// config, and hands back the new user's session id as the final step output.
func (a *App) SetupERPNextJob(ctx context.Context, siteName, email, firstName, lastName string, erpnextConfig map[string]any) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Setup ERPNext", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		if _, err := e.Run("Create User", map[string]any{"email": email}, func() (any, error) {
			return s.CreateUser(ctx, email, firstName, lastName)
		}); err != nil {
			return err
		}
		if _, err := e.Run("Update ERPNext Configuration", map[string]any{"set": erpnextConfig}, func() (any, error) {
			return s.UpdateERPNextConfig(erpnextConfig)
		}); err != nil {
			return err
		}
		_, err := e.Run("Fetch Session ID", nil, func() (any, error) {
			sid, err := s.SessionID(ctx, email)
			if err != nil {
				return nil, err
			}
			return map[string]string{"sid": sid}, nil
		})
		return err
	})
}

// UpdatePlanJob applies a hosting plan to the site.
func (a *App) UpdatePlanJob(ctx context.Context, siteName, plan string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Update Plan", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Update Plan", map[string]any{"plan": plan}, func() (any, error) {
			return s.UpdatePlan(ctx, plan)
		})
		return err
	})
}

// ClearCacheJob clears the site and website caches.
func (a *App) ClearCacheJob(ctx context.Context, siteName string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Clear Cache", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		if _, err := e.Run("Clear Cache", nil, func() (any, error) {
			return s.ClearCache(ctx)
		}); err != nil {
			return err
		}
		_, err := e.Run("Clear Website Cache", nil, func() (any, error) {
			return s.ClearWebsiteCache(ctx)
		})
		return err
	})
}

// TablewiseBackupJob stages a per-table dump of the whole database.
func (a *App) TablewiseBackupJob(ctx context.Context, siteName string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Backup Site Tables", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Backup Site Tables", nil, func() (any, error) {
			return s.TablewiseBackup(ctx)
		})
		return err
	})
}

// RestoreSiteTablesJob replays every staged dump, optionally re-activating
// the site afterwards.
func (a *App) RestoreSiteTablesJob(ctx context.Context, siteName string, activate bool) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Restore Site Tables", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		if _, err := e.Run("Restore Site Tables", nil, func() (any, error) {
			return s.RestoreSiteTables(ctx)
		}); err != nil {
			return err
		}
		if !activate {
			return nil
		}
		_, err := e.Run("Disable Maintenance Mode", nil, func() (any, error) {
			return s.DisableMaintenanceMode(ctx)
		})
		return err
	})
}

// RestoreTouchedTablesJob replays staged dumps for the touched-tables
// manifest only.
func (a *App) RestoreTouchedTablesJob(ctx context.Context, siteName string) (*job.Job, error) {
	return a.runJob(ctx, siteName, "Restore Touched Tables", func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run("Restore Touched Tables", nil, func() (any, error) {
			return s.RestoreTouchedTables(ctx)
		})
		return err
	})
}

// MaintenanceJob toggles maintenance mode.
func (a *App) MaintenanceJob(ctx context.Context, siteName string, enable bool) (*job.Job, error) {
	name := "Disable Maintenance Mode"
	if enable {
		name = "Enable Maintenance Mode"
	}
	return a.runJob(ctx, siteName, name, func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run(name, nil, func() (any, error) {
			if enable {
				return s.EnableMaintenanceMode(ctx)
			}
			return s.DisableMaintenanceMode(ctx)
		})
		return err
	})
}

// SchedulerJob runs one scheduler operation: pause, resume, or enable.
func (a *App) SchedulerJob(ctx context.Context, siteName, op string) (*job.Job, error) {
	titles := map[string]string{
		"pause":  "Pause Scheduler",
		"resume": "Resume Scheduler",
		"enable": "Enable Scheduler",
	}
	title, ok := titles[op]
	if !ok {
		return nil, fmt.Errorf("unknown scheduler operation: %s", op)
	}
	return a.runJob(ctx, siteName, title, func(ctx context.Context, s *site.Site, e *job.Execution) error {
		_, err := e.Run(title, nil, func() (any, error) {
			switch op {
			case "pause":
				return s.PauseScheduler(ctx)
			case "resume":
				return s.ResumeScheduler(ctx)
			default:
				return s.EnableScheduler(ctx)
			}
		})
		return err
	})
}

func (a *App) refreshProxy(ctx context.Context, e *job.Execution) error {
	if _, err := e.Run("Setup NGINX", nil, func() (any, error) {
		return a.Bench.SetupNginx(ctx)
	}); err != nil {
		return err
	}
	_, err := e.Run("Reload NGINX", nil, func() (any, error) {
		return a.Bench.ReloadNginx(ctx)
	})
	return err
}
