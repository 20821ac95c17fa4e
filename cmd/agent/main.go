package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/benchops/agent/internal/app"
	"github.com/benchops/agent/internal/bench"
	"github.com/benchops/agent/internal/config"
	"github.com/benchops/agent/internal/job"
	"github.com/benchops/agent/internal/logging"
	"github.com/benchops/agent/internal/notify"
	"github.com/benchops/agent/internal/runner"
	"github.com/benchops/agent/internal/storage"
	"github.com/benchops/agent/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Site       string
}

func main() {
	root := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Lifecycle agent for hosted bench sites",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&root.Site, "site", "", "Site name")

	rootCmd.AddCommand(newBackupCmd(root))
	rootCmd.AddCommand(newRestoreCmd(root))
	rootCmd.AddCommand(newReinstallCmd(root))
	rootCmd.AddCommand(newMigrateCmd(root))
	rootCmd.AddCommand(newRenameCmd(root))
	rootCmd.AddCommand(newDomainCmd(root))
	rootCmd.AddCommand(newAppCmd(root))
	rootCmd.AddCommand(newSiteConfigCmd(root))
	rootCmd.AddCommand(newMaintenanceCmd(root))
	rootCmd.AddCommand(newSchedulerCmd(root))
	rootCmd.AddCommand(newTablesCmd(root))
	rootCmd.AddCommand(newSetupERPNextCmd(root))
	rootCmd.AddCommand(newUpdatePlanCmd(root))
	rootCmd.AddCommand(newClearCacheCmd(root))
	rootCmd.AddCommand(newStatusCmd(root))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildApp(root *rootFlags) (*app.App, *config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	sh := &runner.Shell{}
	b := bench.New(cfg, sh, logger)

	var store storage.Storage
	if cfg.Offsite.Bucket != "" || (cfg.Offsite.Backend == "local" && cfg.Offsite.LocalPath != "") {
		store, err = storage.New(cfg.Offsite)
		if err != nil {
			return nil, nil, err
		}
	}

	appSvc := app.New(cfg, b, store, job.NopRecorder{}, notify.FromConfig(cfg.Notify), logger)
	return appSvc, cfg, nil
}

func requireSite(root *rootFlags) error {
	if root.Site == "" {
		return fmt.Errorf("--site is required")
	}
	return nil
}

// runJobCommand is the shared shape of every job subcommand: build the app,
// run the job with the configured operation timeout, print the job record.
func runJobCommand(root *rootFlags, fn func(ctx context.Context, a *app.App) (*job.Job, error)) error {
	if err := requireSite(root); err != nil {
		return err
	}
	a, cfg, err := buildApp(root)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
	defer cancel()

	j, jobErr := fn(ctx, a)
	if j != nil {
		printJSON(j)
	}
	return jobErr
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(data))
}

func newBackupCmd(root *rootFlags) *cobra.Command {
	var withFiles bool
	var offsite bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a site backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.BackupJob(ctx, root.Site, withFiles, offsite)
			})
		},
	}
	cmd.Flags().BoolVar(&withFiles, "with-files", false, "Back up public and private files too")
	cmd.Flags().BoolVar(&offsite, "offsite", false, "Upload the artifact set to offsite storage")
	return cmd
}

func newRestoreCmd(root *rootFlags) *cobra.Command {
	var opts app.RestoreOptions
	var apps []string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a site from backup files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURL == "" {
				return fmt.Errorf("--database-url is required")
			}
			opts.Apps = apps
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.RestoreJob(ctx, root.Site, opts)
			})
		},
	}
	cmd.Flags().StringSliceVar(&apps, "apps", nil, "Apps to keep installed after restore")
	cmd.Flags().StringVar(&opts.RootPassword, "db-root-password", "", "Database root password")
	cmd.Flags().StringVar(&opts.AdminPassword, "admin-password", "", "Administrator password to set")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "URL of the database backup")
	cmd.Flags().StringVar(&opts.PublicURL, "public-url", "", "URL of the public files archive")
	cmd.Flags().StringVar(&opts.PrivateURL, "private-url", "", "URL of the private files archive")
	cmd.Flags().BoolVar(&opts.SkipFailingPatches, "skip-failing-patches", false, "Continue past non-critical patch failures")
	return cmd
}

func newReinstallCmd(root *rootFlags) *cobra.Command {
	var rootPassword string
	var adminPassword string

	cmd := &cobra.Command{
		Use:   "reinstall",
		Short: "Wipe and reinstall a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.ReinstallJob(ctx, root.Site, rootPassword, adminPassword)
			})
		},
	}
	cmd.Flags().StringVar(&rootPassword, "db-root-password", "", "Database root password")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "Administrator password to set")
	return cmd
}

func newMigrateCmd(root *rootFlags) *cobra.Command {
	var skipFailing bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.MigrateJob(ctx, root.Site, skipFailing)
			})
		},
	}
	cmd.Flags().BoolVar(&skipFailing, "skip-failing-patches", false, "Continue past non-critical patch failures")
	return cmd
}

func newRenameCmd(root *rootFlags) *cobra.Command {
	var newName string

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			if newName == "" {
				return fmt.Errorf("--new-name is required")
			}
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.RenameJob(ctx, root.Site, newName)
			})
		},
	}
	cmd.Flags().StringVar(&newName, "new-name", "", "New site name")
	return cmd
}

func newDomainCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Manage site domains",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <domain>",
		Short: "Add a domain to the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.AddDomainJob(ctx, root.Site, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <domain>",
		Short: "Remove a domain from the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.RemoveDomainJob(ctx, root.Site, args[0])
			})
		},
	})
	return cmd
}

func newAppCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage site apps",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install <app>",
		Short: "Install an app on the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.InstallAppJob(ctx, root.Site, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall <app>",
		Short: "Uninstall an app from the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.UninstallAppJob(ctx, root.Site, args[0])
			})
		},
	})
	return cmd
}

func newSiteConfigCmd(root *rootFlags) *cobra.Command {
	var set []string
	var remove []string

	cmd := &cobra.Command{
		Use:   "site-config",
		Short: "Update the site configuration document",
		RunE: func(cmd *cobra.Command, args []string) error {
			additions := map[string]any{}
			for _, pair := range set {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, want key=value", pair)
				}
				additions[key] = value
			}
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.UpdateConfigJob(ctx, root.Site, additions, remove)
			})
		},
	}
	cmd.Flags().StringSliceVar(&set, "set", nil, "key=value pairs to merge into the config")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "Keys to remove from the config")
	return cmd
}

func newMaintenanceCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance <on|off>",
		Short: "Toggle maintenance mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "on", "off":
			default:
				return fmt.Errorf("argument must be on or off")
			}
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.MaintenanceJob(ctx, root.Site, args[0] == "on")
			})
		},
	}
	return cmd
}

func newSchedulerCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler <pause|resume|enable>",
		Short: "Control the site scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.SchedulerJob(ctx, root.Site, args[0])
			})
		},
	}
}

func newTablesCmd(root *rootFlags) *cobra.Command {
	var activate bool
	var touchedOnly bool

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Table-level backup and restore",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "backup",
		Short: "Stage a per-table dump of the site database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.TablewiseBackupJob(ctx, root.Site)
			})
		},
	})

	restore := &cobra.Command{
		Use:   "restore",
		Short: "Replay staged table dumps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				if touchedOnly {
					return a.RestoreTouchedTablesJob(ctx, root.Site)
				}
				return a.RestoreSiteTablesJob(ctx, root.Site, activate)
			})
		},
	}
	restore.Flags().BoolVar(&activate, "activate", false, "Disable maintenance mode after restoring")
	restore.Flags().BoolVar(&touchedOnly, "touched-only", false, "Restore only tables in the touched-tables manifest")
	cmd.AddCommand(restore)

	return cmd
}

func newSetupERPNextCmd(root *rootFlags) *cobra.Command {
	var email, firstName, lastName string
	var set []string

	cmd := &cobra.Command{
		Use:   "setup-erpnext",
		Short: "Provision the first user and journeys config on the site",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			erpnextConfig := map[string]any{}
			for _, pair := range set {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, want key=value", pair)
				}
				erpnextConfig[key] = value
			}
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.SetupERPNextJob(ctx, root.Site, email, firstName, lastName, erpnextConfig)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email of the system manager to create")
	cmd.Flags().StringVar(&firstName, "first-name", "", "First name of the system manager")
	cmd.Flags().StringVar(&lastName, "last-name", "", "Last name of the system manager")
	cmd.Flags().StringSliceVar(&set, "set", nil, "key=value pairs to merge into the journeys config")
	return cmd
}

func newUpdatePlanCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update-plan <plan>",
		Short: "Apply a hosting plan to the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.UpdatePlanJob(ctx, root.Site, args[0])
			})
		},
	}
}

func newClearCacheCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Clear the site and website caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCommand(root, func(ctx context.Context, a *app.App) (*job.Job, error) {
				return a.ClearCacheJob(ctx, root.Site)
			})
		},
	}
}

func newStatusCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show site liveness and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSite(root); err != nil {
				return err
			}
			a, cfg, err := buildApp(root)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			s, err := a.Bench.NewSite(root.Site)
			if err != nil {
				return err
			}
			status, err := s.FetchStatus(ctx)
			if err != nil {
				return err
			}
			printJSON(map[string]any{
				"status": status,
				"usage":  s.Usage(ctx),
			})
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agent %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
