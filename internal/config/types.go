package config

import "time"

// Config is the root configuration schema for the agent.
type Config struct {
	Global  GlobalConfig  `mapstructure:"global"`
	Bench   BenchConfig   `mapstructure:"bench"`
	Poll    PollConfig    `mapstructure:"poll"`
	Offsite OffsiteConfig `mapstructure:"offsite"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockDirectory    string        `mapstructure:"lock_directory"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

// BenchConfig describes the managed bench this agent operates on.
type BenchConfig struct {
	Name string `mapstructure:"name"`
	// Directory is the bench root on the host.
	Directory string `mapstructure:"directory"`
	// SitesDirectory is where site roots live; defaults to <directory>/sites.
	SitesDirectory string `mapstructure:"sites_directory"`
	// ContainerSitesPath is the sites mount path inside the bench container.
	ContainerSitesPath string `mapstructure:"container_sites_path"`
	// DatabaseHost is the default db host for sites that do not pin their own.
	DatabaseHost string `mapstructure:"database_host"`
	// ExecPrefix wraps every bench command, e.g. "docker exec <container>".
	ExecPrefix string `mapstructure:"exec_prefix"`
}

type PollConfig struct {
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	ReadyInterval time.Duration `mapstructure:"ready_interval"`
}

// OffsiteConfig configures the object storage backend for offsite backups.
type OffsiteConfig struct {
	Backend       string `mapstructure:"backend"` // local, s3
	LocalPath     string `mapstructure:"local_path"`
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PathStyle     bool   `mapstructure:"path_style"`
	Prefix        string `mapstructure:"prefix"`
	EncryptionKey string `mapstructure:"encryption_key"` // optional; encrypts uploads
}

// ProxyConfig holds the commands that regenerate and reload the reverse proxy.
type ProxyConfig struct {
	SetupCommand  string `mapstructure:"setup_command"`
	ReloadCommand string `mapstructure:"reload_command"`
}

type NotifyConfig struct {
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}
