package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/benchops/agent/internal/cryptoutil"
)

const envPrefix = "AGENT"

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("AGENT_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but AGENT_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("AGENT_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"agent.yaml",
		"agent.yml",
		"agent.toml",
		"agent.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "bench-agent")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"agent.yaml.enc", "agent.yml.enc", "agent.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "2h")
	vp.SetDefault("bench.container_sites_path", "/home/frappe/frappe-bench/sites")
	vp.SetDefault("bench.database_host", "localhost")
	vp.SetDefault("poll.ready_timeout", "120s")
	vp.SetDefault("poll.ready_interval", "1s")
	vp.SetDefault("offsite.backend", "s3")
	vp.SetDefault("proxy.setup_command", "bench setup nginx --yes")
	vp.SetDefault("proxy.reload_command", "sudo systemctl reload nginx")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Global.LockDirectory == "" {
		cfg.Global.LockDirectory = os.TempDir()
	}
	if cfg.Bench.SitesDirectory == "" && cfg.Bench.Directory != "" {
		cfg.Bench.SitesDirectory = filepath.Join(cfg.Bench.Directory, "sites")
	}
	if cfg.Poll.ReadyTimeout == 0 {
		cfg.Poll.ReadyTimeout = 120 * time.Second
	}
	if cfg.Poll.ReadyInterval == 0 {
		cfg.Poll.ReadyInterval = time.Second
	}
}

func expandEnv(cfg *Config) {
	cfg.Offsite.AccessKey = os.ExpandEnv(cfg.Offsite.AccessKey)
	cfg.Offsite.SecretKey = os.ExpandEnv(cfg.Offsite.SecretKey)
	cfg.Offsite.EncryptionKey = os.ExpandEnv(cfg.Offsite.EncryptionKey)
	for i := range cfg.Notify.Webhooks {
		cfg.Notify.Webhooks[i].URL = os.ExpandEnv(cfg.Notify.Webhooks[i].URL)
	}
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.OpenConfig(ciphertext, parsed)
}
