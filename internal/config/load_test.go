package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "agent.yaml", `
global:
  log_level: debug
bench:
  name: bench-one
  directory: /home/frappe/frappe-bench
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Global.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.Global.LogLevel)
	}
	if cfg.Global.OperationTimeout != 2*time.Hour {
		t.Fatalf("operation timeout = %v", cfg.Global.OperationTimeout)
	}
	if cfg.Bench.SitesDirectory != "/home/frappe/frappe-bench/sites" {
		t.Fatalf("sites directory not derived: %q", cfg.Bench.SitesDirectory)
	}
	if cfg.Bench.ContainerSitesPath != "/home/frappe/frappe-bench/sites" {
		t.Fatalf("container sites path = %q", cfg.Bench.ContainerSitesPath)
	}
	if cfg.Poll.ReadyTimeout != 120*time.Second || cfg.Poll.ReadyInterval != time.Second {
		t.Fatalf("poll defaults = %v/%v", cfg.Poll.ReadyTimeout, cfg.Poll.ReadyInterval)
	}
	if cfg.Global.LockDirectory == "" {
		t.Fatalf("lock directory default missing")
	}
}

func TestLoadExplicitSitesDirectoryWins(t *testing.T) {
	path := writeConfigFile(t, "agent.yaml", `
bench:
  directory: /home/frappe/frappe-bench
  sites_directory: /srv/sites
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bench.SitesDirectory != "/srv/sites" {
		t.Fatalf("sites directory = %q", cfg.Bench.SitesDirectory)
	}
}

func TestLoadExpandsEnvSecrets(t *testing.T) {
	t.Setenv("TEST_OFFSITE_SECRET", "s3cr3t")
	path := writeConfigFile(t, "agent.yaml", `
offsite:
  backend: s3
  endpoint: s3.example.com
  bucket: backups
  access_key: AKIA123
  secret_key: ${TEST_OFFSITE_SECRET}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Offsite.SecretKey != "s3cr3t" {
		t.Fatalf("secret key not expanded: %q", cfg.Offsite.SecretKey)
	}
}

func TestLoadEncryptedConfig(t *testing.T) {
	key := "hex:0000000000000000000000000000000000000000000000000000000000000001"
	plain := writeConfigFile(t, "agent.yaml", `
bench:
  name: bench-encrypted
  directory: /home/frappe/frappe-bench
`)
	enc := filepath.Join(filepath.Dir(plain), "agent.yaml.enc")
	if err := EncryptConfigFile(plain, enc, key); err != nil {
		t.Fatalf("EncryptConfigFile: %v", err)
	}

	t.Setenv("AGENT_CONFIG_KEY", key)
	cfg, err := Load(enc)
	if err != nil {
		t.Fatalf("Load encrypted: %v", err)
	}
	if cfg.Bench.Name != "bench-encrypted" {
		t.Fatalf("bench name = %q", cfg.Bench.Name)
	}
}

func TestLoadEncryptedConfigWithoutKey(t *testing.T) {
	key := "hex:0000000000000000000000000000000000000000000000000000000000000001"
	plain := writeConfigFile(t, "agent.yaml", "bench:\n  name: x\n")
	enc := filepath.Join(filepath.Dir(plain), "agent.yaml.enc")
	if err := EncryptConfigFile(plain, enc, key); err != nil {
		t.Fatalf("EncryptConfigFile: %v", err)
	}

	t.Setenv("AGENT_CONFIG_KEY", "")
	if _, err := Load(enc); err == nil {
		t.Fatalf("expected error without decryption key")
	}
}
