package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultguard.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	baseDir := filepath.Dir(path)

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Web3.ContractCacheSize != 3 {
		t.Fatalf("unexpected cache size %d", cfg.Web3.ContractCacheSize)
	}
	if cfg.Agent.MaxToolRounds != 3 || *cfg.Agent.PrimaryTemperature != 0.7 || *cfg.Agent.SecondaryTemperature != 0 {
		t.Fatalf("unexpected agent defaults %+v", cfg.Agent)
	}
	if cfg.Agent.PromptDir != filepath.Join(baseDir, "prompts") {
		t.Fatalf("unexpected prompt dir %q", cfg.Agent.PromptDir)
	}
	if cfg.Notify.Queue.Driver != "memory" || cfg.Notify.Queue.Workers != 2 {
		t.Fatalf("unexpected queue defaults %+v", cfg.Notify.Queue)
	}
	if cfg.Vault.ExpirationCheckSeconds != 60 {
		t.Fatalf("unexpected expiration interval %d", cfg.Vault.ExpirationCheckSeconds)
	}
}

func TestLoadResolvesSecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")
	t.Setenv("TEST_DB_DSN", "file:vault.db")
	t.Setenv("VAULTGUARD_ADMIN_TOKEN", "admin")
	path := writeConfig(t, `{
  "storage": {"driver": "SQLite", "dsn_env": "TEST_DB_DSN"},
  "llm": {"api_key_env": "TEST_LLM_KEY"},
  "agent": {"primary_temperature": 0.2}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("api key not resolved: %q", cfg.LLM.APIKey)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "file:vault.db" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Server.AdminToken != "admin" {
		t.Fatalf("admin token not resolved")
	}
	if *cfg.Agent.PrimaryTemperature != 0.2 {
		t.Fatalf("explicit temperature overwritten: %v", *cfg.Agent.PrimaryTemperature)
	}
}

func TestLoadRejectsInvalidDrivers(t *testing.T) {
	cases := map[string]string{
		"sql without dsn": `{"storage": {"driver": "mysql"}}`,
		"unknown storage": `{"storage": {"driver": "postgres", "dsn": "x"}}`,
		"unknown queue":   `{"notify": {"queue": {"driver": "kafka"}}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
