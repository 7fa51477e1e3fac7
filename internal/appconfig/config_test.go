package appconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chimesgate.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
model_dir = "./models"
jwt_secret = "s3cret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
	ttl, err := cfg.JWTTTLDuration()
	if err != nil {
		t.Fatal(err)
	}
	if ttl != 24*time.Hour {
		t.Errorf("JWTTTLDuration = %v, want 24h default", ttl)
	}
}

func TestLoad_RejectsMissingModelDir(t *testing.T) {
	path := writeConfig(t, `jwt_secret = "s3cret"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing model_dir")
	}
}

func TestLoad_RejectsMissingJWTSecret(t *testing.T) {
	path := writeConfig(t, `model_dir = "./models"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing jwt_secret")
	}
}

func TestLoad_ParsesJobsAndExplicitListenAddr(t *testing.T) {
	path := writeConfig(t, `
listen_addr = ":9090"
model_dir = "./models"
jwt_secret = "s3cret"
jwt_ttl = "1h"

[[jobs]]
key = "ns://plugin/cleanup#run"
schedule = "@every 1h"
kind = "shell"
commands = ["echo hi", "echo bye"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	ttl, _ := cfg.JWTTTLDuration()
	if ttl != time.Hour {
		t.Errorf("JWTTTLDuration = %v", ttl)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Kind != "shell" || len(cfg.Jobs[0].Commands) != 2 {
		t.Fatalf("Jobs = %+v", cfg.Jobs)
	}
}
