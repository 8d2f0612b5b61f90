package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear any env vars that would override defaults
	for _, k := range []string{
		"APKFORGE_PORT", "APKFORGE_PROJECT_DIR", "APKFORGE_DEPLOY_DIR",
		"APKFORGE_ARTIFACT_DIR", "APKFORGE_UI_DIR", "APKFORGE_CLEANUP_INTERVAL",
		"APKFORGE_BUILD_TIMEOUT", "APKFORGE_CLEANUP_DELAY", "APKFORGE_BATCH_RETENTION",
	} {
		os.Unsetenv(k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "3001" {
		t.Errorf("Port = %q, want 3001", cfg.Port)
	}
	if cfg.DeployDir != "/workspace/android-webapp/deploy" {
		t.Errorf("DeployDir = %q", cfg.DeployDir)
	}
	if cfg.ArtifactDir != cfg.DeployDir {
		t.Errorf("ArtifactDir = %q, want DeployDir", cfg.ArtifactDir)
	}
	if cfg.CleanupDelay != 10*time.Minute {
		t.Errorf("CleanupDelay = %s", cfg.CleanupDelay)
	}
	if cfg.BuildTimeout != 30*time.Minute {
		t.Errorf("BuildTimeout = %s", cfg.BuildTimeout)
	}
	if cfg.BatchRetention != 0 {
		t.Errorf("BatchRetention = %s, want 0", cfg.BatchRetention)
	}
	if cfg.UIDir != "" {
		t.Errorf("UIDir = %q, want empty", cfg.UIDir)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APKFORGE_PORT", "9999")
	t.Setenv("APKFORGE_PROJECT_DIR", "/opt/android")
	t.Setenv("APKFORGE_BUILD_TIMEOUT", "45s")
	t.Setenv("APKFORGE_S3_USE_SSL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.DeployDir != "/opt/android/deploy" {
		t.Errorf("DeployDir = %q", cfg.DeployDir)
	}
	if cfg.BuildTimeout != 45*time.Second {
		t.Errorf("BuildTimeout = %s", cfg.BuildTimeout)
	}
	if cfg.S3UseSSL {
		t.Error("S3UseSSL = true, want false")
	}
}

func TestCleanupIntervalClamped(t *testing.T) {
	t.Setenv("APKFORGE_CLEANUP_INTERVAL", "10s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %s, want 1m", cfg.CleanupInterval)
	}

	t.Setenv("APKFORGE_CLEANUP_INTERVAL", "1h")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CleanupInterval != 10*time.Minute {
		t.Errorf("CleanupInterval = %s, want 10m", cfg.CleanupInterval)
	}
}

func TestOrigins(t *testing.T) {
	cfg := &Config{AllowedOrigins: " https://a.example , ,https://b.example"}
	got := cfg.Origins()
	if len(got) != 4 || got[2] != "https://a.example" || got[3] != "https://b.example" {
		t.Errorf("Origins() = %v", got)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("APKFORGE_BUILD_TIMEOUT", "forever")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid duration")
	}
}
