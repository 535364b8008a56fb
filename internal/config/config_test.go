package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func TestLoadDefaults(t *testing.T) {
    cfg, err := Load("")
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if cfg.Port != "8080" || cfg.Dispatch.MaxAttempts != 3 || cfg.Dispatch.MaxBatch != 50 {
        t.Fatalf("unexpected defaults: %+v", cfg)
    }
    if cfg.Dispatch.Debounce() != 2*time.Second || cfg.Dispatch.Sweep() != 30*time.Second || cfg.Dispatch.Lease() != 5*time.Minute {
        t.Fatalf("unexpected durations: %+v", cfg.Dispatch)
    }
}

func TestLoadYAMLFile(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "config.yaml")
    data := []byte("port: \"9090\"\ndispatch:\n  maxBatch: 10\n  debounceMs: 500\n")
    if err := os.WriteFile(path, data, 0o600); err != nil {
        t.Fatal(err)
    }
    cfg, err := Load(path)
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if cfg.Port != "9090" || cfg.Dispatch.MaxBatch != 10 {
        t.Fatalf("yaml not applied: %+v", cfg)
    }
    // untouched keys keep defaults
    if cfg.Dispatch.MaxAttempts != 3 {
        t.Fatalf("defaults lost: %+v", cfg.Dispatch)
    }
}

func TestEnvOverridesFile(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "config.yaml")
    if err := os.WriteFile(path, []byte("port: \"9090\"\n"), 0o600); err != nil {
        t.Fatal(err)
    }
    t.Setenv("PORT", "7070")
    t.Setenv("WEBHOOK_MAX_ATTEMPTS", "5")
    t.Setenv("DB_MIGRATE", "false")

    cfg, err := Load(path)
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if cfg.Port != "7070" || cfg.Dispatch.MaxAttempts != 5 || cfg.Migrate {
        t.Fatalf("env overlay wrong: %+v", cfg)
    }
}

func TestLoadIgnoresBadIntEnv(t *testing.T) {
    t.Setenv("WEBHOOK_MAX_BATCH", "not-a-number")
    cfg, err := Load("")
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if cfg.Dispatch.MaxBatch != 50 {
        t.Fatalf("bad env should be ignored: %+v", cfg.Dispatch)
    }
}

func TestLoadMissingFileIsFine(t *testing.T) {
    if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
        t.Fatalf("missing file should fall back to defaults: %v", err)
    }
}
