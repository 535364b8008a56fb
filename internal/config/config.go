// Package config loads service configuration from an optional YAML file
// overlaid by environment variables. Env always wins.
package config

import (
    "os"
    "strconv"
    "time"

    "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"databaseUrl"`
    RedisURL    string `yaml:"redisUrl"`
    Migrate     bool   `yaml:"migrate"`

    Log      Log      `yaml:"log"`
    Dispatch Dispatch `yaml:"dispatch"`
}

type Log struct {
    Level  string `yaml:"level"`
    Format string `yaml:"format"` // json or console
}

type Dispatch struct {
    MaxBatch      int `yaml:"maxBatch"`
    MaxAttempts   int `yaml:"maxAttempts"`
    TimeoutMs     int `yaml:"timeoutMs"`
    DebounceMs    int `yaml:"debounceMs"`
    SweepInterval int `yaml:"sweepIntervalSec"`
    LeaseSec      int `yaml:"leaseSec"`
}

func (d Dispatch) Timeout() time.Duration  { return time.Duration(d.TimeoutMs) * time.Millisecond }
func (d Dispatch) Debounce() time.Duration { return time.Duration(d.DebounceMs) * time.Millisecond }
func (d Dispatch) Sweep() time.Duration    { return time.Duration(d.SweepInterval) * time.Second }
func (d Dispatch) Lease() time.Duration    { return time.Duration(d.LeaseSec) * time.Second }

func defaults() *Config {
    return &Config{
        Port:    "8080",
        Migrate: true,
        Log:     Log{Level: "info", Format: "json"},
        Dispatch: Dispatch{
            MaxBatch:      50,
            MaxAttempts:   3,
            TimeoutMs:     5000,
            DebounceMs:    2000,
            SweepInterval: 30,
            LeaseSec:      300,
        },
    }
}

// Load reads path (if non-empty and present) then overlays env vars.
func Load(path string) (*Config, error) {
    cfg := defaults()
    if path == "" {
        path = os.Getenv("CONFIG_FILE")
    }
    if path != "" {
        data, err := os.ReadFile(path)
        if err != nil {
            if !os.IsNotExist(err) { return nil, err }
        } else if err := yaml.Unmarshal(data, cfg); err != nil {
            return nil, err
        }
    }
    overlayEnv(cfg)
    return cfg, nil
}

func overlayEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Port = v }
    if v := os.Getenv("DATABASE_URL"); v != "" { cfg.DatabaseURL = v }
    if v := os.Getenv("REDIS_URL"); v != "" { cfg.RedisURL = v }
    if v := os.Getenv("DB_MIGRATE"); v != "" { cfg.Migrate = v != "false" }
    if v := os.Getenv("LOG_LEVEL"); v != "" { cfg.Log.Level = v }
    if v := os.Getenv("LOG_FORMAT"); v != "" { cfg.Log.Format = v }
    overlayInt("WEBHOOK_MAX_BATCH", &cfg.Dispatch.MaxBatch)
    overlayInt("WEBHOOK_MAX_ATTEMPTS", &cfg.Dispatch.MaxAttempts)
    overlayInt("WEBHOOK_TIMEOUT_MS", &cfg.Dispatch.TimeoutMs)
    overlayInt("WEBHOOK_DEBOUNCE_MS", &cfg.Dispatch.DebounceMs)
    overlayInt("WEBHOOK_SWEEP_INTERVAL_SEC", &cfg.Dispatch.SweepInterval)
    overlayInt("WEBHOOK_LEASE_SEC", &cfg.Dispatch.LeaseSec)
}

func overlayInt(key string, dst *int) {
    if v := os.Getenv(key); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { *dst = n }
    }
}
