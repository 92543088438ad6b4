package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Defaults are overlaid by an
// optional YAML file, then by environment variables.
type Config struct {
	// Server
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Workers     int      `yaml:"workers"`       // concurrent jobs
	MaxUploadMB int      `yaml:"max_upload_mb"` // extract upload limit

	ResultTTL time.Duration `yaml:"result_ttl"` // finished jobs are dropped after this; 0 keeps them

	// Audio
	SampleRate  int     `yaml:"sample_rate"`  // offline render and extraction rate
	SlotCeiling float64 `yaml:"slot_ceiling"` // seconds, last slot when the track length is unknown

	// Recombiner
	FrameRate      int           `yaml:"frame_rate"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	DriftThreshold float64       `yaml:"drift_threshold"` // seconds
	SettleDelay    time.Duration `yaml:"settle_delay"`
	Monitor        bool          `yaml:"monitor"` // route recombined audio to /stream listeners

	// Tools and storage
	WorkDir      string        `yaml:"work_dir"`
	FFmpeg       string        `yaml:"ffmpeg"`
	FFprobe      string        `yaml:"ffprobe"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:           8080,
		CORSOrigins:    []string{"*"},
		Workers:        2,
		MaxUploadMB:    512,
		ResultTTL:      time.Hour,
		SampleRate:     48000,
		SlotCeiling:    10,
		FrameRate:      30,
		SyncInterval:   100 * time.Millisecond,
		DriftThreshold: 0.1,
		SettleDelay:    100 * time.Millisecond,
		Monitor:        true,
		WorkDir:        os.TempDir(),
		FFmpeg:         "ffmpeg",
		FFprobe:        "ffprobe",
		FetchTimeout:   60 * time.Second,
	}
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies environment
// overrides.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("STUDIO_PORT", c.Port)
	c.CORSOrigins = envList("STUDIO_CORS_ORIGINS", c.CORSOrigins)
	c.Workers = envInt("STUDIO_WORKERS", c.Workers)
	c.MaxUploadMB = envInt("STUDIO_MAX_UPLOAD_MB", c.MaxUploadMB)
	c.ResultTTL = time.Duration(envInt("STUDIO_RESULT_TTL", int(c.ResultTTL/time.Second))) * time.Second
	c.SampleRate = envInt("STUDIO_SAMPLE_RATE", c.SampleRate)
	c.SlotCeiling = envFloat("STUDIO_SLOT_CEILING", c.SlotCeiling)
	c.FrameRate = envInt("STUDIO_FRAME_RATE", c.FrameRate)
	c.SyncInterval = envMillis("STUDIO_SYNC_INTERVAL_MS", c.SyncInterval)
	c.DriftThreshold = envFloat("STUDIO_DRIFT_THRESHOLD", c.DriftThreshold)
	c.SettleDelay = envMillis("STUDIO_SETTLE_DELAY_MS", c.SettleDelay)
	c.Monitor = envBool("STUDIO_MONITOR", c.Monitor)
	c.WorkDir = envStr("STUDIO_WORK_DIR", c.WorkDir)
	c.FFmpeg = envStr("STUDIO_FFMPEG", c.FFmpeg)
	c.FFprobe = envStr("STUDIO_FFPROBE", c.FFprobe)
	c.FetchTimeout = time.Duration(envInt("STUDIO_FETCH_TIMEOUT", int(c.FetchTimeout/time.Second))) * time.Second
}

// Validate checks ranges that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("max_upload_mb must be positive"))
	}
	if c.ResultTTL < 0 {
		errs = append(errs, errors.New("result_ttl must not be negative"))
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate %d out of range [8000, 192000]", c.SampleRate))
	}
	if c.FrameRate <= 0 || c.FrameRate > 120 {
		errs = append(errs, fmt.Errorf("frame_rate %d out of range (0, 120]", c.FrameRate))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive"))
	}
	if c.DriftThreshold <= 0 {
		errs = append(errs, errors.New("drift_threshold must be positive"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, errors.New("settle_delay must not be negative"))
	}
	if c.SlotCeiling <= 0 {
		errs = append(errs, errors.New("slot_ceiling must be positive"))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envMillis(key string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(key, int(fallback/time.Millisecond))) * time.Millisecond
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
