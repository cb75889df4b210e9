package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds every operator-tunable knob. Loaded from a JSON file and
// validated before anything starts.
type Config struct {
	Concurrency        int     `json:"concurrency"`
	ContactDepth       int     `json:"contact_depth"`
	EmailLimit         int     `json:"email_limit"`
	Timeout            int     `json:"timeout"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	HostSpacingMs      int     `json:"host_spacing_ms"`
	HelperSlots        int     `json:"helper_slots"`
	AutoTune           bool    `json:"auto_tune"`

	SeedsFilePath   string `json:"seeds_file_path"`
	UserAgentsFile  string `json:"user_agents_file"`
	ReferersFile    string `json:"referers_file"`
	ProxiesFile     string `json:"proxies_file"`
	OutputDirectory string `json:"output_directory"`
	LogFile         string `json:"log_file"`

	EnableBrowser   bool `json:"enable_browser"`
	BrowserContexts int  `json:"browser_contexts"`

	EnableOCR    bool   `json:"enable_ocr"`
	OCREngine    string `json:"ocr_engine"` // "tesseract", "none" or "auto"
	MaxImageSize int    `json:"max_image_size"`
	OCRTimeout   int    `json:"ocr_timeout"`

	ValidateMX      bool `json:"validate_mx"`
	EnableSMTPProbe bool `json:"enable_smtp_probe"`
	RespectRobots   bool `json:"respect_robots"`

	DisposableCacheFile string   `json:"disposable_cache_file"`
	DisposableSources   []string `json:"disposable_sources"`

	DistributedMode bool   `json:"distributed_mode"`
	RedisURL        string `json:"redis_url"`
	WorkerID        string `json:"worker_id"`
	QueueName       string `json:"queue_name"`
}

// DefaultConfig is what runs when no config file is given.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		ContactDepth:        1,
		EmailLimit:          50,
		Timeout:             30,
		RateLimitPerSecond:  50,
		HostSpacingMs:       120,
		HelperSlots:         6,
		AutoTune:            true,
		OutputDirectory:     "results",
		EnableBrowser:       false,
		BrowserContexts:     3,
		EnableOCR:           false,
		OCREngine:           "auto",
		MaxImageSize:        5 << 20,
		OCRTimeout:          30,
		DisposableCacheFile: "disposable_domains.json",
		QueueName:           defaultQueueName,
	}
}

// LoadConfig reads the JSON config file, optionally auto-tunes it to the
// machine, and validates the result.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()
	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			return cfg, err
		}
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if cfg.AutoTune {
		tuned, perf, err := OptimizeConfig(&cfg)
		if err != nil {
			log.Printf("Warning: system analysis failed, keeping configured values: %v", err)
		} else {
			cfg = *tuned
			log.Printf("✅ Configuration tuned to this machine:")
			log.Printf("   CPU Cores: %d | CPU Usage: %.1f%%", perf.CPUCores, perf.CPUUsage)
			log.Printf("   Memory: %d MB available (%.1f%% used)", perf.AvailableMemoryMB, perf.MemoryUsagePercent)
			log.Printf("   Network: ~%.1f Mbps | Latency: %v", perf.NetworkSpeedMbps, perf.NetworkLatency)
			log.Printf("   Tuned: Concurrency=%d, Rate=%d/s, Timeout=%ds, BrowserContexts=%d",
				cfg.Concurrency, int(cfg.RateLimitPerSecond), cfg.Timeout, cfg.BrowserContexts)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate bounds-checks the configuration values.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 1000 {
		return fmt.Errorf("concurrency too high (max 1000), got %d", c.Concurrency)
	}
	if c.ContactDepth < 0 {
		return fmt.Errorf("contact_depth must be >= 0, got %d", c.ContactDepth)
	}
	if c.ContactDepth > 5 {
		return fmt.Errorf("contact_depth too high (max 5), got %d", c.ContactDepth)
	}
	if c.EmailLimit < 1 {
		return fmt.Errorf("email_limit must be >= 1, got %d", c.EmailLimit)
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be >= 1 second, got %d", c.Timeout)
	}
	if c.Timeout > 300 {
		return fmt.Errorf("timeout too high (max 300 seconds), got %d", c.Timeout)
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate_limit_per_second must be > 0, got %f", c.RateLimitPerSecond)
	}
	if c.RateLimitPerSecond > 1000 {
		return fmt.Errorf("rate_limit_per_second too high (max 1000), got %f", c.RateLimitPerSecond)
	}
	if c.HostSpacingMs < 0 {
		return fmt.Errorf("host_spacing_ms must be >= 0, got %d", c.HostSpacingMs)
	}
	if c.HelperSlots < 1 {
		return fmt.Errorf("helper_slots must be >= 1, got %d", c.HelperSlots)
	}
	if c.BrowserContexts < 1 {
		return fmt.Errorf("browser_contexts must be >= 1, got %d", c.BrowserContexts)
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory cannot be empty")
	}
	if c.EnableOCR {
		if c.MaxImageSize < 0 {
			return fmt.Errorf("max_image_size must be >= 0, got %d", c.MaxImageSize)
		}
		if c.OCRTimeout < 1 {
			return fmt.Errorf("ocr_timeout must be >= 1 second, got %d", c.OCRTimeout)
		}
	}
	if c.DistributedMode && c.RedisURL == "" {
		return fmt.Errorf("distributed_mode requires redis_url")
	}
	return nil
}

// SetupLogging routes the standard logger through a rotating file when one
// is configured, keeping console output too.
func SetupLogging(logFile string) {
	if logFile == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}
