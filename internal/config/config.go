// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the server's YAML configuration and
// watches the file for changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AthunSujith/echoversa/internal/fallback"
	"github.com/AthunSujith/echoversa/internal/models"
	"github.com/AthunSujith/echoversa/internal/monitor"
)

// Config is the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface the API server binds. Empty binds all
	// interfaces.
	Host string `yaml:"host"`
	// Port is the API server port.
	Port int `yaml:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// Logging controls log output and rotation.
	Logging LoggingConfig `yaml:"logging"`

	// Chains maps each capability to its ordered provider chain.
	Chains map[string][]string `yaml:"chains"`

	// Providers configures the concrete backends the chains refer to.
	Providers ProvidersConfig `yaml:"providers"`

	// Fallback bounds retries and per-attempt time.
	Fallback fallback.Config `yaml:"fallback"`

	// Monitor controls resource sampling and alert thresholds.
	Monitor monitor.Config `yaml:"monitor"`

	// Models configures the local model cache and catalog extensions.
	Models ModelsConfig `yaml:"models"`

	// NotificationHistory is how many recent notifications are retained
	// for late subscribers.
	NotificationHistory int `yaml:"notification-history"`

	// ProbeTimeout bounds a single startup probe.
	ProbeTimeout time.Duration `yaml:"probe-timeout"`

	// ReprobeInterval is how often unavailable components are re-probed
	// so a recovered backend re-enters its chain. Zero disables it.
	ReprobeInterval time.Duration `yaml:"reprobe-interval"`
}

// LoggingConfig controls where logs go and how they rotate.
type LoggingConfig struct {
	// ToFile writes logs to a rotating file instead of stdout
	ToFile bool `yaml:"to-file"`

	// Dir is the log directory when ToFile is set
	Dir string `yaml:"dir"`

	// MaxSizeMB rotates the log file past this size
	MaxSizeMB int `yaml:"max-size-mb"`

	// MaxBackups is how many rotated files are kept
	MaxBackups int `yaml:"max-backups"`
}

// ProvidersConfig configures the concrete backends.
type ProvidersConfig struct {
	RemoteText RemoteTextConfig `yaml:"remote-text"`
	RemoteTTS  RemoteTTSConfig  `yaml:"remote-tts"`
	SpeechCmd  SpeechCmdConfig  `yaml:"speech-cmd"`
	LocalText  LocalTextConfig  `yaml:"local-text"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
}

// RemoteTextConfig points at an OpenAI-compatible completion API.
type RemoteTextConfig struct {
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the key, so keys
	// never live in the config file
	APIKeyEnv string `yaml:"api-key-env"`

	Model string `yaml:"model"`
}

// RemoteTTSConfig points at an HTTP text-to-speech service.
type RemoteTTSConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api-key-env"`
}

// SpeechCmdConfig names the local speech synthesis binary.
type SpeechCmdConfig struct {
	Binary string `yaml:"binary"`
}

// LocalTextConfig configures local model inference.
type LocalTextConfig struct {
	// InferCmd is the inference binary; InferArgs may contain {model}
	// and {prompt} placeholders
	InferCmd  string   `yaml:"infer-cmd"`
	InferArgs []string `yaml:"infer-args"`
}

// FFmpegConfig names the ffmpeg binary used for audio mixing.
type FFmpegConfig struct {
	Binary string `yaml:"binary"`
}

// ModelsConfig configures the download cache and catalog extensions.
type ModelsConfig struct {
	// CacheDir is where model weights are stored
	CacheDir string `yaml:"cache-dir"`

	// BaseURL is the artifact host
	BaseURL string `yaml:"base-url"`

	// Extra extends the built-in catalog
	Extra []models.Spec `yaml:"extra"`

	// MinFreeDiskGB gates downloads on free disk space
	MinFreeDiskGB int `yaml:"min-free-disk-gb"`
}

// Capabilities every configuration must chain.
var requiredCapabilities = []string{"generate", "speech", "mix"}

// Default returns the standing configuration.
func Default() *Config {
	return &Config{
		Host: "",
		Port: 8317,
		Logging: LoggingConfig{
			Dir:        "logs",
			MaxSizeMB:  20,
			MaxBackups: 5,
		},
		Chains: map[string][]string{
			"generate": {"remote-text", "local-text", "mock-text"},
			"speech":   {"remote-tts", "speech-cmd", "mock-speech"},
			"mix":      {"ffmpeg-mix", "wave-mix"},
		},
		Providers: ProvidersConfig{
			RemoteText: RemoteTextConfig{
				Endpoint:  "https://api.openai.com",
				APIKeyEnv: "OPENAI_API_KEY",
				Model:     "gpt-4o-mini",
			},
			RemoteTTS: RemoteTTSConfig{
				APIKeyEnv: "TTS_API_KEY",
			},
			LocalText: LocalTextConfig{
				InferCmd:  "llama-cli",
				InferArgs: []string{"-m", "{model}", "-p", "{prompt}", "--no-display-prompt"},
			},
		},
		Fallback: fallback.Config{
			MaxRetries:     2,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			AttemptTimeout: 20 * time.Second,
			CapabilityTimeouts: map[string]time.Duration{
				"generate": 30 * time.Second,
				"speech":   15 * time.Second,
			},
		},
		Monitor: *monitor.DefaultConfig(),
		Models: ModelsConfig{
			CacheDir:      "download/models",
			MinFreeDiskGB: 2,
		},
		NotificationHistory: 50,
		ProbeTimeout:        15 * time.Second,
		ReprobeInterval:     time.Minute,
	}
}

// Load reads YAML from path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional behaves like Load but a missing file yields the defaults.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate fails fast on configurations that would break routing at
// runtime.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	for _, capability := range requiredCapabilities {
		chain, ok := c.Chains[capability]
		if !ok || len(chain) == 0 {
			return fmt.Errorf("capability %q has an empty provider chain", capability)
		}
		seen := make(map[string]struct{}, len(chain))
		for _, name := range chain {
			if name == "" {
				return fmt.Errorf("capability %q chain contains an empty provider name", capability)
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("capability %q chain lists %q twice", capability, name)
			}
			seen[name] = struct{}{}
		}
	}

	if c.Fallback.InitialBackoff <= 0 || c.Fallback.MaxBackoff < c.Fallback.InitialBackoff {
		return fmt.Errorf("invalid fallback backoff bounds")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.SustainedSamples <= 0 {
		return fmt.Errorf("monitor sustained-samples must be positive")
	}
	if c.Models.CacheDir == "" {
		return fmt.Errorf("models cache-dir must be set")
	}
	for _, s := range c.Models.Extra {
		if s.Name == "" || s.SizeGB <= 0 || s.MinRAMGB <= 0 {
			return fmt.Errorf("invalid extra model spec %q", s.Name)
		}
	}
	return nil
}

// RemoteTextAPIKey resolves the configured key from the environment.
func (c *Config) RemoteTextAPIKey() string {
	if c.Providers.RemoteText.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Providers.RemoteText.APIKeyEnv)
}

// RemoteTTSAPIKey resolves the configured key from the environment.
func (c *Config) RemoteTTSAPIKey() string {
	if c.Providers.RemoteTTS.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Providers.RemoteTTS.APIKeyEnv)
}
