// Package config loads run settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/tcm-agent/internal/logging"
	"github.com/joelkehle/tcm-agent/internal/tcmagent"
)

type LLM struct {
	Provider    string        `yaml:"provider"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Loop struct {
	ExtractionRetries int `yaml:"extraction_retries"`
	TreatmentCycles   int `yaml:"treatment_cycles"`
	TreatmentSteps    int `yaml:"treatment_steps"`
	CallAttempts      int `yaml:"call_attempts"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLM  LLM  `yaml:"llm"`
	Loop Loop `yaml:"loop"`
	Log  Log  `yaml:"log"`
}

func Default() Config {
	return Config{
		LLM: LLM{
			Provider:  string(tcmagent.ProviderOpenAI),
			Endpoint:  tcmagent.DefaultEndpoint,
			Model:     tcmagent.DefaultModel,
			MaxTokens: tcmagent.DefaultMaxTokens,
			Timeout:   tcmagent.DefaultTimeout,
		},
		Loop: Loop{
			ExtractionRetries: tcmagent.DefaultExtractionRetries,
			TreatmentCycles:   tcmagent.DefaultTreatmentCycles,
			TreatmentSteps:    tcmagent.DefaultTreatmentSteps,
			CallAttempts:      tcmagent.DefaultCallAttempts,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path (when non-empty) over the defaults and then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.LLM.Provider, "TCM_LLM_PROVIDER")
	set(&c.LLM.Endpoint, "TCM_LLM_ENDPOINT")
	set(&c.LLM.Model, "TCM_LLM_MODEL")
	set(&c.LLM.APIKey, "TCM_LLM_API_KEY")
	set(&c.Log.Level, "TCM_LOG_LEVEL")

	if c.LLM.Provider != string(tcmagent.ProviderAnthropic) {
		return
	}
	if c.LLM.APIKey == "" {
		set(&c.LLM.APIKey, "ANTHROPIC_API_KEY")
	}
	// The chat-completions defaults mean "unset" for the Messages API.
	if c.LLM.Endpoint == tcmagent.DefaultEndpoint {
		c.LLM.Endpoint = ""
	}
	if c.LLM.Model == tcmagent.DefaultModel {
		c.LLM.Model = tcmagent.DefaultAnthropicModel
	}
}

func (c Config) Validate() error {
	var errs []error
	switch tcmagent.Provider(c.LLM.Provider) {
	case tcmagent.ProviderOpenAI, tcmagent.ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.Provider == string(tcmagent.ProviderAnthropic) && c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key (or ANTHROPIC_API_KEY) is required for the anthropic provider"))
	}
	if c.LLM.MaxTokens < 0 || c.LLM.Timeout < 0 {
		errs = append(errs, errors.New("llm.max_tokens and llm.timeout must not be negative"))
	}
	if c.Loop.ExtractionRetries < 0 || c.Loop.TreatmentCycles < 0 || c.Loop.TreatmentSteps < 0 || c.Loop.CallAttempts < 0 {
		errs = append(errs, errors.New("loop budgets must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LogLevel returns the validated slog level.
func (c Config) LogLevel() slog.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

func (c Config) ClientConfig() tcmagent.ClientConfig {
	return tcmagent.ClientConfig{
		Provider:    tcmagent.Provider(c.LLM.Provider),
		Endpoint:    c.LLM.Endpoint,
		Model:       c.LLM.Model,
		APIKey:      c.LLM.APIKey,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
	}
}

func (c Config) PipelineOptions() tcmagent.PipelineOptions {
	return tcmagent.PipelineOptions{
		ExtractionRetries: c.Loop.ExtractionRetries,
		Treatment: tcmagent.TreatmentOptions{
			MaxCycles:    c.Loop.TreatmentCycles,
			MaxSteps:     c.Loop.TreatmentSteps,
			CallAttempts: c.Loop.CallAttempts,
		},
	}
}
