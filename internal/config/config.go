// Package config implements the settings.yaml struct tree for the bot
// (permissions.yaml is decoded by internal/commands). Sections follow a DefaultXConfig()/Effective() pattern so a
// partially-filled YAML document still produces sane values for the fields
// its author left out.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level decode target for agent/settings.yaml.
type Config struct {
	ContextLimitTokens    int         `yaml:"context_limit_tokens"`
	TimeoutSummarizeSecs  int         `yaml:"timeout_summarize_seconds"`
	TimeoutClearSecs      int         `yaml:"timeout_clear_seconds"`
	ReplyMaxLength        int         `yaml:"reply_max_length"`
	Media                 MediaConfig `yaml:"media"`
	Scheduler             SchedulerConfig `yaml:"scheduler"`
}

// MediaConfig holds the media-sidecar settings for the four attachment kinds.
type MediaConfig struct {
	TranscriptionModel     string          `yaml:"transcription_model"`
	TranscriptionProvider  string          `yaml:"transcription_provider"`
	TimeoutSeconds         int             `yaml:"timeout"`
	SyncThresholdMB        int             `yaml:"sync_process_threshold_mb"`
	Image                  MediaTypeConfig `yaml:"image"`
	Audio                  MediaTypeConfig `yaml:"audio"`
	Video                  MediaTypeConfig `yaml:"video"`
	Document               MediaTypeConfig `yaml:"document"`
}

// MediaTypeConfig is the per-attachment-kind processing mode.
type MediaTypeConfig struct {
	Transcribe    bool `yaml:"transcribe"`
	Passthrough   bool `yaml:"passthrough"`
	MaxDuration   int  `yaml:"max_duration"`
	TrimOverLimit bool `yaml:"trim_over_limit"`
}

// SchedulerConfig points at the task store file.
type SchedulerConfig struct {
	TasksPath string `yaml:"tasks_path"`
}

// DefaultConfig returns a Config with every field populated with its
// spec-mandated default.
func DefaultConfig() *Config {
	return &Config{
		ContextLimitTokens:   8000,
		TimeoutSummarizeSecs: 1800,
		TimeoutClearSecs:     3600,
		ReplyMaxLength:       50,
		Media:                DefaultMediaConfig(),
		Scheduler:            SchedulerConfig{TasksPath: "config/tasks.json"},
	}
}

// DefaultMediaConfig returns the zero-configuration media defaults: nothing
// transcribed or passed through, a 60s per-task timeout.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		TimeoutSeconds:  60,
		SyncThresholdMB: 0,
	}
}

// Effective fills any zero-valued fields of cfg with DefaultConfig()'s
// values and returns the result. The receiver is never mutated.
func (c Config) Effective() Config {
	d := DefaultConfig()
	if c.ContextLimitTokens == 0 {
		c.ContextLimitTokens = d.ContextLimitTokens
	}
	if c.TimeoutSummarizeSecs == 0 {
		c.TimeoutSummarizeSecs = d.TimeoutSummarizeSecs
	}
	if c.TimeoutClearSecs == 0 {
		c.TimeoutClearSecs = d.TimeoutClearSecs
	}
	if c.ReplyMaxLength == 0 {
		c.ReplyMaxLength = d.ReplyMaxLength
	}
	if c.Media.TimeoutSeconds == 0 {
		c.Media.TimeoutSeconds = d.Media.TimeoutSeconds
	}
	if c.Scheduler.TasksPath == "" {
		c.Scheduler.TasksPath = d.Scheduler.TasksPath
	}
	return c
}

// Load decodes a settings.yaml file at path. A missing file is not an error:
// callers get DefaultConfig() back, matching the spec's "implementation
// chosen path, content contractual" stance on config files.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	eff := cfg.Effective()
	return &eff, nil
}

// LoadPrompt reads agent/prompt.txt, seeding it from promptExamplePath if it
// does not yet exist. An empty file means "no system prompt" (returns "").
func LoadPrompt(path, examplePath string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		example, exErr := os.ReadFile(examplePath)
		if exErr != nil {
			if os.IsNotExist(exErr) {
				return "", nil
			}
			return "", fmt.Errorf("reading %s: %w", examplePath, exErr)
		}
		if err := os.WriteFile(path, example, 0o644); err != nil {
			return "", fmt.Errorf("seeding %s: %w", path, err)
		}
		return string(example), nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
