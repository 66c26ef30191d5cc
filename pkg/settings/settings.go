// Package settings loads and watches the assistant's configuration file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cexll/assistant-go/pkg/backend/local"
)

// Hosted holds connection settings for one hosted provider.
type Hosted struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
}

// Local holds settings for the in-process model.
type Local struct {
	ModelPath      string `json:"model_path" yaml:"model_path"`
	EvictionPolicy string `json:"eviction_policy" yaml:"eviction_policy"`
	ContextSize    int    `json:"context_size" yaml:"context_size"`
	Threads        int    `json:"threads" yaml:"threads"`
}

// Telemetry holds the trace export target.
type Telemetry struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Insecure    bool   `json:"insecure" yaml:"insecure"`
	Environment string `json:"environment" yaml:"environment"`
}

// Settings is the full configuration surface.
type Settings struct {
	ActiveBackend string `json:"active_backend" yaml:"active_backend"`
	SystemPrompt  string `json:"system_prompt" yaml:"system_prompt"`
	MaxTokens     int    `json:"max_tokens" yaml:"max_tokens"`
	MaxToolRounds int    `json:"max_tool_rounds" yaml:"max_tool_rounds"`
	HistoryDir    string `json:"history_dir" yaml:"history_dir"`
	LogLevel      string `json:"log_level" yaml:"log_level"`

	Anthropic Hosted    `json:"anthropic" yaml:"anthropic"`
	OpenAI    Hosted    `json:"openai" yaml:"openai"`
	Local     Local     `json:"local" yaml:"local"`
	Telemetry Telemetry `json:"telemetry" yaml:"telemetry"`
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	return &Settings{
		ActiveBackend: "anthropic",
		MaxTokens:     4096,
		MaxToolRounds: 3,
		HistoryDir:    defaultHistoryDir(),
		LogLevel:      "info",
	}
}

func defaultHistoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assistant/history"
	}
	return filepath.Join(home, ".assistant", "history")
}

// Normalize trims whitespace, fills environment fallbacks, and cleans paths.
func (s *Settings) Normalize() {
	if s == nil {
		return
	}
	s.ActiveBackend = strings.TrimSpace(s.ActiveBackend)
	if s.ActiveBackend == "" {
		s.ActiveBackend = "anthropic"
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 4096
	}
	if s.MaxToolRounds <= 0 {
		s.MaxToolRounds = 3
	}
	if s.HistoryDir == "" {
		s.HistoryDir = defaultHistoryDir()
	}
	s.HistoryDir = filepath.Clean(s.HistoryDir)
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.Anthropic.APIKey == "" {
		s.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if s.OpenAI.APIKey == "" {
		s.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if s.Local.ModelPath != "" {
		s.Local.ModelPath = filepath.Clean(s.Local.ModelPath)
	}
}

// Validate rejects combinations no backend could be built from.
func (s *Settings) Validate() error {
	switch s.ActiveBackend {
	case "anthropic", "openai", "local":
	default:
		return fmt.Errorf("settings: unknown active_backend %q", s.ActiveBackend)
	}
	if s.ActiveBackend == "local" && s.Local.ModelPath == "" {
		return errors.New("settings: local backend selected but local.model_path is empty")
	}
	if _, err := local.ParseEvictionPolicy(s.Local.EvictionPolicy); err != nil {
		return err
	}
	return nil
}
