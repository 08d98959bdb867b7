// Package config persists the tutor's settings as a flat JSON record:
// credentials, model choice, tutor language, sampling temperature, and the
// local course-file registry. The record is rewritten wholesale on every
// accepted mutation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultModel is a recent fast general-purpose Gemini model.
	DefaultModel = "gemini-2.5-flash"

	// DefaultLanguage is the tutoring language used when none is configured.
	DefaultLanguage = "Finnish"

	// DefaultTemperature keeps answers conversational without drifting.
	DefaultTemperature = 0.6
)

// Languages lists the tutoring languages the prompt template supports.
var Languages = []string{"Finnish", "English"}

// Settings holds user preferences and the local file registry.
type Settings struct {
	APIKey      string            `json:"api_key"`
	Model       string            `json:"model"`
	Language    string            `json:"language"`
	Temperature float64           `json:"temperature"`
	LocalFiles  map[string]string `json:"local_files"` // basename -> full path
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Model:       DefaultModel,
		Language:    DefaultLanguage,
		Temperature: DefaultTemperature,
		LocalFiles:  map[string]string{},
	}
}

// Dir returns the directory where the settings file lives.
// Prefers a project-local .konetutor directory if present or creatable,
// falling back to one under the user's home directory.
func Dir() (string, error) {
	if cwd, err := os.Getwd(); err == nil {
		localDir := filepath.Join(cwd, ".konetutor")
		if stat, err := os.Stat(localDir); (err == nil && stat.IsDir()) || os.IsNotExist(err) {
			return localDir, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".konetutor"), nil
}

// Path returns the full path to the settings file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads settings from disk. A missing file yields defaults with a nil
// error. A corrupt file also yields defaults, but the parse error is
// returned so the caller can surface a warning; it must never crash the
// caller. Empty or omitted fields are substituted with defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return DefaultSettings(), fmt.Errorf("failed to read settings: %w", err)
	}

	var raw struct {
		APIKey      string            `json:"api_key"`
		Model       string            `json:"model"`
		Language    string            `json:"language"`
		Temperature *float64          `json:"temperature"`
		LocalFiles  map[string]string `json:"local_files"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DefaultSettings(), fmt.Errorf("settings file is corrupt, using defaults: %w", err)
	}

	s := Settings{
		APIKey:      raw.APIKey,
		Model:       raw.Model,
		Language:    raw.Language,
		Temperature: DefaultTemperature,
		LocalFiles:  raw.LocalFiles,
	}
	// Temperature 0 is a valid deterministic choice; only an absent field
	// falls back to the default.
	if raw.Temperature != nil {
		s.Temperature = *raw.Temperature
	}
	s.applyDefaults()
	return s, nil
}

// Save writes the settings to disk, creating the directory if needed.
func (s Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// applyDefaults substitutes documented defaults for empty fields.
func (s *Settings) applyDefaults() {
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.LocalFiles == nil {
		s.LocalFiles = map[string]string{}
	}
}

// Validate reports whether the settings are sufficient to configure the AI.
func (s Settings) Validate() error {
	if s.APIKey == "" {
		return fmt.Errorf("API key missing")
	}
	if s.Model == "" {
		return fmt.Errorf("model name missing")
	}
	return nil
}
