package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soypete/llamabridge/pkg/chattemplate"
	"github.com/soypete/llamabridge/pkg/logits"
)

// FileName is the configuration file looked up by LoadDefault.
const FileName = ".llamabridge.yaml"

// ErrNotFound is returned by LoadDefault when no configuration file exists.
var ErrNotFound = errors.New("config file not found")

// Template reference prefixes accepted in chat_template and templates.
const (
	builtinPrefix = "builtin:"
	filePrefix    = "file:"
)

// Config represents the llamabridge configuration
type Config struct {
	Models   []ModelConfig  `yaml:"models"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Sampling SamplingConfig `yaml:"sampling"`
	Debug    DebugConfig    `yaml:"debug"`

	// baseDir resolves relative file: references.
	baseDir string
}

// ModelConfig describes one model's chat templates and special tokens.
type ModelConfig struct {
	Name string `yaml:"name"`
	BOS  string `yaml:"bos"`
	EOS  string `yaml:"eos"`

	// ChatTemplate is the default template: "builtin:NAME", "file:PATH",
	// or inline template source.
	ChatTemplate string `yaml:"chat_template"`

	// Templates holds named variants such as "tool_use", in the same forms.
	Templates map[string]string `yaml:"templates,omitempty"`

	// Vocab optionally points at a vocabulary file (.json or one token per
	// line) for sampling and speculative checks.
	Vocab string `yaml:"vocab,omitempty"`
}

// DefaultsConfig contains defaults applied to every request
type DefaultsConfig struct {
	Model             string `yaml:"model"`
	Template          string `yaml:"template,omitempty"`
	AssignToolCallIDs bool   `yaml:"assign_tool_call_ids"`
}

// SamplingConfig selects a sampler preset and overrides some of its fields
type SamplingConfig struct {
	Preset           string   `yaml:"preset"`
	Temperature      *float32 `yaml:"temperature,omitempty"`
	TopK             *int     `yaml:"top_k,omitempty"`
	TopP             *float32 `yaml:"top_p,omitempty"`
	MinP             *float32 `yaml:"min_p,omitempty"`
	FrequencyPenalty *float32 `yaml:"frequency_penalty,omitempty"`
	PresencePenalty  *float32 `yaml:"presence_penalty,omitempty"`
	Seed             *uint32  `yaml:"seed,omitempty"`
}

// DebugConfig contains debug settings
type DebugConfig struct {
	Enabled  bool   `yaml:"enabled"`
	LogLevel string `yaml:"log_level"`
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.baseDir = filepath.Dir(path)

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadDefault attempts to load .llamabridge.yaml from current directory or home
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(FileName); err == nil {
		return Load(FileName)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		homePath := filepath.Join(home, FileName)
		if _, err := os.Stat(homePath); err == nil {
			return Load(homePath)
		}
	}

	return nil, fmt.Errorf("%w: no %s found in current directory or home", ErrNotFound, FileName)
}

// Default returns the configuration used when no file exists: a single
// ChatML model.
func Default() *Config {
	c := &Config{
		Models: []ModelConfig{{
			Name:         "chatml",
			EOS:          "<|im_end|>",
			ChatTemplate: builtinPrefix + "chatml",
		}},
		baseDir: ".",
	}
	c.setDefaults()
	return c
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Defaults.Model == "" && len(c.Models) > 0 {
		c.Defaults.Model = c.Models[0].Name
	}
	if c.Sampling.Preset == "" {
		c.Sampling.Preset = "chat"
	}
	if c.Debug.LogLevel == "" {
		c.Debug.LogLevel = "info"
	}
	if c.baseDir == "" {
		c.baseDir = "."
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model name: %s", m.Name)
		}
		seen[m.Name] = true
		if strings.TrimSpace(m.ChatTemplate) == "" {
			return fmt.Errorf("model %s: chat_template is required", m.Name)
		}
		for _, ref := range append([]string{m.ChatTemplate}, mapValues(m.Templates)...) {
			if name, ok := strings.CutPrefix(ref, builtinPrefix); ok {
				if _, ok := chattemplate.Builtin(name); !ok {
					return fmt.Errorf("model %s: unknown builtin template %q", m.Name, name)
				}
			}
		}
	}

	if !seen[c.Defaults.Model] {
		return fmt.Errorf("default model %q is not configured", c.Defaults.Model)
	}

	if _, err := c.SamplerConfig(); err != nil {
		return err
	}

	switch c.Debug.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Debug.LogLevel)
	}

	return nil
}

func mapValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Model returns the named model, or the default model for an empty name.
func (c *Config) Model(name string) (*ModelConfig, error) {
	if name == "" {
		name = c.Defaults.Model
	}
	for i := range c.Models {
		if c.Models[i].Name == name {
			return &c.Models[i], nil
		}
	}
	return nil, fmt.Errorf("model %q is not configured", name)
}

// ChatModel resolves every template reference of the named model.
func (c *Config) ChatModel(name string) (*chattemplate.StaticModel, error) {
	m, err := c.Model(name)
	if err != nil {
		return nil, err
	}

	templates := make(map[string]string, len(m.Templates)+1)
	src, err := c.resolveTemplate(m.ChatTemplate)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}
	templates[""] = src
	for tname, ref := range m.Templates {
		src, err := c.resolveTemplate(ref)
		if err != nil {
			return nil, fmt.Errorf("model %s: template %s: %w", m.Name, tname, err)
		}
		templates[tname] = src
	}

	return &chattemplate.StaticModel{
		ModelName: m.Name,
		Templates: templates,
		BOS:       m.BOS,
		EOS:       m.EOS,
	}, nil
}

func (c *Config) resolveTemplate(ref string) (string, error) {
	if name, ok := strings.CutPrefix(ref, builtinPrefix); ok {
		src, ok := chattemplate.Builtin(name)
		if !ok {
			return "", fmt.Errorf("unknown builtin template %q", name)
		}
		return src, nil
	}
	if path, ok := strings.CutPrefix(ref, filePrefix); ok {
		data, err := os.ReadFile(c.path(path))
		if err != nil {
			return "", fmt.Errorf("failed to read template: %w", err)
		}
		return string(data), nil
	}
	return ref, nil
}

func (c *Config) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// Tokenizer loads the vocabulary of the named model.
func (c *Config) Tokenizer(name string) (*logits.VocabTokenizer, error) {
	m, err := c.Model(name)
	if err != nil {
		return nil, err
	}
	if m.Vocab == "" {
		return nil, fmt.Errorf("model %s has no vocab configured", m.Name)
	}
	path := c.path(m.Vocab)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return logits.LoadVocabFromJSON(path)
	}
	return logits.LoadVocabFromFile(path)
}

// SamplerConfig builds the sampler defaults from the preset and overrides.
func (c *Config) SamplerConfig() (*logits.SamplerConfig, error) {
	cfg, ok := logits.GetPreset(c.Sampling.Preset)
	if !ok {
		return nil, fmt.Errorf("unknown sampling preset %q (available: %s)",
			c.Sampling.Preset, strings.Join(logits.ListPresets(), ", "))
	}

	s := c.Sampling
	if s.Temperature != nil {
		cfg.Temperature = *s.Temperature
	}
	if s.TopK != nil {
		cfg.TopK = *s.TopK
	}
	if s.TopP != nil {
		cfg.TopP = *s.TopP
	}
	if s.MinP != nil {
		cfg.MinP = *s.MinP
	}
	if s.FrequencyPenalty != nil {
		cfg.FrequencyPenalty = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		cfg.PresencePenalty = *s.PresencePenalty
	}
	if s.Seed != nil {
		cfg.Seed = *s.Seed
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampling config: %w", err)
	}
	return cfg, nil
}
