package logits

import (
	"fmt"
	"sort"
)

// RandomSeed asks the sampler to pick a seed when it is created.
const RandomSeed uint32 = 0xFFFFFFFF

// Sampling stage names accepted in SamplerConfig.SamplerOrder.
const (
	StageTopK        = "top_k"
	StageTopP        = "top_p"
	StageMinP        = "min_p"
	StageTemperature = "temperature"
)

// SamplerConfig configures the token sampling process.
type SamplerConfig struct {
	// Temperature controls randomness (0.0 = greedy, 1.0+ = more random)
	Temperature float32 `json:"temperature" yaml:"temperature"`

	// TopK limits sampling to the K most likely tokens (0 = disabled)
	TopK int `json:"top_k" yaml:"top_k"`

	// TopP (nucleus sampling) considers tokens until cumulative probability >= P
	TopP float32 `json:"top_p" yaml:"top_p"`

	// MinP ignores tokens with probability < P * max_probability
	MinP float32 `json:"min_p" yaml:"min_p"`

	// RepetitionPenalty penalizes repeated tokens (1.0 = no penalty)
	RepetitionPenalty float32 `json:"repetition_penalty" yaml:"repetition_penalty"`

	// RepetitionWindow is how many recent tokens the penalties look at
	RepetitionWindow int `json:"repetition_window" yaml:"repetition_window"`

	// FrequencyPenalty is subtracted once per occurrence in the window
	FrequencyPenalty float32 `json:"frequency_penalty" yaml:"frequency_penalty"`

	// PresencePenalty is subtracted once if the token occurs in the window
	PresencePenalty float32 `json:"presence_penalty" yaml:"presence_penalty"`

	// LogitBias applies per-token biases (token ID -> bias value)
	LogitBias map[int32]float32 `json:"logit_bias,omitempty" yaml:"logit_bias,omitempty"`

	// SamplerOrder defines the order of the truncation stages.
	// Default: ["top_k", "top_p", "min_p", "temperature"]
	SamplerOrder []string `json:"sampler_order,omitempty" yaml:"sampler_order,omitempty"`

	// Seed for reproducible generation (RandomSeed = pick one)
	Seed uint32 `json:"seed" yaml:"seed"`
}

// DefaultSamplerConfig returns the defaults llama.cpp uses for a fresh
// sampling parameter block.
func DefaultSamplerConfig() *SamplerConfig {
	return &SamplerConfig{
		Temperature:       0.8,
		TopK:              40,
		TopP:              0.95,
		MinP:              0.05,
		RepetitionPenalty: 1.0,
		RepetitionWindow:  64,
		Seed:              RandomSeed,
		SamplerOrder:      []string{StageTopK, StageTopP, StageMinP, StageTemperature},
	}
}

// Validate checks if the config values are valid.
func (c *SamplerConfig) Validate() error {
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0")
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0")
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	if c.MinP < 0 || c.MinP > 1 {
		return fmt.Errorf("min_p must be between 0 and 1")
	}
	if c.RepetitionPenalty < 0 {
		return fmt.Errorf("repetition_penalty must be >= 0")
	}
	for _, stage := range c.SamplerOrder {
		switch stage {
		case StageTopK, StageTopP, StageMinP, StageTemperature:
		default:
			return fmt.Errorf("unknown sampler stage %q", stage)
		}
	}
	return nil
}

// Clone creates a copy of the config.
func (c *SamplerConfig) Clone() *SamplerConfig {
	clone := *c

	if c.LogitBias != nil {
		clone.LogitBias = make(map[int32]float32, len(c.LogitBias))
		for k, v := range c.LogitBias {
			clone.LogitBias[k] = v
		}
	}

	if c.SamplerOrder != nil {
		clone.SamplerOrder = make([]string, len(c.SamplerOrder))
		copy(clone.SamplerOrder, c.SamplerOrder)
	}

	return &clone
}

// MergeLogitBias adds biases to the config, replacing existing entries.
func (c *SamplerConfig) MergeLogitBias(biases map[int32]float32) {
	if c.LogitBias == nil {
		c.LogitBias = make(map[int32]float32, len(biases))
	}
	for k, v := range biases {
		c.LogitBias[k] = v
	}
}

func (c *SamplerConfig) order() []string {
	if len(c.SamplerOrder) == 0 {
		return []string{StageTopK, StageTopP, StageMinP, StageTemperature}
	}
	return c.SamplerOrder
}

// Predefined sampler configurations

// StructuredOutputConfig is tuned for tool calls and other structured output.
var StructuredOutputConfig = &SamplerConfig{
	Temperature:       0.1,
	TopK:              40,
	TopP:              0.9,
	MinP:              0.05,
	RepetitionPenalty: 1.0,
	Seed:              RandomSeed,
	SamplerOrder:      []string{StageTopK, StageTopP, StageTemperature},
}

// DeterministicConfig always picks the most likely token.
var DeterministicConfig = &SamplerConfig{
	Temperature:       0.0,
	TopK:              1,
	TopP:              1.0,
	RepetitionPenalty: 1.0,
	Seed:              RandomSeed,
}

// CreativeConfig allows more creative/varied output.
var CreativeConfig = &SamplerConfig{
	Temperature:       0.8,
	TopK:              100,
	TopP:              0.95,
	MinP:              0.02,
	RepetitionPenalty: 1.15,
	RepetitionWindow:  128,
	Seed:              RandomSeed,
}

// CodeGenerationConfig is tuned for code generation.
var CodeGenerationConfig = &SamplerConfig{
	Temperature:       0.2,
	TopK:              50,
	TopP:              0.9,
	MinP:              0.05,
	RepetitionPenalty: 1.1,
	RepetitionWindow:  64,
	Seed:              RandomSeed,
}

// ChatConfig is tuned for conversational responses.
var ChatConfig = &SamplerConfig{
	Temperature:       0.7,
	TopK:              40,
	TopP:              0.95,
	MinP:              0.05,
	RepetitionPenalty: 1.1,
	RepetitionWindow:  64,
	Seed:              RandomSeed,
}

// Presets maps preset names to sampler configurations.
var Presets = map[string]*SamplerConfig{
	"structured":    StructuredOutputConfig,
	"deterministic": DeterministicConfig,
	"creative":      CreativeConfig,
	"code":          CodeGenerationConfig,
	"chat":          ChatConfig,
}

// GetPreset returns a copy of the named preset.
func GetPreset(name string) (*SamplerConfig, bool) {
	p, ok := Presets[name]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ListPresets returns the preset names in sorted order.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
