package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soypete/llamabridge/pkg/chattemplate"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantErr  bool
		errMsg   string
		validate func(*testing.T, *Config)
	}{
		{
			name: "minimal config",
			content: `
models:
  - name: hermes
    chat_template: builtin:hermes-2-pro
`,
			validate: func(t *testing.T, c *Config) {
				if c.Defaults.Model != "hermes" {
					t.Errorf("Defaults.Model = %v, want hermes", c.Defaults.Model)
				}
				if c.Sampling.Preset != "chat" {
					t.Errorf("Sampling.Preset = %v, want chat", c.Sampling.Preset)
				}
				if c.Debug.LogLevel != "info" {
					t.Errorf("Debug.LogLevel = %v, want info", c.Debug.LogLevel)
				}
			},
		},
		{
			name: "full config",
			content: `
models:
  - name: llama
    bos: "<|begin_of_text|>"
    eos: "<|eot_id|>"
    chat_template: builtin:llama3
    templates:
      tool_use: builtin:llama-3.1-tools
  - name: hermes
    chat_template: builtin:hermes-2-pro
defaults:
  model: hermes
  assign_tool_call_ids: true
sampling:
  preset: deterministic
  seed: 42
  top_p: 0.5
debug:
  enabled: true
  log_level: debug
`,
			validate: func(t *testing.T, c *Config) {
				if len(c.Models) != 2 {
					t.Fatalf("len(Models) = %d, want 2", len(c.Models))
				}
				if c.Models[0].Templates[chattemplate.ToolUseTemplate] != "builtin:llama-3.1-tools" {
					t.Errorf("tool_use template = %q", c.Models[0].Templates[chattemplate.ToolUseTemplate])
				}
				if !c.Defaults.AssignToolCallIDs {
					t.Error("AssignToolCallIDs should be true")
				}
				cfg, err := c.SamplerConfig()
				if err != nil {
					t.Fatalf("SamplerConfig() error = %v", err)
				}
				if cfg.Seed != 42 || cfg.TopP != 0.5 || cfg.Temperature != 0 {
					t.Errorf("unexpected sampler config %+v", cfg)
				}
			},
		},
		{
			name:    "no models",
			content: `defaults: {model: x}`,
			wantErr: true,
			errMsg:  "at least one model",
		},
		{
			name: "missing template",
			content: `
models:
  - name: a
`,
			wantErr: true,
			errMsg:  "chat_template is required",
		},
		{
			name: "duplicate model",
			content: `
models:
  - {name: a, chat_template: "builtin:chatml"}
  - {name: a, chat_template: "builtin:chatml"}
`,
			wantErr: true,
			errMsg:  "duplicate model name",
		},
		{
			name: "unknown builtin",
			content: `
models:
  - {name: a, chat_template: "builtin:nope"}
`,
			wantErr: true,
			errMsg:  "unknown builtin template",
		},
		{
			name: "unknown default model",
			content: `
models:
  - {name: a, chat_template: "builtin:chatml"}
defaults:
  model: b
`,
			wantErr: true,
			errMsg:  "default model",
		},
		{
			name: "unknown preset",
			content: `
models:
  - {name: a, chat_template: "builtin:chatml"}
sampling:
  preset: wild
`,
			wantErr: true,
			errMsg:  "unknown sampling preset",
		},
		{
			name: "invalid sampling override",
			content: `
models:
  - {name: a, chat_template: "builtin:chatml"}
sampling:
  top_p: 2
`,
			wantErr: true,
			errMsg:  "invalid sampling config",
		},
		{
			name: "invalid log level",
			content: `
models:
  - {name: a, chat_template: "builtin:chatml"}
debug:
  log_level: loud
`,
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name:    "invalid yaml",
			content: "models: [",
			wantErr: true,
			errMsg:  "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load() expected error, got nil")
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error = %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/.llamabridge.yaml")
	if err == nil {
		t.Error("Load() should error on non-existent file")
	}
}

func TestLoadDefault(t *testing.T) {
	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}

	_, err = LoadDefault()
	if err == nil {
		t.Fatal("LoadDefault() should error when no config file exists")
	}
	if !strings.Contains(err.Error(), "no .llamabridge.yaml found") {
		t.Errorf("LoadDefault() error = %q", err.Error())
	}

	writeConfig(t, tmpDir, "models:\n  - {name: cwd, chat_template: \"builtin:chatml\"}\n")
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() unexpected error = %v", err)
	}
	if cfg.Defaults.Model != "cwd" {
		t.Errorf("Defaults.Model = %v, want cwd", cfg.Defaults.Model)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
	m, err := c.ChatModel("")
	if err != nil {
		t.Fatalf("ChatModel() error = %v", err)
	}
	if _, err := chattemplate.NewTemplateSet(m, ""); err != nil {
		t.Errorf("default model does not resolve: %v", err)
	}
}

func TestChatModel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "custom.jinja"), []byte("{{ messages }}<tool_call>"), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, `
models:
  - name: custom
    eos: "</s>"
    chat_template: file:custom.jinja
    templates:
      tool_use: builtin:hermes-2-pro
      inline: "{% for m in messages %}{{ m }}{% endfor %}"
  - name: broken
    chat_template: file:missing.jinja
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	m, err := c.ChatModel("custom")
	if err != nil {
		t.Fatalf("ChatModel() error = %v", err)
	}
	if src, _ := m.ChatTemplate(""); src != "{{ messages }}<tool_call>" {
		t.Errorf("default template = %q", src)
	}
	hermes, _ := chattemplate.Builtin("hermes-2-pro")
	if src, _ := m.ChatTemplate(chattemplate.ToolUseTemplate); src != hermes {
		t.Error("tool_use template was not resolved from the builtin catalog")
	}
	if src, _ := m.ChatTemplate("inline"); !strings.HasPrefix(src, "{% for") {
		t.Errorf("inline template = %q", src)
	}
	if m.EOSToken() != "</s>" {
		t.Errorf("EOS = %q", m.EOSToken())
	}

	if _, err := c.ChatModel("broken"); err == nil {
		t.Error("ChatModel() should fail for a missing template file")
	}
	if _, err := c.ChatModel("absent"); err == nil {
		t.Error("ChatModel() should fail for an unknown model")
	}
}

func TestTokenizer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vocab.json"), []byte(`{"type":"bpe","bos":0,"eos":1,"tokens":["<s>","</s>","a"]}`), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, `
models:
  - {name: a, chat_template: "builtin:chatml", vocab: vocab.json}
  - {name: b, chat_template: "builtin:chatml"}
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tok, err := c.Tokenizer("a")
	if err != nil {
		t.Fatalf("Tokenizer() error = %v", err)
	}
	if tok.VocabSize() != 3 || tok.VocabType() != "bpe" {
		t.Errorf("unexpected tokenizer size=%d type=%s", tok.VocabSize(), tok.VocabType())
	}
	if _, err := c.Tokenizer("b"); err == nil {
		t.Error("Tokenizer() should fail without a vocab")
	}
}
