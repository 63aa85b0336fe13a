package chattemplate

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// ErrUnresolvableTemplate is returned when neither the override nor the
// model provides a usable template.
var ErrUnresolvableTemplate = errors.New("unresolvable chat template")

// TemplateSet holds the resolved templates of one model. It is read-only
// after construction and safe to compile from concurrently.
type TemplateSet struct {
	modelName  string
	bos        string
	eos        string
	defaultSrc string
	toolUseSrc string
	logger     *log.Logger

	// Parsed model-supplied sources; nil for bundled family templates and
	// for sources the Jinja engine rejects.
	defaultJinja *jinja
	toolUseJinja *jinja
}

// Option configures a TemplateSet.
type Option func(*TemplateSet)

// WithLogger routes negotiation messages to l. The default logger discards.
func WithLogger(l *log.Logger) Option {
	return func(ts *TemplateSet) {
		if l != nil {
			ts.logger = l
		}
	}
}

// NewTemplateSet resolves the templates of m.
//
// An override is tried, in order, as a template registered on the model
// under that name, a bundled family template (see Builtin), and an inline
// template source. Without an override the model's default template is
// used, along with its tool_use variant when it has one.
//
// Model-supplied and inline sources are rendered by the Jinja engine.
// Bundled family templates, and sources the engine cannot parse, render
// through the layout of the detected family.
func NewTemplateSet(m Model, override string, opts ...Option) (*TemplateSet, error) {
	ts := &TemplateSet{
		modelName: m.Name(),
		bos:       m.BOSToken(),
		eos:       m.EOSToken(),
		logger:    log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(ts)
	}

	if override != "" {
		src, err := resolveOverride(m, override)
		if err != nil {
			return nil, err
		}
		ts.defaultSrc = src
		ts.defaultJinja = ts.parse(src)
		return ts, nil
	}

	src, ok := m.ChatTemplate("")
	if !ok || strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: model %q has no default template", ErrUnresolvableTemplate, m.Name())
	}
	ts.defaultSrc = src
	ts.defaultJinja = ts.parse(src)
	if tu, ok := m.ChatTemplate(ToolUseTemplate); ok && strings.TrimSpace(tu) != "" {
		ts.toolUseSrc = tu
		ts.toolUseJinja = ts.parse(tu)
	}
	return ts, nil
}

func (ts *TemplateSet) parse(src string) *jinja {
	if isBuiltinSource(src) {
		return nil
	}
	j, err := parseJinja(src)
	if err != nil {
		ts.logger.Printf("chattemplate: %s: jinja engine rejected template, using the %s layout: %v",
			ts.modelName, detectFamily(src).style, err)
		return nil
	}
	return j
}

func resolveOverride(m Model, override string) (string, error) {
	if src, ok := m.ChatTemplate(override); ok && strings.TrimSpace(src) != "" {
		return src, nil
	}
	if src, ok := Builtin(override); ok {
		return src, nil
	}
	if strings.Contains(override, "{%") || strings.Contains(override, "{{") {
		return override, nil
	}
	return "", fmt.Errorf("%w: %q is neither a template of model %q, a builtin template, nor template source",
		ErrUnresolvableTemplate, override, m.Name())
}

// ModelName returns the name of the model the set was resolved for.
func (ts *TemplateSet) ModelName() string { return ts.modelName }

// HasToolUseTemplate reports whether the model registered a tool_use variant.
func (ts *TemplateSet) HasToolUseTemplate() bool { return ts.toolUseSrc != "" }

// Source returns the template source used for requests with or without tools.
func (ts *TemplateSet) Source(withTools bool) string {
	if withTools && ts.toolUseSrc != "" {
		return ts.toolUseSrc
	}
	return ts.defaultSrc
}

// engine returns the parsed template serving requests with or without
// tools, or nil when the family layout renders them.
func (ts *TemplateSet) engine(withTools bool) *jinja {
	if withTools && ts.toolUseSrc != "" {
		return ts.toolUseJinja
	}
	return ts.defaultJinja
}

// Capabilities describes the tool use supported by the template that serves
// requests carrying tools.
func (ts *TemplateSet) Capabilities() Capabilities {
	return capabilitiesOf(ts.Source(true))
}
