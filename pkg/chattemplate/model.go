// Package chattemplate resolves a model's chat templates, reports what tool
// use they support, and compiles chat requests into prompts.
package chattemplate

// ToolUseTemplate is the name under which a model registers the template
// variant meant for requests that carry tools.
const ToolUseTemplate = "tool_use"

// Model is the model metadata the resolver reads. It is never mutated.
type Model interface {
	Name() string

	// ChatTemplate returns the named template source. The empty name
	// selects the model's default template.
	ChatTemplate(name string) (string, bool)

	BOSToken() string
	EOSToken() string
}

// StaticModel is a Model backed by fixed values, typically loaded from
// configuration.
type StaticModel struct {
	ModelName string
	Templates map[string]string
	BOS       string
	EOS       string
}

func (m *StaticModel) Name() string { return m.ModelName }

func (m *StaticModel) ChatTemplate(name string) (string, bool) {
	src, ok := m.Templates[name]
	return src, ok
}

func (m *StaticModel) BOSToken() string { return m.BOS }

func (m *StaticModel) EOSToken() string { return m.EOS }
