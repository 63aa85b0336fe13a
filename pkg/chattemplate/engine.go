package chattemplate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"

	"github.com/soypete/llamabridge/pkg/chat"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

// toolsVarRe matches a template that reads the tools variable itself.
var toolsVarRe = regexp.MustCompile(`\btools\b`)

// jinja is a model-supplied template parsed by the Jinja engine.
type jinja struct {
	tmpl *exec.Template
	// readsTools is true when the template renders the tool definitions
	// itself, so no tool prompt is injected into the system turn.
	readsTools bool
}

func parseJinja(src string) (*jinja, error) {
	tmpl, err := gonja.FromString(src)
	if err != nil {
		return nil, err
	}
	return &jinja{tmpl: tmpl, readsTools: toolsVarRe.MatchString(src)}, nil
}

// jinjaInput is what a compile hands to a Jinja template.
type jinjaInput struct {
	messages            []chat.Message
	tools               []chat.Tool
	toolPrompt          string
	native              bool
	formatter           toolformat.ToolFormatter
	addGenerationPrompt bool
	bos                 string
	eos                 string
}

// render executes the template with the variables Hugging Face chat
// templates expect: messages, tools, add_generation_prompt, bos_token and
// eos_token, plus the raise_exception and strftime_now helpers.
func (j *jinja) render(in jinjaInput) (string, error) {
	var raised string
	vars := map[string]interface{}{
		"messages":              jinjaMessages(in),
		"add_generation_prompt": in.addGenerationPrompt,
		"bos_token":             in.bos,
		"eos_token":             in.eos,
		"raise_exception": func(msg string) (string, error) {
			raised = msg
			return "", fmt.Errorf("template raised: %s", msg)
		},
		"strftime_now": func(format string) string {
			return strftime(time.Now(), format)
		},
	}
	if in.native && len(in.tools) > 0 {
		tools := make([]interface{}, 0, len(in.tools))
		for _, t := range in.tools {
			tools = append(tools, jsonValue(t.OpenAIDefinition()))
		}
		vars["tools"] = tools
	}

	var buf bytes.Buffer
	if err := j.tmpl.Execute(&buf, exec.NewContext(vars)); err != nil {
		if raised != "" {
			return "", fmt.Errorf("%w: %s", ErrRender, raised)
		}
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return buf.String(), nil
}

// jinjaMessages converts the request history into template values.
//
// Templates with native tool markup receive tool calls as structured
// values. For the others, assistant tool calls and tool results are
// re-encoded as text through the format's encoders, the way the fallback
// layouts render them.
func jinjaMessages(in jinjaInput) []map[string]interface{} {
	if !in.native {
		turns := buildTurns(in.messages, in.formatter, in.toolPrompt)
		out := make([]map[string]interface{}, 0, len(turns))
		for _, t := range turns {
			out = append(out, map[string]interface{}{"role": t.Role, "content": t.Body})
		}
		return out
	}

	out := make([]map[string]interface{}, 0, len(in.messages)+1)
	if in.toolPrompt != "" && (len(in.messages) == 0 || in.messages[0].Role != chat.RoleSystem) {
		out = append(out, map[string]interface{}{"role": string(chat.RoleSystem), "content": in.toolPrompt})
	}
	for i, m := range in.messages {
		content := m.Content
		if i == 0 && m.Role == chat.RoleSystem && in.toolPrompt != "" {
			if content != "" {
				content += "\n\n"
			}
			content += in.toolPrompt
		}
		v := map[string]interface{}{"role": string(m.Role), "content": content}
		if len(m.ToolCalls) > 0 {
			calls := make([]interface{}, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				calls = append(calls, map[string]interface{}{
					"id":   c.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      c.Name,
						"arguments": argumentsValue(c.Arguments),
					},
				})
			}
			v["tool_calls"] = calls
		}
		if m.Name != "" {
			v["name"] = m.Name
		}
		if m.ToolCallID != "" {
			v["tool_call_id"] = m.ToolCallID
		}
		out = append(out, v)
	}
	return out
}

// argumentsValue decodes call arguments into an object for the template,
// keeping text that is not JSON as a string.
func argumentsValue(raw json.RawMessage) interface{} {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]interface{}{}
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// jsonValue round-trips v through JSON so raw messages become plain maps
// and slices the engine can index.
func jsonValue(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var strftimeLayouts = strings.NewReplacer(
	"%Y", "2006",
	"%m", "01",
	"%d", "02",
	"%b", "Jan",
	"%B", "January",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%%", "%",
)

// strftime formats t with the subset of C strftime directives chat
// templates use for date lines.
func strftime(t time.Time, format string) string {
	return t.Format(strftimeLayouts.Replace(format))
}
