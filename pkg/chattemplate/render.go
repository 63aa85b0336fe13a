package chattemplate

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"text/template"

	"github.com/soypete/llamabridge/pkg/chat"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

//go:embed templates/*.tmpl
var styleFS embed.FS

var styleTemplates = template.Must(template.New("styles").Funcs(template.FuncMap{
	"roleToken": commandRRoleToken,
}).ParseFS(styleFS, "templates/*.tmpl"))

// ErrRender wraps failures of the underlying template engine.
var ErrRender = errors.New("render chat template")

type turn struct {
	Role string
	Body string
}

type renderData struct {
	Messages            []turn
	AddGenerationPrompt bool
	BOS                 string
	EOS                 string
}

func commandRRoleToken(role string) string {
	switch role {
	case string(chat.RoleUser):
		return "<|USER_TOKEN|>"
	case string(chat.RoleAssistant):
		return "<|CHATBOT_TOKEN|>"
	default:
		return "<|SYSTEM_TOKEN|>"
	}
}

// buildTurns converts request messages into rendered turns. Assistant
// history and tool results go through the format's encoders; the tool prompt
// joins the leading system turn or becomes one.
func buildTurns(msgs []chat.Message, fmtr toolformat.ToolFormatter, toolPrompt string) []turn {
	turns := make([]turn, 0, len(msgs)+1)
	if toolPrompt != "" && (len(msgs) == 0 || msgs[0].Role != chat.RoleSystem) {
		turns = append(turns, turn{Role: string(chat.RoleSystem), Body: toolPrompt})
	}

	for i, m := range msgs {
		switch m.Role {
		case chat.RoleSystem:
			body := m.Content
			if i == 0 && toolPrompt != "" {
				if body != "" {
					body += "\n\n"
				}
				body += toolPrompt
			}
			turns = append(turns, turn{Role: string(m.Role), Body: body})
		case chat.RoleAssistant:
			turns = append(turns, turn{Role: string(m.Role), Body: fmtr.FormatAssistant(m)})
		case chat.RoleTool:
			role, body := fmtr.FormatToolResult(m)
			turns = append(turns, turn{Role: role, Body: body})
		default:
			turns = append(turns, turn{Role: string(m.Role), Body: m.Content})
		}
	}
	return turns
}

// foldSystem merges system turns into the following user turn, for layouts
// without a system role.
func foldSystem(turns []turn) []turn {
	out := make([]turn, 0, len(turns))
	pending := ""
	for _, t := range turns {
		if t.Role == string(chat.RoleSystem) {
			if pending != "" {
				pending += "\n\n"
			}
			pending += t.Body
			continue
		}
		if pending != "" && t.Role == string(chat.RoleUser) {
			t.Body = pending + "\n\n" + t.Body
			pending = ""
		}
		out = append(out, t)
	}
	if pending != "" {
		out = append(out, turn{Role: string(chat.RoleUser), Body: pending})
	}
	return out
}

func render(st style, data renderData) (string, error) {
	if st == styleMistral {
		data.Messages = foldSystem(data.Messages)
	}
	var buf bytes.Buffer
	if err := styleTemplates.ExecuteTemplate(&buf, string(st)+".tmpl", data); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRender, st, err)
	}
	return buf.String(), nil
}
