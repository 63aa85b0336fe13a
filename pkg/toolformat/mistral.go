package toolformat

import (
	"strings"

	"github.com/soypete/llamabridge/pkg/chat"
)

const mistralToolCallsPrefix = "[TOOL_CALLS]"

// MistralNemoFormatter handles tool formatting for Mistral Nemo models.
// Mistral uses [AVAILABLE_TOOLS] and [TOOL_CALLS] format.
type MistralNemoFormatter struct{}

// NewMistralNemoFormatter creates a new Mistral Nemo formatter
func NewMistralNemoFormatter() *MistralNemoFormatter {
	return &MistralNemoFormatter{}
}

func (f *MistralNemoFormatter) Format() Format { return FormatMistralNemo }

// FormatToolsPrompt generates tool descriptions for Mistral models
func (f *MistralNemoFormatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	defs := make([]string, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, toolJSON(t))
	}

	var sb strings.Builder
	sb.WriteString("[AVAILABLE_TOOLS][")
	sb.WriteString(strings.Join(defs, ", "))
	sb.WriteString("][/AVAILABLE_TOOLS]\n")
	sb.WriteString("To call tools, reply with [TOOL_CALLS] followed by a JSON array of objects with \"name\", \"arguments\" and a 9 character alphanumeric \"id\".\n")
	if opts.ParallelToolCalls {
		sb.WriteString("The array may hold several calls.\n")
	} else {
		sb.WriteString("The array must hold exactly one call.\n")
	}
	return sb.String()
}

func (f *MistralNemoFormatter) FormatAssistant(msg chat.Message) string {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	items := make([]string, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		item := `{"name": ` + quote(call.Name) + `, "arguments": ` + rawArgs(call)
		if call.ID != "" {
			item += `, "id": ` + quote(call.ID)
		}
		items = append(items, item+"}")
	}
	return msg.Content + mistralToolCallsPrefix + "[" + strings.Join(items, ", ") + "]"
}

func (f *MistralNemoFormatter) FormatToolResult(msg chat.Message) (string, string) {
	body := marshalNoEscape(map[string]string{
		"content": msg.Content,
		"call_id": msg.ToolCallID,
	})
	return string(chat.RoleTool), "[TOOL_RESULTS]" + body + "[/TOOL_RESULTS]"
}

// Parse extracts the [TOOL_CALLS] array; text before it is content.
func (f *MistralNemoFormatter) Parse(text string) (*chat.Message, error) {
	idx := strings.Index(text, mistralToolCallsPrefix)
	if idx < 0 {
		return chat.NewAssistantMessage(text), nil
	}

	raw, rest, err := decodeJSONPrefix(text[idx+len(mistralToolCallsPrefix):])
	if err != nil {
		return nil, parseErr(FormatMistralNemo, "invalid JSON after [TOOL_CALLS]", err)
	}
	calls, ok := callsFromArray(raw, "name", "arguments", "id")
	if !ok {
		return nil, parseErr(FormatMistralNemo, "expected an array of tool calls", nil)
	}

	msg := chat.NewAssistantMessage(joinContent(text[:idx], rest))
	msg.ToolCalls = calls
	return msg, nil
}

func (f *MistralNemoFormatter) GrammarTriggers() []string {
	return []string{mistralToolCallsPrefix}
}

func (f *MistralNemoFormatter) AdditionalStops() []string { return nil }
