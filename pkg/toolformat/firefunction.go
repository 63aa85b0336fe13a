package toolformat

import (
	"strings"

	"github.com/soypete/llamabridge/pkg/chat"
)

const fireFunctionPrefix = " functools["

// FireFunctionFormatter handles FireFunction v2, which emits calls as a JSON
// array introduced by " functools".
type FireFunctionFormatter struct{}

// NewFireFunctionFormatter creates a new FireFunction v2 formatter
func NewFireFunctionFormatter() *FireFunctionFormatter {
	return &FireFunctionFormatter{}
}

func (f *FireFunctionFormatter) Format() Format { return FormatFireFunctionV2 }

func (f *FireFunctionFormatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	defs := make([]string, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, toolJSON(t))
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant with access to functions.\n")
	sb.WriteString("In addition to plain text responses, you can chose to call one or more of the provided functions.\n\n")
	sb.WriteString("To call functions, reply with functools followed by a JSON array of {\"name\": ..., \"arguments\": {...}} objects.\n")
	if !opts.ParallelToolCalls {
		sb.WriteString("The array must hold exactly one call.\n")
	}
	sb.WriteString("\nAvailable functions as JSON spec:\n[")
	sb.WriteString(strings.Join(defs, ", "))
	sb.WriteString("]\n")
	return sb.String()
}

func (f *FireFunctionFormatter) FormatAssistant(msg chat.Message) string {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	items := make([]string, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		items = append(items, `{"name": `+quote(call.Name)+`, "arguments": `+rawArgs(call)+`}`)
	}
	return msg.Content + fireFunctionPrefix + strings.Join(items, ", ") + "]"
}

func (f *FireFunctionFormatter) FormatToolResult(msg chat.Message) (string, string) {
	return string(chat.RoleTool), msg.Content
}

// Parse accepts the marker with or without its leading space.
func (f *FireFunctionFormatter) Parse(text string) (*chat.Message, error) {
	marker := strings.TrimPrefix(fireFunctionPrefix, " ")
	idx := strings.Index(text, marker)
	if idx < 0 {
		return chat.NewAssistantMessage(text), nil
	}

	arrayStart := idx + len(marker) - 1
	raw, rest, err := decodeJSONPrefix(text[arrayStart:])
	if err != nil {
		return nil, parseErr(FormatFireFunctionV2, "invalid JSON after functools", err)
	}
	calls, ok := callsFromArray(raw, "name", "arguments", "")
	if !ok {
		return nil, parseErr(FormatFireFunctionV2, "expected an array of tool calls", nil)
	}

	msg := chat.NewAssistantMessage(joinContent(text[:idx], rest))
	msg.ToolCalls = calls
	return msg, nil
}

func (f *FireFunctionFormatter) GrammarTriggers() []string {
	return []string{fireFunctionPrefix}
}

func (f *FireFunctionFormatter) AdditionalStops() []string { return nil }
