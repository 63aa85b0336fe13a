package toolformat

import (
	"regexp"
	"strings"

	"github.com/soypete/llamabridge/pkg/chat"
)

const (
	hermesCallOpen  = "<tool_call>"
	hermesCallClose = "</tool_call>"
)

var hermesCallRe = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)

// HermesFormatter handles Hermes 2 Pro and the models trained on its format
// (Qwen 2.5 among them). Hermes uses XML-style function calling format.
type HermesFormatter struct{}

// NewHermesFormatter creates a new Hermes formatter
func NewHermesFormatter() *HermesFormatter {
	return &HermesFormatter{}
}

func (f *HermesFormatter) Format() Format { return FormatHermes2Pro }

// FormatToolsPrompt generates the tool definitions portion of the system prompt
func (f *HermesFormatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	var sb strings.Builder

	sb.WriteString("You are a function calling AI model. You are provided with function signatures within <tools></tools> XML tags.\n")
	if opts.ParallelToolCalls {
		sb.WriteString("You may call one or more functions to assist with the user query. ")
	} else {
		sb.WriteString("You may call one function to assist with the user query. ")
	}
	sb.WriteString("Don't make assumptions about what values to plug into functions.\n\n")

	sb.WriteString("<tools>\n")
	for _, tool := range tools {
		sb.WriteString(toolJSON(tool))
		sb.WriteString("\n")
	}
	sb.WriteString("</tools>\n\n")

	sb.WriteString("For each function call return a json object with function name and arguments within <tool_call></tool_call> XML tags as follows:\n")
	sb.WriteString("<tool_call>\n")
	sb.WriteString("{\"name\": <function-name>, \"arguments\": <args-dict>}\n")
	sb.WriteString("</tool_call>")

	return sb.String()
}

func (f *HermesFormatter) FormatAssistant(msg chat.Message) string {
	parts := make([]string, 0, len(msg.ToolCalls)+1)
	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		parts = append(parts, msg.Content)
	}
	for _, call := range msg.ToolCalls {
		parts = append(parts, hermesCallOpen+"\n"+`{"name": `+quote(call.Name)+`, "arguments": `+rawArgs(call)+"}\n"+hermesCallClose)
	}
	return strings.Join(parts, "\n")
}

// FormatToolResult wraps the result in <tool_response> tags inside a user turn.
func (f *HermesFormatter) FormatToolResult(msg chat.Message) (string, string) {
	return string(chat.RoleUser), "<tool_response>\n" + msg.Content + "\n</tool_response>"
}

// Parse extracts every <tool_call> block. A block that does not hold a JSON
// object with a name is an error, not content.
func (f *HermesFormatter) Parse(text string) (*chat.Message, error) {
	locs := hermesCallRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		if strings.Contains(text, hermesCallOpen) {
			return nil, parseErr(FormatHermes2Pro, "unterminated <tool_call> block", nil)
		}
		return chat.NewAssistantMessage(text), nil
	}

	msg := chat.NewAssistantMessage("")
	var content strings.Builder
	prev := 0
	for _, loc := range locs {
		content.WriteString(text[prev:loc[0]])
		prev = loc[1]

		body := text[loc[2]:loc[3]]
		raw, rest, err := decodeJSONPrefix(body)
		if err != nil {
			return nil, parseErr(FormatHermes2Pro, "invalid JSON inside <tool_call>", err)
		}
		if strings.TrimSpace(rest) != "" {
			return nil, parseErr(FormatHermes2Pro, "trailing text inside <tool_call>", nil)
		}
		call, ok := callFromObject(raw, "name", "arguments", "id")
		if !ok {
			return nil, parseErr(FormatHermes2Pro, "tool call needs a name", nil)
		}
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	if strings.Contains(text[prev:], hermesCallOpen) {
		return nil, parseErr(FormatHermes2Pro, "unterminated <tool_call> block", nil)
	}
	content.WriteString(text[prev:])
	msg.Content = strings.TrimSpace(content.String())
	return msg, nil
}

func (f *HermesFormatter) GrammarTriggers() []string {
	return []string{hermesCallOpen}
}

func (f *HermesFormatter) AdditionalStops() []string { return nil }
