package toolformat

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/soypete/llamabridge/pkg/chat"
)

const (
	commandRThinkingStart = "<|START_THINKING|>"
	commandRThinkingEnd   = "<|END_THINKING|>"
	commandRActionStart   = "<|START_ACTION|>"
	commandRActionEnd     = "<|END_ACTION|>"
	commandRResponseStart = "<|START_RESPONSE|>"
	commandRResponseEnd   = "<|END_RESPONSE|>"
)

var (
	commandRThinkingRe = regexp.MustCompile(`(?s)<\|START_THINKING\|>(.*?)<\|END_THINKING\|>`)
	commandRActionRe   = regexp.MustCompile(`(?s)<\|START_ACTION\|>(.*?)(?:<\|END_ACTION\|>|$)`)
	commandRResponseRe = regexp.MustCompile(`(?s)<\|START_RESPONSE\|>(.*?)(?:<\|END_RESPONSE\|>|$)`)
)

// CommandR7BFormatter handles Command R7B, which separates a tool plan,
// an action list and the reply into delimited segments.
type CommandR7BFormatter struct{}

// NewCommandR7BFormatter creates a new Command R7B formatter
func NewCommandR7BFormatter() *CommandR7BFormatter {
	return &CommandR7BFormatter{}
}

func (f *CommandR7BFormatter) Format() Format { return FormatCommandR7B }

func (f *CommandR7BFormatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	defs := make([]string, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, toolJSON(t))
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\nHere is a list of tools that you have available to you:\n\n```json\n[\n")
	sb.WriteString(strings.Join(defs, ",\n"))
	sb.WriteString("\n]\n```\n\n")
	sb.WriteString("## Tool Use\n")
	sb.WriteString("Think about which tools to use and write the plan between " + commandRThinkingStart + " and " + commandRThinkingEnd + ".\n")
	sb.WriteString("Then list the calls as a JSON array between " + commandRActionStart + " and " + commandRActionEnd + ", each entry holding \"tool_call_id\", \"tool_name\" and \"parameters\".\n")
	if !opts.ParallelToolCalls {
		sb.WriteString("The array must hold exactly one call.\n")
	}
	sb.WriteString("When answering the user directly, write the answer between " + commandRResponseStart + " and " + commandRResponseEnd + ".\n")
	return sb.String()
}

func (f *CommandR7BFormatter) FormatAssistant(msg chat.Message) string {
	var sb strings.Builder
	if msg.ToolPlan != nil {
		sb.WriteString(commandRThinkingStart + *msg.ToolPlan + commandRThinkingEnd)
	}
	if len(msg.ToolCalls) == 0 {
		sb.WriteString(commandRResponseStart + msg.Content + commandRResponseEnd)
		return sb.String()
	}

	items := make([]string, 0, len(msg.ToolCalls))
	for i, call := range msg.ToolCalls {
		id := call.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		items = append(items, `{"tool_call_id": `+quote(id)+`, "tool_name": `+quote(call.Name)+`, "parameters": `+rawArgs(call)+`}`)
	}
	sb.WriteString(commandRActionStart + "[\n    " + strings.Join(items, ",\n    ") + "\n]" + commandRActionEnd)
	return sb.String()
}

func (f *CommandR7BFormatter) FormatToolResult(msg chat.Message) (string, string) {
	body := marshalNoEscape([]map[string]interface{}{{
		"tool_call_id": msg.ToolCallID,
		"results":      map[string]string{"0": msg.Content},
	}})
	return string(chat.RoleTool), "<|START_TOOL_RESULT|>" + body + "<|END_TOOL_RESULT|>"
}

// Parse reads the thinking segment into ToolPlan, the action segment into
// tool calls and the response segment into content. Text outside any
// segment is content when no response segment exists.
func (f *CommandR7BFormatter) Parse(text string) (*chat.Message, error) {
	msg := chat.NewAssistantMessage("")
	rest := text

	if m := commandRThinkingRe.FindStringSubmatchIndex(rest); m != nil {
		msg.SetToolPlan(strings.TrimSpace(rest[m[2]:m[3]]))
		rest = rest[:m[0]] + rest[m[1]:]
	}

	if m := commandRActionRe.FindStringSubmatchIndex(rest); m != nil {
		body := strings.TrimSpace(rest[m[2]:m[3]])
		raw, trailing, err := decodeJSONPrefix(body)
		if err != nil {
			return nil, parseErr(FormatCommandR7B, "invalid JSON inside action block", err)
		}
		if strings.TrimSpace(trailing) != "" {
			return nil, parseErr(FormatCommandR7B, "trailing text inside action block", nil)
		}
		calls, ok := callsFromArray(raw, "tool_name", "parameters", "tool_call_id")
		if !ok {
			return nil, parseErr(FormatCommandR7B, "expected an array of tool calls", nil)
		}
		msg.ToolCalls = calls
		rest = rest[:m[0]] + rest[m[1]:]
	}

	if m := commandRResponseRe.FindStringSubmatch(rest); m != nil {
		msg.Content = strings.TrimSpace(m[1])
		return msg, nil
	}

	if msg.ToolPlan == nil && len(msg.ToolCalls) == 0 {
		msg.Content = text
		return msg, nil
	}
	msg.Content = strings.TrimSpace(rest)
	return msg, nil
}

func (f *CommandR7BFormatter) GrammarTriggers() []string {
	return []string{commandRActionStart}
}

func (f *CommandR7BFormatter) AdditionalStops() []string { return nil }
