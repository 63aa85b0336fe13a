package toolformat

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/soypete/llamabridge/pkg/chat"
)

const (
	deepSeekCallsBegin   = "<｜tool▁calls▁begin｜>"
	deepSeekCallsEnd     = "<｜tool▁calls▁end｜>"
	deepSeekCallBegin    = "<｜tool▁call▁begin｜>"
	deepSeekCallEnd      = "<｜tool▁call▁end｜>"
	deepSeekSep          = "<｜tool▁sep｜>"
	deepSeekOutputsBegin = "<｜tool▁outputs▁begin｜>"
	deepSeekOutputsEnd   = "<｜tool▁outputs▁end｜>"
	deepSeekOutputBegin  = "<｜tool▁output▁begin｜>"
	deepSeekOutputEnd    = "<｜tool▁output▁end｜>"
)

var deepSeekCallRe = regexp.MustCompile("(?s)" + regexp.QuoteMeta(deepSeekCallBegin) +
	`function` + regexp.QuoteMeta(deepSeekSep) + `([^\n]+)\n` + "```json\n" + `(.*?)\n` + "```" +
	`\s*` + regexp.QuoteMeta(deepSeekCallEnd))

// DeepSeekR1Formatter handles DeepSeek R1 distills, which wrap calls in
// full-width delimiter tokens with the arguments in a json code fence.
type DeepSeekR1Formatter struct{}

// NewDeepSeekR1Formatter creates a new DeepSeek R1 formatter
func NewDeepSeekR1Formatter() *DeepSeekR1Formatter {
	return &DeepSeekR1Formatter{}
}

func (f *DeepSeekR1Formatter) Format() Format { return FormatDeepSeekR1 }

func (f *DeepSeekR1Formatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	var sb strings.Builder
	sb.WriteString("You have access to the following tools:\n\n")
	for _, t := range tools {
		sb.WriteString(toolJSON(t))
		sb.WriteString("\n")
	}
	sb.WriteString("\nTo call tools, respond with:\n")
	sb.WriteString(deepSeekCallsBegin + deepSeekCallBegin + "function" + deepSeekSep + "tool_name\n```json\n{\"arg\": \"value\"}\n```" + deepSeekCallEnd + deepSeekCallsEnd + "\n")
	if opts.ParallelToolCalls {
		sb.WriteString("Repeat the inner call block for each additional call.\n")
	} else {
		sb.WriteString("Make at most one call per reply.\n")
	}
	return sb.String()
}

func (f *DeepSeekR1Formatter) FormatAssistant(msg chat.Message) string {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	var sb strings.Builder
	sb.WriteString(msg.Content)
	sb.WriteString(deepSeekCallsBegin)
	for i, call := range msg.ToolCalls {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(deepSeekCallBegin + "function" + deepSeekSep + call.Name + "\n```json\n")
		sb.WriteString(rawArgs(call))
		sb.WriteString("\n```" + deepSeekCallEnd)
	}
	sb.WriteString(deepSeekCallsEnd)
	return sb.String()
}

func (f *DeepSeekR1Formatter) FormatToolResult(msg chat.Message) (string, string) {
	return string(chat.RoleTool), deepSeekOutputsBegin + deepSeekOutputBegin + msg.Content + deepSeekOutputEnd + deepSeekOutputsEnd
}

func (f *DeepSeekR1Formatter) Parse(text string) (*chat.Message, error) {
	begin := strings.Index(text, deepSeekCallsBegin)
	if begin < 0 {
		return chat.NewAssistantMessage(text), nil
	}

	block := text[begin+len(deepSeekCallsBegin):]
	after := ""
	if end := strings.Index(block, deepSeekCallsEnd); end >= 0 {
		after = block[end+len(deepSeekCallsEnd):]
		block = block[:end]
	}

	locs := deepSeekCallRe.FindAllStringSubmatchIndex(block, -1)
	if len(locs) == 0 {
		return nil, parseErr(FormatDeepSeekR1, "tool call block holds no well-formed call", nil)
	}

	msg := chat.NewAssistantMessage(joinContent(text[:begin], after))
	prev := 0
	for _, loc := range locs {
		// Only whitespace may sit between calls inside the block.
		if strings.TrimSpace(block[prev:loc[0]]) != "" {
			return nil, parseErr(FormatDeepSeekR1, "malformed call inside tool call block", nil)
		}
		prev = loc[1]

		name := block[loc[2]:loc[3]]
		args := strings.TrimSpace(block[loc[4]:loc[5]])
		if !gjson.Valid(args) {
			return nil, parseErr(FormatDeepSeekR1, "arguments of "+name+" are not valid JSON", nil)
		}
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{
			Name:      strings.TrimSpace(name),
			Arguments: []byte(args),
		})
	}
	if strings.TrimSpace(block[prev:]) != "" {
		return nil, parseErr(FormatDeepSeekR1, "malformed call inside tool call block", nil)
	}
	return msg, nil
}

func (f *DeepSeekR1Formatter) GrammarTriggers() []string {
	return []string{deepSeekCallsBegin}
}

func (f *DeepSeekR1Formatter) AdditionalStops() []string { return nil }
