package toolformat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/soypete/llamabridge/pkg/chat"
)

const (
	functionaryRecipient = ">>>"
	functionaryAll       = "all"
	functionEnd          = "</function>"
)

var (
	functionaryHeaderRe = regexp.MustCompile(`>>>([A-Za-z0-9_.\-]+)\n`)
	functionStartRe     = regexp.MustCompile(`<function=([^>]+)>`)
)

// FunctionaryV32Formatter handles Functionary v3.2. Every output segment is
// addressed with ">>>recipient\n"; the recipient "all" carries the reply to
// the user and any other recipient is a tool name followed by its arguments.
type FunctionaryV32Formatter struct{}

// NewFunctionaryV32Formatter creates a new Functionary v3.2 formatter
func NewFunctionaryV32Formatter() *FunctionaryV32Formatter {
	return &FunctionaryV32Formatter{}
}

func (f *FunctionaryV32Formatter) Format() Format { return FormatFunctionaryV32 }

// FormatToolsPrompt renders the tools as a TypeScript namespace.
func (f *FunctionaryV32Formatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	var sb strings.Builder
	sb.WriteString("You are capable of executing available function(s) if required.\n")
	sb.WriteString("Only execute function(s) when absolutely necessary.\n")
	sb.WriteString("Ask for the required input to:recipient==all\n")
	sb.WriteString("Use JSON for function arguments.\n")
	sb.WriteString("Respond in this format:\n>>>${recipient}\n${content}\n")
	if !opts.ParallelToolCalls {
		sb.WriteString("Call at most one function per reply.\n")
	}
	sb.WriteString("\n// Supported function definitions that should be called when necessary.\nnamespace functions {\n\n")
	for _, t := range tools {
		if t.Description != "" {
			sb.WriteString("// " + t.Description + "\n")
		}
		params := `{"type":"object","properties":{}}`
		if len(t.Parameters) > 0 {
			params = string(t.Parameters)
		}
		sb.WriteString(fmt.Sprintf("type %s = (_: %s) => any;\n\n", t.Name, params))
	}
	sb.WriteString("} // namespace functions\n")
	return sb.String()
}

func (f *FunctionaryV32Formatter) FormatAssistant(msg chat.Message) string {
	if len(msg.ToolCalls) == 0 {
		return functionaryAll + "\n" + msg.Content
	}
	var segments []string
	if msg.Content != "" {
		segments = append(segments, functionaryAll+"\n"+msg.Content)
	}
	for _, call := range msg.ToolCalls {
		segments = append(segments, call.Name+"\n"+rawArgs(call))
	}
	// The prompt already ends with the first ">>>".
	return strings.Join(segments, functionaryRecipient)
}

func (f *FunctionaryV32Formatter) FormatToolResult(msg chat.Message) (string, string) {
	return string(chat.RoleTool), msg.Content
}

// Parse splits the reply on recipient headers. The first header is implied
// by the prompt, so a reply whose leading line is not followed by JSON
// arguments is an ordinary answer, not a call.
func (f *FunctionaryV32Formatter) Parse(text string) (*chat.Message, error) {
	s := text
	implied := !strings.HasPrefix(s, functionaryRecipient)
	if implied {
		s = functionaryRecipient + s
	}
	locs := functionaryHeaderRe.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 || locs[0][0] != 0 {
		return chat.NewAssistantMessage(text), nil
	}
	if implied && !leadsToCall(s, locs) {
		return chat.NewAssistantMessage(text), nil
	}

	msg := chat.NewAssistantMessage("")
	var content strings.Builder
	for i, loc := range locs {
		name := s[loc[2]:loc[3]]
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := s[loc[1]:end]

		if name == functionaryAll {
			content.WriteString(body)
			continue
		}

		body = strings.TrimSpace(body)
		raw, rest, err := decodeJSONPrefix(body)
		switch {
		case err == nil && gjson.Parse(raw).IsObject():
			msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{Name: name, Arguments: []byte(raw)})
			content.WriteString(rest)
		case name == "python":
			args, serr := sjson.Set("{}", "code", body)
			if serr != nil {
				return nil, parseErr(FormatFunctionaryV32, "encode python code", serr)
			}
			msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{Name: name, Arguments: []byte(args)})
		default:
			return nil, parseErr(FormatFunctionaryV32, "arguments of "+name+" are not a JSON object", err)
		}
	}
	msg.Content = strings.TrimSpace(content.String())
	return msg, nil
}

// leadsToCall reports whether the first segment addresses "all", python, or
// a tool followed by a JSON object.
func leadsToCall(s string, locs [][]int) bool {
	name := s[locs[0][2]:locs[0][3]]
	if name == functionaryAll || name == "python" {
		return true
	}
	end := len(s)
	if len(locs) > 1 {
		end = locs[1][0]
	}
	raw, _, err := decodeJSONPrefix(strings.TrimSpace(s[locs[0][1]:end]))
	return err == nil && gjson.Parse(raw).IsObject()
}

func (f *FunctionaryV32Formatter) GrammarTriggers() []string {
	return []string{functionaryRecipient}
}

func (f *FunctionaryV32Formatter) AdditionalStops() []string { return nil }

// FunctionaryV31Formatter handles Functionary v3.1 on Llama 3.1, which calls
// tools with <function=name>{...}</function> and runs code via <|python_tag|>.
type FunctionaryV31Formatter struct{}

// NewFunctionaryV31Formatter creates a new Functionary v3.1 formatter
func NewFunctionaryV31Formatter() *FunctionaryV31Formatter {
	return &FunctionaryV31Formatter{}
}

func (f *FunctionaryV31Formatter) Format() Format { return FormatFunctionaryV31Llama31 }

func (f *FunctionaryV31Formatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	var sb strings.Builder
	sb.WriteString("You have access to the following functions:\n\n")
	for _, t := range tools {
		params := `{"type":"object","properties":{}}`
		if len(t.Parameters) > 0 {
			params = string(t.Parameters)
		}
		sb.WriteString(fmt.Sprintf("Use the function '%s' to '%s'\n%s\n\n", t.Name, t.Description, params))
	}
	sb.WriteString("Think very carefully before calling functions.\n")
	sb.WriteString("If you choose to call a function ONLY reply in the following format with no prefix or suffix:\n\n")
	sb.WriteString(`<function=example_function_name>{"example_name": "example_value"}</function>`)
	sb.WriteString("\n\nReminder:\n")
	sb.WriteString("- Function calls MUST follow the specified format, start with <function= and end with </function>\n")
	sb.WriteString("- Required parameters MUST be specified\n")
	if opts.ParallelToolCalls {
		sb.WriteString("- Several functions may be called, one <function=...> block each\n")
	} else {
		sb.WriteString("- Only call one function at a time\n")
	}
	sb.WriteString("- Put the entire function call reply on one line\n")
	return sb.String()
}

func (f *FunctionaryV31Formatter) FormatAssistant(msg chat.Message) string {
	var sb strings.Builder
	sb.WriteString(msg.Content)
	for _, call := range msg.ToolCalls {
		sb.WriteString("<function=" + call.Name + ">" + rawArgs(call) + functionEnd)
	}
	return sb.String()
}

func (f *FunctionaryV31Formatter) FormatToolResult(msg chat.Message) (string, string) {
	return "ipython", msg.Content
}

func (f *FunctionaryV31Formatter) Parse(text string) (*chat.Message, error) {
	msg := chat.NewAssistantMessage("")
	var content strings.Builder

	rest := text
	for {
		loc := functionStartRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		content.WriteString(rest[:loc[0]])
		name := rest[loc[2]:loc[3]]

		raw, r, err := decodeJSONPrefix(rest[loc[1]:])
		if err != nil {
			return nil, parseErr(FormatFunctionaryV31Llama31, "invalid JSON arguments for "+name, err)
		}
		if !gjson.Parse(raw).IsObject() {
			return nil, parseErr(FormatFunctionaryV31Llama31, "arguments of "+name+" are not a JSON object", nil)
		}
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{Name: name, Arguments: []byte(raw)})

		r = strings.TrimLeft(r, " \t\r\n")
		rest = strings.TrimPrefix(r, functionEnd)
	}

	if idx := strings.Index(rest, llamaPythonTag); idx >= 0 {
		content.WriteString(rest[:idx])
		code := strings.TrimSpace(rest[idx+len(llamaPythonTag):])
		code = strings.TrimSpace(strings.TrimSuffix(code, llamaEOM))
		args, err := sjson.Set("{}", "code", code)
		if err != nil {
			return nil, parseErr(FormatFunctionaryV31Llama31, "encode python code", err)
		}
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{Name: "python", Arguments: []byte(args)})
	} else {
		content.WriteString(rest)
	}

	if len(msg.ToolCalls) == 0 {
		msg.Content = text
		return msg, nil
	}
	msg.Content = strings.TrimSpace(content.String())
	return msg, nil
}

func (f *FunctionaryV31Formatter) GrammarTriggers() []string {
	return []string{"<function=", llamaPythonTag}
}

func (f *FunctionaryV31Formatter) AdditionalStops() []string {
	return []string{llamaEOM}
}
