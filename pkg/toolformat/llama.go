package toolformat

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/soypete/llamabridge/pkg/chat"
)

const (
	llamaPythonTag = "<|python_tag|>"
	llamaEOM       = "<|eom_id|>"
	llamaEOT       = "<|eot_id|>"
)

// BuiltinTools are the tool names Llama 3.1+ models were trained to call
// through <|python_tag|> instead of JSON.
var BuiltinTools = []string{"wolfram_alpha", "web_search", "brave_search", "python", "code_interpreter"}

// IsBuiltinTool reports whether name is one of BuiltinTools.
func IsBuiltinTool(name string) bool {
	for _, b := range BuiltinTools {
		if b == name {
			return true
		}
	}
	return false
}

var (
	llamaCallStart = regexp.MustCompile(`^\{\s*(?:"type"\s*:\s*"function"\s*,\s*)?"name"\s*:`)
	builtinCallRe  = regexp.MustCompile(`(?s)^(\w+)\.call\((.*)\)$`)
)

// LlamaFormatter handles tool formatting for Llama 3.x models.
// Plain tools are called with a bare {"name": ..., "parameters": ...} object.
// With Builtin set, the built-in tools are called through <|python_tag|>.
type LlamaFormatter struct {
	Builtin bool
}

// NewLlamaFormatter creates a new Llama 3.x formatter
func NewLlamaFormatter(builtin bool) *LlamaFormatter {
	return &LlamaFormatter{Builtin: builtin}
}

func (f *LlamaFormatter) Format() Format {
	if f.Builtin {
		return FormatLlama3XBuiltinTools
	}
	return FormatLlama3X
}

// FormatToolsPrompt generates tool descriptions for Llama 3.x models
func (f *LlamaFormatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	var sb strings.Builder

	var custom []chat.Tool
	var builtins []string
	for _, t := range tools {
		if f.Builtin && IsBuiltinTool(t.Name) {
			if t.Name != "python" && t.Name != "code_interpreter" {
				builtins = append(builtins, t.Name)
			}
			continue
		}
		custom = append(custom, t)
	}

	if f.Builtin {
		sb.WriteString("Environment: ipython\n")
		if len(builtins) > 0 {
			sb.WriteString("Tools: ")
			sb.WriteString(strings.Join(builtins, ", "))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(custom) == 0 {
		return sb.String()
	}

	sb.WriteString("Given the following functions, please respond with a JSON for a function call with its proper arguments that best answers the given prompt.\n\n")
	sb.WriteString(`Respond in the format {"name": function name, "parameters": dictionary of argument name and its value}. Do not use variables.`)
	sb.WriteString("\n\n")
	for _, t := range custom {
		sb.WriteString(toolJSON(t))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Call at most one function per reply.\n")
	return sb.String()
}

func (f *LlamaFormatter) FormatAssistant(msg chat.Message) string {
	if len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	parts := make([]string, 0, len(msg.ToolCalls)+1)
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	for _, call := range msg.ToolCalls {
		if f.Builtin && IsBuiltinTool(call.Name) {
			parts = append(parts, llamaPythonTag+formatBuiltinCall(call))
			continue
		}
		parts = append(parts, `{"name": `+quote(call.Name)+`, "parameters": `+rawArgs(call)+`}`)
	}
	return strings.Join(parts, "\n")
}

func (f *LlamaFormatter) FormatToolResult(msg chat.Message) (string, string) {
	return "ipython", msg.Content
}

// Parse extracts a leading JSON call object, or with Builtin set a
// <|python_tag|> call.
func (f *LlamaFormatter) Parse(text string) (*chat.Message, error) {
	if f.Builtin {
		if idx := strings.Index(text, llamaPythonTag); idx >= 0 {
			call, err := f.parsePythonTag(text[idx+len(llamaPythonTag):])
			if err != nil {
				return nil, err
			}
			msg := chat.NewAssistantMessage(joinContent(text[:idx]))
			msg.ToolCalls = append(msg.ToolCalls, call)
			return msg, nil
		}
	}

	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !llamaCallStart.MatchString(trimmed) {
		return chat.NewAssistantMessage(text), nil
	}

	msg := chat.NewAssistantMessage("")
	rest := trimmed
	for llamaCallStart.MatchString(rest) {
		raw, r, err := decodeJSONPrefix(rest)
		if err != nil {
			return nil, parseErr(f.Format(), "invalid JSON function call", err)
		}
		call, ok := llamaCall(raw)
		if !ok {
			// An object without parameters or arguments is data, not a call.
			break
		}
		msg.ToolCalls = append(msg.ToolCalls, call)
		rest = strings.TrimLeft(r, " \t\r\n;")
	}
	if len(msg.ToolCalls) == 0 {
		return chat.NewAssistantMessage(text), nil
	}
	msg.Content = joinContent(rest)
	return msg, nil
}

func (f *LlamaFormatter) parsePythonTag(body string) (chat.ToolCall, error) {
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, llamaEOM)
	body = strings.TrimSuffix(body, llamaEOT)
	body = strings.TrimSpace(body)

	if m := builtinCallRe.FindStringSubmatch(body); m != nil {
		args, err := pythonKwargsToJSON(m[2])
		if err != nil {
			return chat.ToolCall{}, parseErr(f.Format(), fmt.Sprintf("bad arguments to %s.call", m[1]), err)
		}
		return chat.ToolCall{Name: m[1], Arguments: []byte(args)}, nil
	}

	if llamaCallStart.MatchString(body) {
		if raw, _, err := decodeJSONPrefix(body); err == nil {
			if call, ok := llamaCall(raw); ok {
				return call, nil
			}
		}
	}

	args, err := sjson.Set("{}", "code", body)
	if err != nil {
		return chat.ToolCall{}, parseErr(f.Format(), "encode python code", err)
	}
	return chat.ToolCall{Name: "python", Arguments: []byte(args)}, nil
}

func (f *LlamaFormatter) GrammarTriggers() []string {
	triggers := []string{`{"name":`, `{"type": "function"`}
	if f.Builtin {
		triggers = append(triggers, llamaPythonTag)
	}
	return triggers
}

func (f *LlamaFormatter) AdditionalStops() []string {
	if f.Builtin {
		return []string{llamaEOM}
	}
	return nil
}

func llamaCall(raw string) (chat.ToolCall, bool) {
	obj := gjson.Parse(raw)
	if t := obj.Get("type"); t.Exists() && t.Str != "function" {
		return chat.ToolCall{}, false
	}
	argsKey := "parameters"
	if !obj.Get(argsKey).Exists() {
		argsKey = "arguments"
		if !obj.Get(argsKey).Exists() {
			return chat.ToolCall{}, false
		}
	}
	return callFromObject(raw, "name", argsKey, "")
}

// formatBuiltinCall renders a built-in call as name.call(key=value, ...).
// A python call carrying only code is emitted as the bare code.
func formatBuiltinCall(call chat.ToolCall) string {
	args := gjson.Parse(rawArgs(call))
	if call.Name == "python" || call.Name == "code_interpreter" {
		code := args.Get("code")
		if code.Type == gjson.String && len(args.Map()) == 1 {
			return code.Str
		}
	}

	var kwargs []string
	args.ForEach(func(key, val gjson.Result) bool {
		kwargs = append(kwargs, key.Str+"="+pythonLiteral(val))
		return true
	})
	return call.Name + ".call(" + strings.Join(kwargs, ", ") + ")"
}

func pythonLiteral(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return quote(v.Str)
	case gjson.True:
		return "True"
	case gjson.False:
		return "False"
	case gjson.Null:
		return "None"
	default:
		return v.Raw
	}
}

// pythonKwargsToJSON converts a keyword-argument list such as
// `query="x", limit=3` into a JSON object, keeping argument order.
func pythonKwargsToJSON(s string) (string, error) {
	out := "{}"
	p := &kwargScanner{s: s}
	p.skipSpace()
	for !p.done() {
		key := p.ident()
		if key == "" {
			return "", fmt.Errorf("expected argument name at offset %d", p.pos)
		}
		p.skipSpace()
		if !p.eat('=') {
			return "", fmt.Errorf("expected '=' after %s", key)
		}
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return "", fmt.Errorf("argument %s: %w", key, err)
		}
		if out, err = sjson.SetRaw(out, key, val); err != nil {
			return "", err
		}
		p.skipSpace()
		if p.done() {
			break
		}
		if !p.eat(',') {
			return "", fmt.Errorf("expected ',' at offset %d", p.pos)
		}
		p.skipSpace()
	}
	return out, nil
}

type kwargScanner struct {
	s   string
	pos int
}

func (p *kwargScanner) done() bool { return p.pos >= len(p.s) }

func (p *kwargScanner) skipSpace() {
	for p.pos < len(p.s) && strings.IndexByte(" \t\r\n", p.s[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *kwargScanner) eat(c byte) bool {
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *kwargScanner) ident() string {
	start := p.pos
	for p.pos < len(p.s) {
		c := rune(p.s[p.pos])
		if c == '_' || unicode.IsLetter(c) || (p.pos > start && unicode.IsDigit(c)) {
			p.pos++
			continue
		}
		break
	}
	return p.s[start:p.pos]
}

// value returns the JSON encoding of the Python literal at the cursor.
func (p *kwargScanner) value() (string, error) {
	if p.done() {
		return "", fmt.Errorf("missing value")
	}
	switch c := p.s[p.pos]; c {
	case '"', '\'':
		return p.str(c)
	case '[', '{':
		start := p.pos
		if err := p.skipBalanced(); err != nil {
			return "", err
		}
		raw := p.s[start:p.pos]
		if !gjson.Valid(raw) {
			return "", fmt.Errorf("unsupported literal %s", raw)
		}
		return raw, nil
	}

	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] != ',' {
		p.pos++
	}
	tok := strings.TrimSpace(p.s[start:p.pos])
	switch tok {
	case "True":
		return "true", nil
	case "False":
		return "false", nil
	case "None":
		return "null", nil
	}
	if v := gjson.Parse(tok); v.Type == gjson.Number && gjson.Valid(tok) {
		return tok, nil
	}
	return "", fmt.Errorf("unsupported literal %q", tok)
}

func (p *kwargScanner) str(q byte) (string, error) {
	start := p.pos
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.s) {
				return "", fmt.Errorf("unterminated string")
			}
			p.pos++
			switch e := p.s[p.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(e)
			}
		case q:
			p.pos++
			lit := p.s[start:p.pos]
			if q == '"' && gjson.Valid(lit) {
				return lit, nil
			}
			return quote(sb.String()), nil
		default:
			sb.WriteByte(c)
		}
		p.pos++
	}
	return "", fmt.Errorf("unterminated string")
}

func (p *kwargScanner) skipBalanced() error {
	depth := 0
	for p.pos < len(p.s) {
		switch c := p.s[p.pos]; c {
		case '"', '\'':
			if _, err := p.str(c); err != nil {
				return err
			}
			continue
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				p.pos++
				return nil
			}
		}
		p.pos++
	}
	return fmt.Errorf("unbalanced brackets")
}
