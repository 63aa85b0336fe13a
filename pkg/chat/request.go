package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedRequest is returned when the payload is not a JSON object.
	ErrMalformedRequest = errors.New("malformed chat request")

	// ErrMissingMessages is returned when "messages" is absent, null or not an array.
	ErrMissingMessages = errors.New("chat request has no messages array")

	// ErrEmptyMessages is returned when "messages" is an empty array.
	ErrEmptyMessages = errors.New("chat request messages array is empty")

	// ErrMalformedMessage is returned for a message that lacks a valid role or
	// carries content of an unsupported type.
	ErrMalformedMessage = errors.New("malformed chat message")
)

// ToolChoice is the caller's policy for tool use.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// Request is a decoded chat-completion request.
type Request struct {
	Messages            []Message
	Tools               []Tool
	ToolChoice          ToolChoice
	ParallelToolCalls   bool
	Stream              bool
	AddGenerationPrompt bool
}

// DecodeRequest parses a JSON chat request.
//
// Only the messages array is structurally required. Every optional field that
// is absent, null or of the wrong shape falls back to its default:
// tool_choice "auto", parallel_tool_calls false, stream false,
// add_generation_prompt true, no tools. Unknown fields are ignored.
func DecodeRequest(payload []byte) (*Request, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedRequest)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedRequest)
	}

	msgs := root.Get("messages")
	if !msgs.IsArray() {
		return nil, ErrMissingMessages
	}
	items := msgs.Array()
	if len(items) == 0 {
		return nil, ErrEmptyMessages
	}

	req := &Request{
		Messages:            make([]Message, 0, len(items)),
		Tools:               decodeTools(root.Get("tools")),
		ToolChoice:          decodeToolChoice(root.Get("tool_choice")),
		ParallelToolCalls:   boolOr(root.Get("parallel_tool_calls"), false),
		Stream:              boolOr(root.Get("stream"), false),
		AddGenerationPrompt: boolOr(root.Get("add_generation_prompt"), true),
	}

	for i, item := range items {
		msg, err := decodeMessage(item)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

func boolOr(v gjson.Result, def bool) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return def
	}
}

func decodeToolChoice(v gjson.Result) ToolChoice {
	if v.Type != gjson.String {
		return ToolChoiceAuto
	}
	switch c := ToolChoice(v.Str); c {
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return c
	default:
		return ToolChoiceAuto
	}
}

// decodeTools accepts both the OpenAI wrapper {"type":"function","function":{...}}
// and bare {"name":...} objects. Entries without a name are dropped.
func decodeTools(v gjson.Result) []Tool {
	if !v.IsArray() {
		return nil
	}
	var tools []Tool
	v.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		fn := item
		if f := item.Get("function"); f.IsObject() {
			fn = f
		}
		name := fn.Get("name")
		if name.Type != gjson.String || name.Str == "" {
			return true
		}
		tool := Tool{Name: name.Str}
		if d := fn.Get("description"); d.Type == gjson.String {
			tool.Description = d.Str
		}
		if p := fn.Get("parameters"); p.IsObject() {
			tool.Parameters = json.RawMessage(p.Raw)
		}
		tools = append(tools, tool)
		return true
	})
	return tools
}

func decodeMessage(v gjson.Result) (Message, error) {
	if !v.IsObject() {
		return Message{}, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}

	role := v.Get("role")
	if role.Type != gjson.String || !Role(role.Str).Valid() {
		return Message{}, fmt.Errorf("%w: role %s", ErrMalformedMessage, role.Raw)
	}

	content, err := decodeContent(v.Get("content"))
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		Role:      Role(role.Str),
		Content:   content,
		ToolCalls: decodeHistoryToolCalls(v.Get("tool_calls")),
	}
	if n := v.Get("name"); n.Type == gjson.String {
		msg.Name = n.Str
	}
	if id := v.Get("tool_call_id"); id.Type == gjson.String {
		msg.ToolCallID = id.Str
	}
	if plan := v.Get("tool_plan"); plan.Type == gjson.String {
		msg.SetToolPlan(plan.Str)
	}
	return msg, nil
}

// decodeContent accepts a string, null, or an array of content parts of which
// only the text parts are kept.
func decodeContent(v gjson.Result) (string, error) {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return "", nil
	case v.Type == gjson.String:
		return v.Str, nil
	case v.IsArray():
		var sb strings.Builder
		v.ForEach(func(_, part gjson.Result) bool {
			if part.Type == gjson.String {
				sb.WriteString(part.Str)
				return true
			}
			if t := part.Get("type"); t.Exists() && t.Str != "text" {
				return true
			}
			sb.WriteString(part.Get("text").String())
			return true
		})
		return sb.String(), nil
	default:
		return "", fmt.Errorf("%w: unsupported content type", ErrMalformedMessage)
	}
}

// decodeHistoryToolCalls reads tool calls from earlier assistant turns.
// Arguments may be an object or a JSON-encoded string; strings holding valid
// JSON are unwrapped so the template sees the structured value.
func decodeHistoryToolCalls(v gjson.Result) []ToolCall {
	calls := []ToolCall{}
	if !v.IsArray() {
		return calls
	}
	v.ForEach(func(_, item gjson.Result) bool {
		fn := item
		if f := item.Get("function"); f.IsObject() {
			fn = f
		}
		name := fn.Get("name").String()
		if name == "" {
			return true
		}
		call := ToolCall{
			Name: name,
			ID:   item.Get("id").String(),
		}
		args := fn.Get("arguments")
		switch {
		case args.Type == gjson.String && gjson.Valid(args.Str):
			call.Arguments = json.RawMessage(args.Str)
		case args.Exists() && args.Type != gjson.Null:
			call.Arguments = json.RawMessage(args.Raw)
		default:
			call.Arguments = json.RawMessage("{}")
		}
		calls = append(calls, call)
		return true
	})
	return calls
}
