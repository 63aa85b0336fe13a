package toolformat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/soypete/llamabridge/pkg/chat"
)

// GenericFormatter is the fallback for templates with no native tool markup.
// The model is asked to answer with a single JSON object holding either
// "tool_calls" (or "tool_call") or "response".
type GenericFormatter struct{}

// NewGenericFormatter creates a new generic formatter
func NewGenericFormatter() *GenericFormatter {
	return &GenericFormatter{}
}

func (f *GenericFormatter) Format() Format { return FormatGeneric }

// FormatToolsPrompt describes the expected JSON reply as a schema.
func (f *GenericFormatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	callSchemas := make([]interface{}, 0, len(tools))
	for _, t := range tools {
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if len(t.Parameters) > 0 {
			params = t.Parameters
		}
		props := map[string]interface{}{
			"name":      map[string]interface{}{"const": t.Name},
			"arguments": params,
		}
		if opts.ParallelToolCalls {
			props["id"] = map[string]interface{}{"type": "string", "minLength": 4}
		}
		callSchemas = append(callSchemas, map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   []string{"name", "arguments"},
		})
	}

	var call interface{} = map[string]interface{}{"anyOf": callSchemas}
	if len(callSchemas) == 1 {
		call = callSchemas[0]
	}

	var toolSchema map[string]interface{}
	if opts.ParallelToolCalls {
		toolSchema = map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tool_calls": map[string]interface{}{
					"type":     "array",
					"items":    call,
					"minItems": 1,
				},
			},
			"required": []string{"tool_calls"},
		}
	} else {
		toolSchema = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"tool_call": call},
			"required":   []string{"tool_call"},
		}
	}

	schema := toolSchema
	if opts.ToolChoice != chat.ToolChoiceRequired {
		schema = map[string]interface{}{
			"anyOf": []interface{}{
				toolSchema,
				map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"response": map[string]interface{}{"type": "string"},
					},
					"required": []string{"response"},
				},
			},
		}
	}

	var sb strings.Builder
	key := "tool_call"
	if opts.ParallelToolCalls {
		key = "tool_calls"
	}
	if opts.ToolChoice == chat.ToolChoiceRequired {
		sb.WriteString(fmt.Sprintf("Respond in JSON format with `%s` (a request to call tools).\n", key))
	} else {
		sb.WriteString(fmt.Sprintf("Respond in JSON format, either with `%s` (a request to call tools) or with `response` reply to the user's request.\n", key))
	}
	sb.WriteString("The JSON object must match this schema:\n")
	sb.WriteString(marshalNoEscape(schema))
	return sb.String()
}

// FormatAssistant renders tool calls as the JSON object the model is asked to
// produce. Plain replies stay as text.
func (f *GenericFormatter) FormatAssistant(msg chat.Message) string {
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
	return `{"tool_calls": [` + strings.Join(items, ", ") + `]}`
}

func (f *GenericFormatter) FormatToolResult(msg chat.Message) (string, string) {
	resp := map[string]interface{}{
		"tool":    msg.Name,
		"content": msg.Content,
	}
	if msg.ToolCallID != "" {
		resp["id"] = msg.ToolCallID
	}
	return string(chat.RoleTool), marshalNoEscape(map[string]interface{}{"tool_response": resp})
}

// Parse requires the whole completion to be one JSON object.
func (f *GenericFormatter) Parse(text string) (*chat.Message, error) {
	trimmed := strings.TrimSpace(text)
	if !gjson.Valid(trimmed) {
		return nil, parseErr(FormatGeneric, "output is not valid JSON", nil)
	}
	obj := gjson.Parse(trimmed)
	if !obj.IsObject() {
		return nil, parseErr(FormatGeneric, "output is not a JSON object", nil)
	}

	msg := chat.NewAssistantMessage("")
	if calls := obj.Get("tool_calls"); calls.Exists() {
		parsed, ok := callsFromArray(calls.Raw, "name", "arguments", "id")
		if !ok {
			return nil, parseErr(FormatGeneric, "malformed tool_calls array", nil)
		}
		msg.ToolCalls = parsed
		return msg, nil
	}
	if single := obj.Get("tool_call"); single.Exists() {
		call, ok := callFromObject(single.Raw, "name", "arguments", "id")
		if !ok {
			return nil, parseErr(FormatGeneric, "malformed tool_call object", nil)
		}
		msg.ToolCalls = append(msg.ToolCalls, call)
		return msg, nil
	}
	if resp := obj.Get("response"); resp.Exists() {
		if resp.Type == gjson.String {
			msg.Content = resp.Str
		} else {
			msg.Content = resp.Raw
		}
		return msg, nil
	}
	return nil, parseErr(FormatGeneric, `expected "tool_calls", "tool_call" or "response"`, nil)
}

// GrammarTriggers is empty: the whole output is constrained from the start.
func (f *GenericFormatter) GrammarTriggers() []string { return nil }

func (f *GenericFormatter) AdditionalStops() []string { return nil }
