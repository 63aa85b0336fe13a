package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Tool is a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAIDefinition returns the tool in the {"type":"function","function":{...}}
// shape most chat templates expect.
func (t Tool) OpenAIDefinition() map[string]interface{} {
	fn := map[string]interface{}{
		"name": t.Name,
	}
	if t.Description != "" {
		fn["description"] = t.Description
	}
	if len(t.Parameters) > 0 {
		fn["parameters"] = t.Parameters
	} else {
		fn["parameters"] = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return map[string]interface{}{
		"type":     "function",
		"function": fn,
	}
}

// ValidateArguments checks args against the tool's parameter schema.
// A tool without a schema accepts any JSON object.
func (t Tool) ValidateArguments(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if len(t.Parameters) == 0 {
		var obj map[string]interface{}
		if err := json.Unmarshal(args, &obj); err != nil {
			return fmt.Errorf("tool %q: arguments are not a JSON object: %w", t.Name, err)
		}
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(t.Parameters),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return fmt.Errorf("tool %q: validate arguments: %w", t.Name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("tool %q: invalid arguments: %s", t.Name, strings.Join(msgs, "; "))
	}
	return nil
}

// FindTool returns the tool with the given name.
func FindTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// ValidateToolCalls checks every call in msg against the matching tool.
// Calls naming an unknown tool are reported as errors.
func ValidateToolCalls(msg *Message, tools []Tool) error {
	for _, call := range msg.ToolCalls {
		tool, ok := FindTool(tools, call.Name)
		if !ok {
			return fmt.Errorf("tool %q is not defined in the request", call.Name)
		}
		if err := tool.ValidateArguments(call.Arguments); err != nil {
			return err
		}
	}
	return nil
}
