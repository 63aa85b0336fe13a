package toolformat

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/soypete/llamabridge/pkg/chat"
)

// ToolFormatter handles one model family's tool-call markup in both
// directions: it renders tool definitions and conversation history into
// prompt text, and parses generated text back into a message.
type ToolFormatter interface {
	// Format returns the format this formatter implements.
	Format() Format

	// FormatToolsPrompt generates the tool definitions portion of the system prompt.
	FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string

	// FormatAssistant renders an assistant turn, including its tool calls,
	// the way the model would have generated it.
	FormatAssistant(msg chat.Message) string

	// FormatToolResult returns the role and body used to feed a tool result
	// back to the model.
	FormatToolResult(msg chat.Message) (role string, body string)

	// Parse converts generated text into an assistant message.
	Parse(text string) (*chat.Message, error)

	// GrammarTriggers returns the strings whose appearance in the output
	// should activate tool-call constrained decoding.
	GrammarTriggers() []string

	// AdditionalStops returns stop strings beyond the model's end-of-turn token.
	AdditionalStops() []string
}

// PromptOptions tunes the tool prompt for a request.
type PromptOptions struct {
	ParallelToolCalls bool
	ToolChoice        chat.ToolChoice
}

// toolJSON renders a tool in the OpenAI function shape.
func toolJSON(t chat.Tool) string {
	return marshalNoEscape(t.OpenAIDefinition())
}

// marshalNoEscape encodes v without HTML escaping so that markup characters
// survive into prompts unchanged.
func marshalNoEscape(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimRight(buf.String(), "\n")
}

func quote(s string) string {
	return marshalNoEscape(s)
}

// rawArgs returns the call's arguments, or an empty object when absent.
func rawArgs(call chat.ToolCall) string {
	if len(bytes.TrimSpace(call.Arguments)) == 0 {
		return "{}"
	}
	return string(call.Arguments)
}

// decodeJSONPrefix reads the single JSON value at the start of s, ignoring
// leading whitespace, and returns its raw text along with the unread rest.
func decodeJSONPrefix(s string) (raw string, rest string, err error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return "", s, err
	}
	return string(v), s[dec.InputOffset():], nil
}

// callFromObject builds a tool call from a JSON object using the given keys.
// Absent or null arguments become an empty object. Numeric ids are kept in
// their textual form.
func callFromObject(raw, nameKey, argsKey, idKey string) (chat.ToolCall, bool) {
	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return chat.ToolCall{}, false
	}
	name := obj.Get(nameKey)
	if name.Type != gjson.String || name.Str == "" {
		return chat.ToolCall{}, false
	}

	call := chat.ToolCall{Name: name.Str, Arguments: json.RawMessage("{}")}
	if args := obj.Get(argsKey); args.Exists() && args.Type != gjson.Null {
		call.Arguments = json.RawMessage(args.Raw)
	}
	if idKey != "" {
		switch id := obj.Get(idKey); id.Type {
		case gjson.String:
			call.ID = id.Str
		case gjson.Number:
			call.ID = id.Raw
		}
	}
	return call, true
}

// callsFromArray builds tool calls from a JSON array of call objects.
func callsFromArray(raw, nameKey, argsKey, idKey string) ([]chat.ToolCall, bool) {
	arr := gjson.Parse(raw)
	if !arr.IsArray() {
		return nil, false
	}
	calls := []chat.ToolCall{}
	ok := true
	arr.ForEach(func(_, item gjson.Result) bool {
		call, valid := callFromObject(item.Raw, nameKey, argsKey, idKey)
		if !valid {
			ok = false
			return false
		}
		calls = append(calls, call)
		return true
	})
	return calls, ok
}

// joinContent glues the text found around tool-call markup.
func joinContent(parts ...string) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p)
	}
	return strings.TrimSpace(sb.String())
}

func toolNames(tools []chat.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
