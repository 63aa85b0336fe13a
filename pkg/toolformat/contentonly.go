package toolformat

import (
	"github.com/soypete/llamabridge/pkg/chat"
)

// ContentOnlyFormatter treats every completion as a plain reply.
type ContentOnlyFormatter struct{}

// NewContentOnlyFormatter creates a new content-only formatter
func NewContentOnlyFormatter() *ContentOnlyFormatter {
	return &ContentOnlyFormatter{}
}

func (f *ContentOnlyFormatter) Format() Format { return FormatContentOnly }

// FormatToolsPrompt returns nothing; no tools are offered.
func (f *ContentOnlyFormatter) FormatToolsPrompt(tools []chat.Tool, opts PromptOptions) string {
	return ""
}

func (f *ContentOnlyFormatter) FormatAssistant(msg chat.Message) string {
	return msg.Content
}

func (f *ContentOnlyFormatter) FormatToolResult(msg chat.Message) (string, string) {
	return string(chat.RoleTool), msg.Content
}

// Parse returns the text unchanged as the message content.
func (f *ContentOnlyFormatter) Parse(text string) (*chat.Message, error) {
	return chat.NewAssistantMessage(text), nil
}

func (f *ContentOnlyFormatter) GrammarTriggers() []string { return nil }

func (f *ContentOnlyFormatter) AdditionalStops() []string { return nil }
