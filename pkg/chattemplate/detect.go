package chattemplate

import (
	"strings"

	"github.com/soypete/llamabridge/pkg/chat"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

// style names the turn layout used to render a conversation. Each style has
// a matching file under templates/.
type style string

const (
	styleChatML      style = "chatml"
	styleLlama3      style = "llama3"
	styleMistral     style = "mistral"
	styleDeepSeek    style = "deepseek"
	styleCommandR    style = "commandr"
	styleFunctionary style = "functionary"
)

// family is what detection learns from a template source.
type family struct {
	format toolformat.Format
	style  style
	// native is false when the template has no tool markup of its own and
	// the generic JSON convention is used instead.
	native bool
	// parallelAllowed is false for families whose models only emit one
	// call per turn.
	parallelAllowed bool
}

// detectFamily inspects a template source for the markers each model family
// uses. The order matters: later checks match markers that earlier families
// also contain.
func detectFamily(src string) family {
	switch {
	case strings.Contains(src, "<｜tool▁calls▁begin｜>"):
		return family{toolformat.FormatDeepSeekR1, styleDeepSeek, true, true}
	case strings.Contains(src, "<|END_THINKING|><|START_ACTION|>"):
		return family{toolformat.FormatCommandR7B, styleCommandR, true, true}
	case strings.Contains(src, ">>>all"):
		return family{toolformat.FormatFunctionaryV32, styleFunctionary, true, true}
	case strings.Contains(src, " functools["):
		return family{toolformat.FormatFireFunctionV2, styleLlama3, true, true}
	case strings.Contains(src, "<|start_header_id|>") && strings.Contains(src, "<function="):
		return family{toolformat.FormatFunctionaryV31Llama31, styleLlama3, true, true}
	case strings.Contains(src, "<|start_header_id|>ipython<|end_header_id|>"):
		return family{toolformat.FormatLlama3X, styleLlama3, true, false}
	case strings.Contains(src, "<tool_call>"):
		return family{toolformat.FormatHermes2Pro, genericStyle(src), true, true}
	case strings.Contains(src, "[TOOL_CALLS]"):
		return family{toolformat.FormatMistralNemo, styleMistral, true, true}
	default:
		return family{toolformat.FormatGeneric, genericStyle(src), false, true}
	}
}

// genericStyle picks a turn layout from the template's role markers.
func genericStyle(src string) style {
	switch {
	case strings.Contains(src, "<|im_start|>"):
		return styleChatML
	case strings.Contains(src, "<|start_header_id|>"):
		return styleLlama3
	case strings.Contains(src, "[INST]"):
		return styleMistral
	default:
		return styleChatML
	}
}

// Capabilities describes the tool use a template set supports.
type Capabilities struct {
	// ToolUse is true when the template has native tool-call markup.
	ToolUse bool
	// ParallelToolCalls is true when several calls may be made in one turn.
	ParallelToolCalls bool
	// ToolChoices lists the tool-choice policies the template understands.
	ToolChoices []chat.ToolChoice
	// BuiltinTools is true when Llama built-in tools can be called through
	// <|python_tag|>.
	BuiltinTools bool
	// Format is the tool-call format used when a request offers tools.
	Format toolformat.Format
}

// SupportsToolChoice reports whether c is among the understood policies.
func (c Capabilities) SupportsToolChoice(choice chat.ToolChoice) bool {
	for _, tc := range c.ToolChoices {
		if tc == choice {
			return true
		}
	}
	return false
}

func capabilitiesOf(src string) Capabilities {
	fam := detectFamily(src)
	caps := Capabilities{
		ToolUse:     fam.native,
		ToolChoices: []chat.ToolChoice{chat.ToolChoiceAuto, chat.ToolChoiceNone, chat.ToolChoiceRequired},
		Format:      fam.format,
	}

	if fam.native {
		caps.ParallelToolCalls = fam.parallelAllowed &&
			strings.Contains(src, "tool_calls") &&
			!strings.Contains(src, "tool_calls[0]")
	} else {
		// The generic convention has a tool_calls array of its own.
		caps.ParallelToolCalls = true
	}

	if fam.format == toolformat.FormatLlama3X {
		caps.BuiltinTools = strings.Contains(src, "<|python_tag|>")
	}
	return caps
}

func hasBuiltinTool(tools []chat.Tool) bool {
	for _, t := range tools {
		if toolformat.IsBuiltinTool(t.Name) {
			return true
		}
	}
	return false
}
