package toolformat

import (
	"strings"
)

// ForModelName guesses the format for a model from its name alone. It is a
// fallback for callers that know the model but not its chat template.
func ForModelName(modelName string) Format {
	modelLower := strings.ToLower(modelName)

	switch {
	case strings.Contains(modelLower, "deepseek") && strings.Contains(modelLower, "r1"):
		return FormatDeepSeekR1
	case strings.Contains(modelLower, "command-r7b") || strings.Contains(modelLower, "command-r-7b"):
		return FormatCommandR7B
	case strings.Contains(modelLower, "functionary"):
		if strings.Contains(modelLower, "v3.1") || strings.Contains(modelLower, "3.1") {
			return FormatFunctionaryV31Llama31
		}
		return FormatFunctionaryV32
	case strings.Contains(modelLower, "firefunction"):
		return FormatFireFunctionV2
	case strings.Contains(modelLower, "hermes") || strings.Contains(modelLower, "qwen"):
		return FormatHermes2Pro
	case strings.Contains(modelLower, "mistral-nemo") || strings.Contains(modelLower, "mistral_nemo"):
		return FormatMistralNemo
	case strings.Contains(modelLower, "llama-3") || strings.Contains(modelLower, "llama3"):
		return FormatLlama3X
	default:
		return FormatGeneric
	}
}

// FormatterInfo provides information about a formatter
type FormatterInfo struct {
	Format      Format
	Name        string
	Code        int32
	Description string
	Models      []string
}

var formatDescriptions = [...]string{
	FormatContentOnly:           "Plain text reply, no tool calls",
	FormatGeneric:               "Single JSON object with tool_calls or response",
	FormatMistralNemo:           "[TOOL_CALLS] followed by a JSON array",
	FormatLlama3X:               `Bare {"name", "parameters"} JSON object`,
	FormatLlama3XBuiltinTools:   "Llama 3.x plus <|python_tag|> built-in tool calls",
	FormatDeepSeekR1:            "Full-width delimited calls with json code fences",
	FormatFireFunctionV2:        "functools followed by a JSON array",
	FormatFunctionaryV32:        ">>>recipient segments",
	FormatFunctionaryV31Llama31: "<function=name>{...}</function> and <|python_tag|>",
	FormatHermes2Pro:            "<tool_call> XML tags around JSON",
	FormatCommandR7B:            "Thinking, action and response segments",
}

var formatModels = [...][]string{
	FormatContentOnly:           nil,
	FormatGeneric:               {"*"},
	FormatMistralNemo:           {"mistral-nemo"},
	FormatLlama3X:               {"llama-3.1", "llama-3.2", "llama-3.3"},
	FormatLlama3XBuiltinTools:   {"llama-3.1", "llama-3.3"},
	FormatDeepSeekR1:            {"deepseek-r1-distill"},
	FormatFireFunctionV2:        {"firefunction-v2"},
	FormatFunctionaryV32:        {"functionary-medium-v3.2", "functionary-small-v3.2"},
	FormatFunctionaryV31Llama31: {"functionary-medium-v3.1"},
	FormatHermes2Pro:            {"hermes-2-pro", "hermes-3", "qwen2.5"},
	FormatCommandR7B:            {"command-r7b"},
}

var (
	_ = [1]struct{}{}[len(formatDescriptions)-int(formatCount)]
	_ = [1]struct{}{}[len(formatModels)-int(formatCount)]
)

// ListFormatters returns information about all available formatters
func ListFormatters() []FormatterInfo {
	infos := make([]FormatterInfo, 0, formatCount)
	for _, f := range All() {
		infos = append(infos, FormatterInfo{
			Format:      f,
			Name:        f.String(),
			Code:        f.Code(),
			Description: formatDescriptions[f],
			Models:      formatModels[f],
		})
	}
	return infos
}
