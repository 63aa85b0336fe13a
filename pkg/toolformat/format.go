// Package toolformat encodes and decodes the textual tool-call conventions
// used by different model families.
//
// Every convention is identified by a Format. The Format chosen when a prompt
// is compiled must be handed back unchanged when the completion is parsed, so
// that the same convention governs both directions.
package toolformat

import (
	"errors"
	"fmt"

	"github.com/soypete/llamabridge/pkg/chat"
)

// Format identifies one tool-call convention.
type Format uint8

const (
	FormatContentOnly Format = iota
	FormatGeneric
	FormatMistralNemo
	FormatLlama3X
	FormatLlama3XBuiltinTools
	FormatDeepSeekR1
	FormatFireFunctionV2
	FormatFunctionaryV32
	FormatFunctionaryV31Llama31
	FormatHermes2Pro
	FormatCommandR7B

	// formatCount bounds the enumeration; it is never a valid format.
	formatCount
)

var formatNames = [...]string{
	FormatContentOnly:           "content-only",
	FormatGeneric:               "generic",
	FormatMistralNemo:           "mistral-nemo",
	FormatLlama3X:               "llama-3.x",
	FormatLlama3XBuiltinTools:   "llama-3.x-builtin-tools",
	FormatDeepSeekR1:            "deepseek-r1",
	FormatFireFunctionV2:        "firefunction-v2",
	FormatFunctionaryV32:        "functionary-v3.2",
	FormatFunctionaryV31Llama31: "functionary-v3.1-llama-3.1",
	FormatHermes2Pro:            "hermes-2-pro",
	FormatCommandR7B:            "command-r7b",
}

var formatters = [...]ToolFormatter{
	FormatContentOnly:           NewContentOnlyFormatter(),
	FormatGeneric:               NewGenericFormatter(),
	FormatMistralNemo:           NewMistralNemoFormatter(),
	FormatLlama3X:               NewLlamaFormatter(false),
	FormatLlama3XBuiltinTools:   NewLlamaFormatter(true),
	FormatDeepSeekR1:            NewDeepSeekR1Formatter(),
	FormatFireFunctionV2:        NewFireFunctionFormatter(),
	FormatFunctionaryV32:        NewFunctionaryV32Formatter(),
	FormatFunctionaryV31Llama31: NewFunctionaryV31Formatter(),
	FormatHermes2Pro:            NewHermesFormatter(),
	FormatCommandR7B:            NewCommandR7BFormatter(),
}

// Both tables must cover exactly formatCount entries; a new format that is
// missing from either table fails to compile here.
var (
	_ = [1]struct{}{}[len(formatNames)-int(formatCount)]
	_ = [1]struct{}{}[len(formatters)-int(formatCount)]
)

var (
	// ErrUnknownFormat is returned for a format code or name outside the enumeration.
	ErrUnknownFormat = errors.New("unknown chat format")

	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("parse error")
)

// ParseError reports completion text that does not follow its format's convention.
type ParseError struct {
	Format Format
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s output: %s", e.Format, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying decode error, if any.
func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) true for every ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErr(f Format, reason string, err error) error {
	return &ParseError{Format: f, Reason: reason, Err: err}
}

// Valid reports whether f is a member of the enumeration.
func (f Format) Valid() bool { return f < formatCount }

func (f Format) String() string {
	if !f.Valid() {
		return fmt.Sprintf("format(%d)", uint8(f))
	}
	return formatNames[f]
}

// Code returns the integer used for f at the bridge boundary.
func (f Format) Code() int32 { return int32(f) }

// FromCode converts a boundary integer back into a Format.
func FromCode(code int32) (Format, error) {
	if code < 0 || code >= int32(formatCount) {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownFormat, code)
	}
	return Format(code), nil
}

// ParseName looks a format up by its name, e.g. "hermes-2-pro".
func ParseName(name string) (Format, error) {
	for i, n := range formatNames {
		if n == name {
			return Format(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// All returns every format in enumeration order.
func All() []Format {
	out := make([]Format, 0, formatCount)
	for f := Format(0); f < formatCount; f++ {
		out = append(out, f)
	}
	return out
}

// Formatter returns the convention implementation for f.
func (f Format) Formatter() (ToolFormatter, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, uint8(f))
	}
	return formatters[f], nil
}

// Parse turns raw completion text into an assistant message using the
// convention of f. Text without any tool-call markup is a plain reply, not an
// error; markup that is present but malformed yields a *ParseError.
func Parse(text string, f Format) (*chat.Message, error) {
	formatter, err := f.Formatter()
	if err != nil {
		return nil, err
	}
	return formatter.Parse(text)
}
