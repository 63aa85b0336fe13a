package chattemplate

import (
	"fmt"

	"github.com/soypete/llamabridge/pkg/chat"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

// Params is the result of compiling one chat request: the rendered prompt,
// the format its completion must be parsed with, and the constrained
// decoding hints that go with that format. Params is immutable.
type Params struct {
	prompt            string
	format            toolformat.Format
	grammarTriggers   []string
	grammarLazy       bool
	additionalStops   []string
	parallelToolCalls bool
	toolChoice        chat.ToolChoice
	set               *TemplateSet
}

// Prompt returns the rendered prompt.
func (p *Params) Prompt() string { return p.prompt }

// Format returns the format to parse the completion with.
func (p *Params) Format() toolformat.Format { return p.format }

// PromptLen returns the prompt length in bytes, excluding the terminator
// FillPrompt writes.
func (p *Params) PromptLen() int { return len(p.prompt) }

// FillPrompt copies the prompt followed by a NUL byte into buf and returns
// the number of prompt bytes written. A buffer shorter than PromptLen()+1
// yields a *BufferTooSmallError and is left untouched.
func (p *Params) FillPrompt(buf []byte) (int, error) {
	return CopyTerminated(buf, p.prompt)
}

// GrammarTriggers returns the words that activate a lazy grammar.
func (p *Params) GrammarTriggers() []string { return append([]string(nil), p.grammarTriggers...) }

// GrammarLazy reports whether constrained decoding waits for a trigger word.
func (p *Params) GrammarLazy() bool { return p.grammarLazy }

// AdditionalStops returns stop strings beyond the model's end-of-turn token.
func (p *Params) AdditionalStops() []string { return append([]string(nil), p.additionalStops...) }

// ParallelToolCalls reports the negotiated parallel tool call flag.
func (p *Params) ParallelToolCalls() bool { return p.parallelToolCalls }

// ToolChoice reports the negotiated tool choice.
func (p *Params) ToolChoice() chat.ToolChoice { return p.toolChoice }

// TemplateSet returns the set the params were compiled from.
func (p *Params) TemplateSet() *TemplateSet { return p.set }

// BufferTooSmallError reports a caller buffer that cannot hold the output.
type BufferTooSmallError struct {
	Required int
	Got      int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("buffer too small: need %d bytes, got %d", e.Required, e.Got)
}

// CopyTerminated copies s and a trailing NUL byte into dst.
func CopyTerminated(dst []byte, s string) (int, error) {
	if len(dst) < len(s)+1 {
		return 0, &BufferTooSmallError{Required: len(s) + 1, Got: len(dst)}
	}
	n := copy(dst, s)
	dst[n] = 0
	return n, nil
}

// Compile decodes a JSON chat request and renders it with ts.
//
// The request's wishes are reconciled with the template's capabilities
// first: parallel tool calls the template cannot express are turned off and
// an unsupported tool choice falls back to "auto". Neither is an error.
// A request without tools, or with tool_choice "none", compiles to the
// content-only format.
func Compile(ts *TemplateSet, payload []byte) (*Params, error) {
	req, err := chat.DecodeRequest(payload)
	if err != nil {
		return nil, fmt.Errorf("compile chat request: %w", err)
	}
	return CompileRequest(ts, req)
}

// CompileRequest renders an already decoded request.
func CompileRequest(ts *TemplateSet, req *chat.Request) (*Params, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("compile chat request: %w", chat.ErrEmptyMessages)
	}

	withTools := len(req.Tools) > 0
	src := ts.Source(withTools)
	fam := detectFamily(src)
	caps := capabilitiesOf(src)

	format := caps.Format
	if caps.BuiltinTools && hasBuiltinTool(req.Tools) {
		format = toolformat.FormatLlama3XBuiltinTools
	}

	parallel := req.ParallelToolCalls
	if parallel && !caps.ParallelToolCalls {
		ts.logger.Printf("chattemplate: %s: template does not support parallel tool calls, disabling", ts.modelName)
		parallel = false
	}
	choice := negotiateToolChoice(caps, req.ToolChoice)
	if choice != req.ToolChoice {
		ts.logger.Printf("chattemplate: %s: tool_choice %q not supported, using %q", ts.modelName, req.ToolChoice, choice)
	}

	fmtr, err := format.Formatter()
	if err != nil {
		return nil, fmt.Errorf("compile chat request: %w", err)
	}

	toolsActive := withTools && choice != chat.ToolChoiceNone
	toolPrompt := ""
	if toolsActive {
		toolPrompt = fmtr.FormatToolsPrompt(req.Tools, toolformat.PromptOptions{
			ParallelToolCalls: parallel,
			ToolChoice:        choice,
		})
	}

	var prompt string
	if j := ts.engine(withTools); j != nil {
		in := jinjaInput{
			messages:            req.Messages,
			toolPrompt:          toolPrompt,
			native:              fam.native,
			formatter:           fmtr,
			addGenerationPrompt: req.AddGenerationPrompt,
			bos:                 ts.bos,
			eos:                 ts.eos,
		}
		if toolsActive {
			in.tools = req.Tools
		}
		if fam.native && j.readsTools {
			in.toolPrompt = ""
		}
		prompt, err = j.render(in)
	} else {
		prompt, err = render(fam.style, renderData{
			Messages:            buildTurns(req.Messages, fmtr, toolPrompt),
			AddGenerationPrompt: req.AddGenerationPrompt,
			BOS:                 ts.bos,
			EOS:                 ts.eos,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("compile chat request: %w", err)
	}

	p := &Params{
		prompt:            prompt,
		format:            toolformat.FormatContentOnly,
		parallelToolCalls: parallel,
		toolChoice:        choice,
		set:               ts,
	}
	if toolsActive {
		p.format = format
		p.grammarTriggers = fmtr.GrammarTriggers()
		p.grammarLazy = choice != chat.ToolChoiceRequired && len(p.grammarTriggers) > 0
		p.additionalStops = fmtr.AdditionalStops()
	}
	return p, nil
}

func negotiateToolChoice(caps Capabilities, choice chat.ToolChoice) chat.ToolChoice {
	if caps.SupportsToolChoice(choice) {
		return choice
	}
	return chat.ToolChoiceAuto
}
