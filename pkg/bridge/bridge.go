// Package bridge is the handle-based surface a host process drives: template
// sets, compiled chat params, response parsing, samplers and n-gram caches,
// each behind a generational handle instead of a shared pointer.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/soypete/llamabridge/pkg/chat"
	"github.com/soypete/llamabridge/pkg/chattemplate"
	"github.com/soypete/llamabridge/pkg/handle"
	"github.com/soypete/llamabridge/pkg/logits"
	"github.com/soypete/llamabridge/pkg/metrics"
	"github.com/soypete/llamabridge/pkg/ngram"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

// Handle kinds, one per table.
const (
	KindSamplingParams handle.Kind = iota + 1
	KindSampler
	KindTemplates
	KindChatParams
	KindNgramCache
)

// ErrTemplatesInUse is returned when a template set is freed while chat
// params compiled from it are still alive.
var ErrTemplatesInUse = errors.New("template set still referenced by compiled chat params")

// BufferTooSmallError reports a caller buffer that cannot hold the output
// plus its NUL terminator.
type BufferTooSmallError = chattemplate.BufferTooSmallError

type templateEntry struct {
	set     *chattemplate.TemplateSet
	borrows int
}

type chatParamsEntry struct {
	params    *chattemplate.Params
	templates handle.Handle
}

// Bridge owns every resource handed out across the boundary.
type Bridge struct {
	mu sync.Mutex // guards template borrow counts

	samplingParams *handle.Table[*logits.SamplerConfig]
	samplers       *handle.Table[*logits.Sampler]
	templates      *handle.Table[*templateEntry]
	chatParams     *handle.Table[*chatParamsEntry]
	ngramCaches    *handle.Table[*ngram.Cache]

	logger          *log.Logger
	samplerDefaults *logits.SamplerConfig
	newToolCallID   func() string
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger routes negotiation and lifecycle messages to l.
func WithLogger(l *log.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSamplerDefaults sets the values new sampling params start from.
func WithSamplerDefaults(cfg *logits.SamplerConfig) Option {
	return func(b *Bridge) {
		if cfg != nil {
			b.samplerDefaults = cfg.Clone()
		}
	}
}

// WithToolCallIDs assigns ids produced by next to parsed tool calls that
// carry none.
func WithToolCallIDs(next func() string) Option {
	return func(b *Bridge) { b.newToolCallID = next }
}

// WithUUIDToolCallIDs assigns random UUIDs to parsed tool calls that carry
// no id.
func WithUUIDToolCallIDs() Option {
	return WithToolCallIDs(uuid.NewString)
}

// New creates a bridge with empty tables.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		samplingParams:  handle.NewTable[*logits.SamplerConfig](KindSamplingParams, "sampling params"),
		samplers:        handle.NewTable[*logits.Sampler](KindSampler, "sampler"),
		templates:       handle.NewTable[*templateEntry](KindTemplates, "template set"),
		chatParams:      handle.NewTable[*chatParamsEntry](KindChatParams, "chat params"),
		ngramCaches:     handle.NewTable[*ngram.Cache](KindNgramCache, "ngram cache"),
		logger:          log.New(io.Discard, "", 0),
		samplerDefaults: logits.DefaultSamplerConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Live reports the number of live handles per resource, keyed by name.
func (b *Bridge) Live() map[string]int {
	return map[string]int{
		b.samplingParams.Name(): b.samplingParams.Len(),
		b.samplers.Name():       b.samplers.Len(),
		b.templates.Name():      b.templates.Len(),
		b.chatParams.Name():     b.chatParams.Len(),
		b.ngramCaches.Name():    b.ngramCaches.Len(),
	}
}

// TemplatesInit resolves the templates of m. name optionally overrides the
// model's default template.
func (b *Bridge) TemplatesInit(m chattemplate.Model, name string) (handle.Handle, error) {
	ts, err := chattemplate.NewTemplateSet(m, name, chattemplate.WithLogger(b.logger))
	if err != nil {
		return 0, fmt.Errorf("templates init: %w", err)
	}
	return b.templates.Insert(&templateEntry{set: ts}), nil
}

// TemplatesFree releases a template set. It fails with ErrTemplatesInUse
// while chat params compiled from the set are alive.
func (b *Bridge) TemplatesFree(h handle.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.templates.Get(h)
	if err != nil {
		return fmt.Errorf("templates free: %w", err)
	}
	if e.borrows > 0 {
		return fmt.Errorf("templates free: %w (%d alive)", ErrTemplatesInUse, e.borrows)
	}
	if _, err := b.templates.Remove(h); err != nil {
		return fmt.Errorf("templates free: %w", err)
	}
	return nil
}

// TemplatesCapabilities returns the tool-use capabilities of a template set.
func (b *Bridge) TemplatesCapabilities(h handle.Handle) (chattemplate.Capabilities, error) {
	e, err := b.templates.Get(h)
	if err != nil {
		return chattemplate.Capabilities{}, fmt.Errorf("templates capabilities: %w", err)
	}
	return e.set.Capabilities(), nil
}

// Compile renders a JSON chat request with the template set behind tmpl.
// The returned chat params borrow the template set until ParamsFree.
func (b *Bridge) Compile(tmpl handle.Handle, payload []byte) (handle.Handle, error) {
	b.mu.Lock()
	e, err := b.templates.Get(tmpl)
	if err != nil {
		b.mu.Unlock()
		return 0, fmt.Errorf("compile: %w", err)
	}
	e.borrows++
	b.mu.Unlock()

	params, err := chattemplate.Compile(e.set, payload)
	if err != nil {
		b.release(e)
		metrics.CompilesTotal.WithLabelValues("none", metrics.OutcomeError).Inc()
		return 0, err
	}
	metrics.CompilesTotal.WithLabelValues(params.Format().String(), metrics.OutcomeOK).Inc()
	metrics.PromptBytes.Observe(float64(params.PromptLen()))
	return b.chatParams.Insert(&chatParamsEntry{params: params, templates: tmpl}), nil
}

func (b *Bridge) release(e *templateEntry) {
	b.mu.Lock()
	e.borrows--
	b.mu.Unlock()
}

// ParamsFree releases compiled chat params and their borrow of the
// template set.
func (b *Bridge) ParamsFree(h handle.Handle) error {
	e, err := b.chatParams.Remove(h)
	if err != nil {
		return fmt.Errorf("params free: %w", err)
	}
	if te, err := b.templates.Get(e.templates); err == nil {
		b.release(te)
	}
	return nil
}

// Params returns the compiled chat params behind h for read-only use.
func (b *Bridge) Params(h handle.Handle) (*chattemplate.Params, error) {
	e, err := b.chatParams.Get(h)
	if err != nil {
		return nil, err
	}
	return e.params, nil
}

// PromptLength returns the prompt length in bytes, without the terminator.
func (b *Bridge) PromptLength(h handle.Handle) (int, error) {
	p, err := b.Params(h)
	if err != nil {
		return 0, fmt.Errorf("prompt length: %w", err)
	}
	return p.PromptLen(), nil
}

// PromptFill writes the prompt and a NUL byte into buf. buf must hold at
// least PromptLength()+1 bytes; a shorter buffer yields a
// *BufferTooSmallError and is left untouched.
func (b *Bridge) PromptFill(h handle.Handle, buf []byte) (int, error) {
	p, err := b.Params(h)
	if err != nil {
		return 0, fmt.Errorf("prompt fill: %w", err)
	}
	return p.FillPrompt(buf)
}

// Prompt returns the prompt as a string.
func (b *Bridge) Prompt(h handle.Handle) (string, error) {
	p, err := b.Params(h)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	return p.Prompt(), nil
}

// ParamsFormat returns the boundary code of the format the completion must
// be parsed with.
func (b *Bridge) ParamsFormat(h handle.Handle) (int32, error) {
	p, err := b.Params(h)
	if err != nil {
		return 0, fmt.Errorf("params format: %w", err)
	}
	return p.Format().Code(), nil
}

// ParseResponse parses a completion under the format with boundary code
// code and returns the message in canonical form.
func (b *Bridge) ParseResponse(text string, code int32) (string, error) {
	msg, err := b.parse(text, code)
	if err != nil {
		return "", err
	}
	return msg.Encode()
}

// ParseResponseInto is ParseResponse writing into buf with a NUL
// terminator. buf is left untouched when it is too small.
func (b *Bridge) ParseResponseInto(text string, code int32, buf []byte) (int, error) {
	out, err := b.ParseResponse(text, code)
	if err != nil {
		return 0, err
	}
	return chattemplate.CopyTerminated(buf, out)
}

// ParseMessage is ParseResponse without the final encoding.
func (b *Bridge) ParseMessage(text string, code int32) (*chat.Message, error) {
	return b.parse(text, code)
}

func (b *Bridge) parse(text string, code int32) (*chat.Message, error) {
	f, err := toolformat.FromCode(code)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	msg, err := toolformat.Parse(text, f)
	metrics.ParsesTotal.WithLabelValues(f.String(), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	metrics.ToolCallsTotal.WithLabelValues(f.String()).Add(float64(len(msg.ToolCalls)))
	if b.newToolCallID != nil {
		msg.AssignIDs(b.newToolCallID)
	}
	return msg, nil
}
