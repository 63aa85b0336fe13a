package bridge

import (
	"fmt"

	"github.com/soypete/llamabridge/pkg/handle"
	"github.com/soypete/llamabridge/pkg/logits"
	"github.com/soypete/llamabridge/pkg/speculative"
)

// Model is what a sampler needs to know about the model it samples for.
type Model interface {
	VocabSize() int
}

// SamplingParamsInit creates sampling params initialised from the bridge's
// defaults.
func (b *Bridge) SamplingParamsInit() handle.Handle {
	return b.samplingParams.Insert(b.samplerDefaults.Clone())
}

// SamplingParamsFree releases sampling params. Samplers created from them
// keep their own copy.
func (b *Bridge) SamplingParamsFree(h handle.Handle) error {
	if _, err := b.samplingParams.Remove(h); err != nil {
		return fmt.Errorf("sampling params free: %w", err)
	}
	return nil
}

func (b *Bridge) setParam(name string, h handle.Handle, set func(*logits.SamplerConfig)) error {
	cfg, err := b.samplingParams.Get(h)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	set(cfg)
	return nil
}

// SetFrequencyPenalty sets the frequency penalty.
func (b *Bridge) SetFrequencyPenalty(h handle.Handle, v float32) error {
	return b.setParam("frequency_penalty", h, func(c *logits.SamplerConfig) { c.FrequencyPenalty = v })
}

// SetPresencePenalty sets the presence penalty.
func (b *Bridge) SetPresencePenalty(h handle.Handle, v float32) error {
	return b.setParam("presence_penalty", h, func(c *logits.SamplerConfig) { c.PresencePenalty = v })
}

// SetSeed sets the seed. logits.RandomSeed picks one per sampler.
func (b *Bridge) SetSeed(h handle.Handle, seed uint32) error {
	return b.setParam("seed", h, func(c *logits.SamplerConfig) { c.Seed = seed })
}

// SetTemperature sets the temperature.
func (b *Bridge) SetTemperature(h handle.Handle, v float32) error {
	return b.setParam("temperature", h, func(c *logits.SamplerConfig) { c.Temperature = v })
}

// SetTopP sets the nucleus sampling threshold.
func (b *Bridge) SetTopP(h handle.Handle, v float32) error {
	return b.setParam("top_p", h, func(c *logits.SamplerConfig) { c.TopP = v })
}

// SamplerInit creates a sampler for m from the sampling params behind
// params. grammar may be nil.
func (b *Bridge) SamplerInit(m Model, params handle.Handle, grammar logits.Grammar) (handle.Handle, error) {
	cfg, err := b.samplingParams.Get(params)
	if err != nil {
		return 0, fmt.Errorf("sampler init: %w", err)
	}
	s, err := logits.NewSampler(m.VocabSize(), cfg, grammar)
	if err != nil {
		return 0, fmt.Errorf("sampler init: %w", err)
	}
	return b.samplers.Insert(s), nil
}

func (b *Bridge) sampler(op string, h handle.Handle) (*logits.Sampler, error) {
	s, err := b.samplers.Get(h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// SamplerAccept records token as generated, advancing the grammar when
// acceptGrammar is set.
func (b *Bridge) SamplerAccept(h handle.Handle, token int32, acceptGrammar bool) error {
	s, err := b.sampler("sampler accept", h)
	if err != nil {
		return err
	}
	s.Accept(token, acceptGrammar)
	return nil
}

// SamplerReset clears the sampler's history and grammar state.
func (b *Bridge) SamplerReset(h handle.Handle) error {
	s, err := b.sampler("sampler reset", h)
	if err != nil {
		return err
	}
	s.Reset()
	return nil
}

// SamplerClone returns a handle to an independent copy of the sampler.
func (b *Bridge) SamplerClone(h handle.Handle) (handle.Handle, error) {
	s, err := b.sampler("sampler clone", h)
	if err != nil {
		return 0, err
	}
	return b.samplers.Insert(s.Clone()), nil
}

// SamplerSample picks a token from the logits at idx of ctx.
func (b *Bridge) SamplerSample(h handle.Handle, ctx logits.Context, idx int, grammarFirst bool) (int32, error) {
	s, err := b.sampler("sampler sample", h)
	if err != nil {
		return 0, err
	}
	return s.Sample(ctx, idx, grammarFirst)
}

// SamplerCandidates returns the candidates of the sampler's last draw.
func (b *Bridge) SamplerCandidates(h handle.Handle) ([]logits.Candidate, error) {
	s, err := b.sampler("sampler candidates", h)
	if err != nil {
		return nil, err
	}
	return s.Candidates(), nil
}

// SamplerFree releases a sampler.
func (b *Bridge) SamplerFree(h handle.Handle) error {
	if _, err := b.samplers.Remove(h); err != nil {
		return fmt.Errorf("sampler free: %w", err)
	}
	return nil
}

// SpeculativeCompatible reports whether draft can propose tokens for target.
func (b *Bridge) SpeculativeCompatible(target, draft speculative.Vocab) bool {
	if err := speculative.Check(target, draft); err != nil {
		b.logger.Printf("bridge: %v", err)
		return false
	}
	return true
}
