package logits

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

var (
	// ErrVocabMismatch is returned when the logits row does not match the
	// sampler's vocabulary size.
	ErrVocabMismatch = errors.New("logits do not match vocabulary size")

	// ErrNoCandidates is returned when filters and grammar leave nothing to
	// sample from.
	ErrNoCandidates = errors.New("no candidate tokens left")
)

// Context gives the sampler access to the logits of an evaluated batch.
type Context interface {
	// Logits returns the logits row for output index idx. A negative idx
	// counts from the end of the batch.
	Logits(idx int) ([]float32, error)
}

// Candidate is one token considered in the last Sample call.
type Candidate struct {
	ID    int32
	Logit float32
	P     float32
}

// Sampler turns logits into tokens. It keeps the accepted history for the
// penalties, an optional grammar, and its own random source. A Sampler is
// not safe for concurrent use; Clone it instead.
type Sampler struct {
	cfg       *SamplerConfig
	vocabSize int
	filters   []LogitFilter
	penalties *PenaltyFilter
	grammar   Grammar
	history   []int32

	seed uint64
	pcg  *rand.PCG
	rng  *rand.Rand

	candidates []Candidate
}

// NewSampler creates a sampler over a vocabulary of vocabSize tokens.
// grammar may be nil.
func NewSampler(vocabSize int, cfg *SamplerConfig, grammar Grammar) (*Sampler, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("create sampler: vocabulary size %d", vocabSize)
	}
	if cfg == nil {
		cfg = DefaultSamplerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}
	cfg = cfg.Clone()

	s := &Sampler{
		cfg:       cfg,
		vocabSize: vocabSize,
		grammar:   grammar,
		penalties: &PenaltyFilter{
			Window:     cfg.RepetitionWindow,
			Repetition: cfg.RepetitionPenalty,
			Frequency:  cfg.FrequencyPenalty,
			Presence:   cfg.PresencePenalty,
		},
	}
	if len(cfg.LogitBias) > 0 {
		s.filters = append(s.filters, NewLogitBiasFilter(cfg.LogitBias))
	}
	s.filters = append(s.filters, s.penalties)

	s.seed = uint64(cfg.Seed)
	if cfg.Seed == RandomSeed {
		s.seed = rand.Uint64()
	}
	s.pcg = rand.NewPCG(s.seed, s.seed)
	s.rng = rand.New(s.pcg)
	return s, nil
}

// AddFilter appends a filter that runs after the logit bias and penalties.
func (s *Sampler) AddFilter(f LogitFilter) {
	s.filters = append(s.filters, f)
}

// Config returns a copy of the sampler's configuration.
func (s *Sampler) Config() *SamplerConfig { return s.cfg.Clone() }

// Seed returns the seed the random source was initialised with.
func (s *Sampler) Seed() uint64 { return s.seed }

// History returns the accepted tokens, oldest first.
func (s *Sampler) History() []int32 { return slices.Clone(s.history) }

// Accept records token as generated. When acceptGrammar is set the grammar
// advances too.
func (s *Sampler) Accept(token int32, acceptGrammar bool) {
	if acceptGrammar && s.grammar != nil {
		s.grammar.Accept(token)
	}
	s.history = append(s.history, token)
	if w := s.cfg.RepetitionWindow; w > 0 && len(s.history) > 4*w {
		s.history = slices.Clone(s.history[len(s.history)-w:])
	}
}

// Reset clears the history and the grammar and reseeds the random source
// with the initial seed.
func (s *Sampler) Reset() {
	s.history = s.history[:0]
	if s.grammar != nil {
		s.grammar.Reset()
	}
	s.pcg.Seed(s.seed, s.seed)
	s.candidates = nil
}

// Clone returns an independent sampler with the same history, grammar state
// and random state.
func (s *Sampler) Clone() *Sampler {
	pcg := *s.pcg
	c := &Sampler{
		cfg:        s.cfg.Clone(),
		vocabSize:  s.vocabSize,
		history:    slices.Clone(s.history),
		seed:       s.seed,
		pcg:        &pcg,
		candidates: slices.Clone(s.candidates),
	}
	c.rng = rand.New(c.pcg)
	c.penalties = &PenaltyFilter{
		Window:     s.penalties.Window,
		Repetition: s.penalties.Repetition,
		Frequency:  s.penalties.Frequency,
		Presence:   s.penalties.Presence,
	}
	for _, f := range s.filters {
		if f == LogitFilter(s.penalties) {
			c.filters = append(c.filters, c.penalties)
			continue
		}
		c.filters = append(c.filters, f)
	}
	if s.grammar != nil {
		c.grammar = s.grammar.Clone()
	}
	return c
}

// Candidates returns the candidates of the last Sample call, most likely
// first, with their probabilities after the sampling chain.
func (s *Sampler) Candidates() []Candidate { return slices.Clone(s.candidates) }

// Sample picks the next token from the logits at idx. It does not accept the
// token.
//
// With grammarFirst the grammar masks the candidates before the chain runs.
// Otherwise the chain runs unconstrained and the pick is checked against the
// grammar afterwards; a rejected pick is resampled with the grammar applied.
func (s *Sampler) Sample(ctx Context, idx int, grammarFirst bool) (int32, error) {
	row, err := ctx.Logits(idx)
	if err != nil {
		return 0, fmt.Errorf("sample: %w", err)
	}
	if len(row) != s.vocabSize {
		return 0, fmt.Errorf("sample: %w: got %d, want %d", ErrVocabMismatch, len(row), s.vocabSize)
	}

	useGrammar := s.grammar != nil && grammarFirst
	tok, err := s.sample(row, useGrammar)
	if err != nil {
		return 0, err
	}
	if s.grammar == nil || grammarFirst || s.grammar.Allows(tok) {
		return tok, nil
	}
	return s.sample(row, true)
}

func (s *Sampler) sample(row []float32, useGrammar bool) (int32, error) {
	logits := slices.Clone(row)
	for _, f := range s.filters {
		f.Apply(logits, s.history)
	}

	cands := make([]Candidate, 0, len(logits))
	for id, l := range logits {
		if math.IsInf(float64(l), -1) || math.IsNaN(float64(l)) {
			continue
		}
		if useGrammar && !s.grammar.Allows(int32(id)) {
			continue
		}
		cands = append(cands, Candidate{ID: int32(id), Logit: l})
	}
	if len(cands) == 0 {
		s.candidates = nil
		return 0, fmt.Errorf("sample: %w", ErrNoCandidates)
	}
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		switch {
		case a.Logit > b.Logit:
			return -1
		case a.Logit < b.Logit:
			return 1
		default:
			return 0
		}
	})

	for _, stage := range s.cfg.order() {
		switch stage {
		case StageTopK:
			if k := s.cfg.TopK; k > 0 && k < len(cands) {
				cands = cands[:k]
			}
		case StageTopP:
			cands = topP(cands, s.cfg.TopP)
		case StageMinP:
			cands = minP(cands, s.cfg.MinP)
		case StageTemperature:
			if t := s.cfg.Temperature; t > 0 {
				for i := range cands {
					cands[i].Logit /= t
				}
			}
		}
	}

	softmax(cands)
	s.candidates = cands

	if s.cfg.Temperature <= 0 {
		return cands[0].ID, nil
	}
	r := s.rng.Float32()
	var cum float32
	for _, c := range cands {
		cum += c.P
		if r < cum {
			return c.ID, nil
		}
	}
	return cands[len(cands)-1].ID, nil
}

// softmax fills P for candidates sorted by descending logit.
func softmax(cands []Candidate) {
	maxL := float64(cands[0].Logit)
	var sum float64
	for i := range cands {
		e := math.Exp(float64(cands[i].Logit) - maxL)
		cands[i].P = float32(e)
		sum += e
	}
	for i := range cands {
		cands[i].P = float32(float64(cands[i].P) / sum)
	}
}

func topP(cands []Candidate, p float32) []Candidate {
	if p <= 0 || p >= 1 || len(cands) <= 1 {
		return cands
	}
	softmax(cands)
	var cum float32
	for i, c := range cands {
		cum += c.P
		if cum >= p {
			return cands[:i+1]
		}
	}
	return cands
}

func minP(cands []Candidate, p float32) []Candidate {
	if p <= 0 || len(cands) <= 1 {
		return cands
	}
	floor := cands[0].Logit + float32(math.Log(float64(p)))
	for i, c := range cands {
		if c.Logit < floor {
			return cands[:i]
		}
	}
	return cands
}
