package logits

import (
	"errors"
	"testing"
)

// staticContext serves the same logits row for every index.
type staticContext struct {
	row []float32
	err error
}

func (c staticContext) Logits(int) ([]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]float32(nil), c.row...), nil
}

func seeded(seed uint32) *SamplerConfig {
	cfg := DefaultSamplerConfig()
	cfg.Seed = seed
	return cfg
}

func TestDefaultSamplerConfig(t *testing.T) {
	cfg := DefaultSamplerConfig()

	if cfg.Temperature != 0.8 {
		t.Errorf("expected default temperature 0.8, got %f", cfg.Temperature)
	}
	if cfg.TopK != 40 {
		t.Errorf("expected default top_k 40, got %d", cfg.TopK)
	}
	if cfg.TopP != 0.95 {
		t.Errorf("expected default top_p 0.95, got %f", cfg.TopP)
	}
	if cfg.Seed != RandomSeed {
		t.Errorf("expected random seed, got %d", cfg.Seed)
	}
}

func TestSamplerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *SamplerConfig
		wantErr bool
	}{
		{name: "valid default", config: DefaultSamplerConfig()},
		{name: "negative temperature", config: &SamplerConfig{Temperature: -1.0}, wantErr: true},
		{name: "negative top_k", config: &SamplerConfig{TopK: -1}, wantErr: true},
		{name: "top_p out of range", config: &SamplerConfig{TopP: 1.5}, wantErr: true},
		{name: "min_p out of range", config: &SamplerConfig{MinP: -0.1}, wantErr: true},
		{name: "negative repetition penalty", config: &SamplerConfig{RepetitionPenalty: -1}, wantErr: true},
		{name: "unknown stage", config: &SamplerConfig{SamplerOrder: []string{"mirostat"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSamplerConfigClone(t *testing.T) {
	original := DefaultSamplerConfig()
	original.LogitBias = map[int32]float32{1: 0.5}

	clone := original.Clone()
	clone.LogitBias[1] = 2
	clone.SamplerOrder[0] = StageTemperature

	if original.LogitBias[1] != 0.5 {
		t.Error("clone shares logit bias map with original")
	}
	if original.SamplerOrder[0] != StageTopK {
		t.Error("clone shares sampler order with original")
	}
}

func TestSamplerConfigMergeLogitBias(t *testing.T) {
	cfg := &SamplerConfig{}
	cfg.MergeLogitBias(map[int32]float32{3: -1})
	cfg.MergeLogitBias(map[int32]float32{3: 2, 4: 1})

	if cfg.LogitBias[3] != 2 || cfg.LogitBias[4] != 1 {
		t.Errorf("unexpected merged biases %v", cfg.LogitBias)
	}
}

func TestGetPreset(t *testing.T) {
	p, ok := GetPreset("deterministic")
	if !ok {
		t.Fatal("expected deterministic preset")
	}
	p.Temperature = 5
	if DeterministicConfig.Temperature != 0 {
		t.Error("GetPreset must return a copy")
	}
	if _, ok := GetPreset("missing"); ok {
		t.Error("expected unknown preset to be reported")
	}
	for _, name := range ListPresets() {
		cfg, _ := GetPreset(name)
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
}

func TestNewSamplerRejectsBadInput(t *testing.T) {
	if _, err := NewSampler(0, nil, nil); err == nil {
		t.Error("expected error for empty vocabulary")
	}
	if _, err := NewSampler(4, &SamplerConfig{TopP: 2}, nil); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestSampleGreedy(t *testing.T) {
	cfg := seeded(1)
	cfg.Temperature = 0
	s, err := NewSampler(4, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	tok, err := s.Sample(staticContext{row: []float32{0.1, 3, 1, 2}}, -1, false)
	if err != nil {
		t.Fatal(err)
	}
	if tok != 1 {
		t.Errorf("expected greedy pick 1, got %d", tok)
	}
	if c := s.Candidates(); len(c) == 0 || c[0].ID != 1 {
		t.Errorf("expected candidate list headed by 1, got %v", c)
	}
}

func TestSampleVocabMismatch(t *testing.T) {
	s, _ := NewSampler(4, seeded(1), nil)
	_, err := s.Sample(staticContext{row: []float32{1, 2}}, 0, false)
	if !errors.Is(err, ErrVocabMismatch) {
		t.Errorf("expected ErrVocabMismatch, got %v", err)
	}
}

func TestSampleContextError(t *testing.T) {
	s, _ := NewSampler(4, seeded(1), nil)
	boom := errors.New("no logits")
	_, err := s.Sample(staticContext{err: boom}, 0, false)
	if !errors.Is(err, boom) {
		t.Errorf("expected context error, got %v", err)
	}
}

func TestSampleLogitBias(t *testing.T) {
	cfg := seeded(1)
	cfg.Temperature = 0
	cfg.LogitBias = map[int32]float32{2: 10}
	s, _ := NewSampler(3, cfg, nil)

	tok, err := s.Sample(staticContext{row: []float32{1, 2, 0}}, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if tok != 2 {
		t.Errorf("expected biased token 2, got %d", tok)
	}
}

func TestSampleRepetitionPenalty(t *testing.T) {
	cfg := seeded(1)
	cfg.Temperature = 0
	cfg.RepetitionPenalty = 4
	s, _ := NewSampler(2, cfg, nil)

	row := staticContext{row: []float32{2, 1}}
	s.Accept(0, false)
	tok, err := s.Sample(row, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if tok != 1 {
		t.Errorf("expected penalized token 0 to lose, got %d", tok)
	}

	s.Reset()
	tok, _ = s.Sample(row, 0, false)
	if tok != 0 {
		t.Errorf("expected reset to clear penalties, got %d", tok)
	}
}

func TestSampleAllBanned(t *testing.T) {
	s, _ := NewSampler(2, seeded(1), nil)
	s.AddFilter(NewTokenBanFilter("all", []int32{0, 1}))
	_, err := s.Sample(staticContext{row: []float32{1, 1}}, 0, false)
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("expected ErrNoCandidates, got %v", err)
	}
}

func TestSampleSeedIsReproducible(t *testing.T) {
	row := staticContext{row: []float32{1, 1, 1, 1, 1, 1, 1, 1}}
	cfg := seeded(42)
	cfg.TopK = 0
	cfg.TopP = 1
	cfg.MinP = 0

	a, _ := NewSampler(8, cfg, nil)
	b, _ := NewSampler(8, cfg, nil)
	for i := 0; i < 20; i++ {
		ta, _ := a.Sample(row, 0, false)
		tb, _ := b.Sample(row, 0, false)
		if ta != tb {
			t.Fatalf("draw %d: %d != %d", i, ta, tb)
		}
	}
}

func TestSamplerResetRestoresSeed(t *testing.T) {
	row := staticContext{row: []float32{1, 1, 1, 1, 1, 1, 1, 1}}
	cfg := seeded(7)
	cfg.TopK = 0

	s, _ := NewSampler(8, cfg, nil)
	var first []int32
	for i := 0; i < 10; i++ {
		tok, _ := s.Sample(row, 0, false)
		first = append(first, tok)
	}
	s.Reset()
	for i := 0; i < 10; i++ {
		tok, _ := s.Sample(row, 0, false)
		if tok != first[i] {
			t.Fatalf("draw %d after reset: got %d, want %d", i, tok, first[i])
		}
	}
}

func TestSamplerCloneIsIndependent(t *testing.T) {
	row := staticContext{row: []float32{2, 1.5, 1, 0.5, 0.25, 0}}
	cfg := seeded(99)
	cfg.TopK = 0
	cfg.RepetitionPenalty = 1.5
	cfg.PresencePenalty = 0.5

	orig, _ := NewSampler(6, cfg, nil)
	ref, _ := NewSampler(6, cfg, nil)
	orig.Accept(1, true)
	ref.Accept(1, true)

	clone := orig.Clone()
	for i := int32(0); i < 6; i++ {
		clone.Accept(i, true)
		if _, err := clone.Sample(row, 0, false); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 10; i++ {
		a, _ := orig.Sample(row, 0, false)
		b, _ := ref.Sample(row, 0, false)
		if a != b {
			t.Fatalf("draw %d: original %d diverged from reference %d", i, a, b)
		}
		ca, cb := orig.Candidates(), ref.Candidates()
		if len(ca) != len(cb) {
			t.Fatalf("candidate counts differ: %d vs %d", len(ca), len(cb))
		}
		for j := range ca {
			if ca[j] != cb[j] {
				t.Fatalf("candidate %d differs: %+v vs %+v", j, ca[j], cb[j])
			}
		}
	}
	if got := len(orig.History()); got != 1 {
		t.Errorf("original history changed: %d tokens", got)
	}
}

func TestSamplerCloneContinuesRandomState(t *testing.T) {
	row := staticContext{row: []float32{1, 1, 1, 1, 1, 1, 1, 1}}
	cfg := seeded(3)
	cfg.TopK = 0

	s, _ := NewSampler(8, cfg, nil)
	s.Sample(row, 0, false)
	c := s.Clone()
	for i := 0; i < 10; i++ {
		a, _ := s.Sample(row, 0, false)
		b, _ := c.Sample(row, 0, false)
		if a != b {
			t.Fatalf("draw %d: clone %d differs from original %d", i, b, a)
		}
	}
}
