package logits

import (
	"testing"
)

func TestTokenBanFilter(t *testing.T) {
	f := NewTokenBanFilter("ban", []int32{1, 3, 99})
	logits := []float32{1, 2, 3, 4}
	f.Apply(logits, nil)

	if logits[1] != NegativeInfinity || logits[3] != NegativeInfinity {
		t.Errorf("expected tokens 1 and 3 banned, got %v", logits)
	}
	if logits[0] != 1 || logits[2] != 3 {
		t.Errorf("unbanned tokens changed: %v", logits)
	}
}

func TestTokenBanFilterAddRemove(t *testing.T) {
	f := NewTokenBanFilter("ban", nil)
	f.AddBannedToken(0)
	f.AddBannedToken(2)
	f.RemoveBannedToken(0)

	logits := []float32{1, 1, 1}
	f.Apply(logits, nil)
	if logits[0] == NegativeInfinity {
		t.Error("removed token still banned")
	}
	if logits[2] != NegativeInfinity {
		t.Error("added token not banned")
	}
}

func TestLogitBiasFilter(t *testing.T) {
	biases := map[int32]float32{0: 1.5, 2: -2}
	f := NewLogitBiasFilter(biases)
	biases[0] = 100

	logits := []float32{1, 1, 1}
	f.Apply(logits, nil)
	if logits[0] != 2.5 || logits[1] != 1 || logits[2] != -1 {
		t.Errorf("unexpected logits %v", logits)
	}

	f.SetBias(1, 0.5)
	f.Apply(logits, nil)
	if logits[1] != 1.5 {
		t.Errorf("expected SetBias to apply, got %v", logits[1])
	}
}

func TestPenaltyFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  PenaltyFilter
		history []int32
		want    []float32
	}{
		{
			name:    "repetition divides positive and multiplies negative",
			filter:  PenaltyFilter{Repetition: 2},
			history: []int32{0, 1},
			want:    []float32{2, -2, 1},
		},
		{
			name:    "frequency and presence",
			filter:  PenaltyFilter{Frequency: 0.5, Presence: 1},
			history: []int32{2, 2, 2},
			want:    []float32{4, -1, -1.5},
		},
		{
			name:    "window limits history",
			filter:  PenaltyFilter{Window: 1, Presence: 1},
			history: []int32{0, 2},
			want:    []float32{4, -1, 0},
		},
		{
			name:    "inactive",
			filter:  PenaltyFilter{Repetition: 1},
			history: []int32{0},
			want:    []float32{4, -1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logits := []float32{4, -1, 1}
			tt.filter.Apply(logits, tt.history)
			for i := range tt.want {
				if logits[i] != tt.want[i] {
					t.Errorf("logit %d: expected %v, got %v", i, tt.want[i], logits[i])
				}
			}
		})
	}
}
