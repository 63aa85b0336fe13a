// Package logits implements the token sampler that drives generation after a
// chat request has been compiled: logit filters, the sampling chain, and the
// grammars used for constrained decoding.
package logits

import (
	"math"
)

// NegativeInfinity is used to ban tokens by setting their logit to -inf
var NegativeInfinity = float32(math.Inf(-1))

// LogitFilter modifies logits before sampling.
// To ban a token, set its logit to NegativeInfinity.
type LogitFilter interface {
	// Name returns the filter's identifier
	Name() string

	// Apply modifies logits in place. history holds the accepted tokens,
	// oldest first.
	Apply(logits []float32, history []int32)
}

// TokenBanFilter bans a fixed set of tokens.
type TokenBanFilter struct {
	name         string
	bannedTokens map[int32]bool
}

// NewTokenBanFilter creates a filter that bans the specified token IDs.
func NewTokenBanFilter(name string, bannedTokenIDs []int32) *TokenBanFilter {
	banned := make(map[int32]bool, len(bannedTokenIDs))
	for _, id := range bannedTokenIDs {
		banned[id] = true
	}
	return &TokenBanFilter{name: name, bannedTokens: banned}
}

// Name returns the filter name.
func (f *TokenBanFilter) Name() string { return f.name }

// Apply sets banned tokens to -inf.
func (f *TokenBanFilter) Apply(logits []float32, _ []int32) {
	for id := range f.bannedTokens {
		if id >= 0 && int(id) < len(logits) {
			logits[id] = NegativeInfinity
		}
	}
}

// AddBannedToken adds a token to the ban list.
func (f *TokenBanFilter) AddBannedToken(tokenID int32) {
	f.bannedTokens[tokenID] = true
}

// RemoveBannedToken removes a token from the ban list.
func (f *TokenBanFilter) RemoveBannedToken(tokenID int32) {
	delete(f.bannedTokens, tokenID)
}

// LogitBiasFilter adds fixed biases to token logits.
type LogitBiasFilter struct {
	biases map[int32]float32
}

// NewLogitBiasFilter creates a filter with the given token biases.
func NewLogitBiasFilter(biases map[int32]float32) *LogitBiasFilter {
	b := make(map[int32]float32, len(biases))
	for id, v := range biases {
		b[id] = v
	}
	return &LogitBiasFilter{biases: b}
}

// Name returns the filter name.
func (f *LogitBiasFilter) Name() string { return "logit_bias" }

// Apply adds each bias to its token's logit.
func (f *LogitBiasFilter) Apply(logits []float32, _ []int32) {
	for id, bias := range f.biases {
		if id >= 0 && int(id) < len(logits) {
			logits[id] += bias
		}
	}
}

// SetBias sets the bias for a token.
func (f *LogitBiasFilter) SetBias(tokenID int32, bias float32) {
	f.biases[tokenID] = bias
}

// PenaltyFilter penalizes tokens that occur in the last Window accepted
// tokens. A window of zero or less covers the whole history.
type PenaltyFilter struct {
	Window     int
	Repetition float32
	Frequency  float32
	Presence   float32
}

// Name returns the filter name.
func (f *PenaltyFilter) Name() string { return "penalties" }

// Active reports whether any penalty would change a logit.
func (f *PenaltyFilter) Active() bool {
	return (f.Repetition != 0 && f.Repetition != 1) || f.Frequency != 0 || f.Presence != 0
}

// Apply divides positive logits (and multiplies negative ones) of repeated
// tokens by the repetition penalty, then subtracts the frequency penalty per
// occurrence and the presence penalty once.
func (f *PenaltyFilter) Apply(logits []float32, history []int32) {
	if !f.Active() || len(history) == 0 {
		return
	}
	if f.Window > 0 && len(history) > f.Window {
		history = history[len(history)-f.Window:]
	}

	counts := make(map[int32]int, len(history))
	for _, id := range history {
		counts[id]++
	}

	for id, n := range counts {
		if id < 0 || int(id) >= len(logits) {
			continue
		}
		l := logits[id]
		if f.Repetition != 0 && f.Repetition != 1 {
			if l <= 0 {
				l *= f.Repetition
			} else {
				l /= f.Repetition
			}
		}
		l -= float32(n)*f.Frequency + f.Presence
		logits[id] = l
	}
}
