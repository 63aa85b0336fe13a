// Package ngram implements the n-gram lookup cache used for draft-free
// speculative decoding: counts of which token followed each short token
// sequence, persisted in the binary layout llama.cpp uses.
package ngram

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

const (
	// MinN and MaxN bound the n-gram sizes a cache can hold.
	MinN = 1
	MaxN = 4

	// StaticN is the n-gram size of static caches built from large corpora.
	StaticN = 2
)

// NullToken pads unused n-gram positions and signals "no draft".
const NullToken int32 = -1

// ErrInvalidSize is returned for n-gram bounds outside [MinN, MaxN].
var ErrInvalidSize = errors.New("invalid n-gram size")

// Ngram is a token sequence of up to MaxN tokens, padded with NullToken.
type Ngram [MaxN]int32

// NewNgram builds an n-gram from up to MaxN tokens.
func NewNgram(tokens ...int32) Ngram {
	ng := Ngram{NullToken, NullToken, NullToken, NullToken}
	copy(ng[:], tokens)
	return ng
}

// Len returns the number of tokens before the padding.
func (ng Ngram) Len() int {
	for i, t := range ng {
		if t == NullToken {
			return i
		}
	}
	return MaxN
}

func (ng Ngram) compare(o Ngram) int {
	return slices.Compare(ng[:], o[:])
}

// TokenCount is how often Token followed an n-gram.
type TokenCount struct {
	Token int32
	Count int32
}

// Cache maps n-grams to the counts of the tokens that followed them.
// It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	parts map[Ngram]map[int32]int32
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{parts: make(map[Ngram]map[int32]int32)}
}

// Len returns the number of distinct n-grams.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.parts)
}

// Lookup returns the followers of ng ordered by token id.
func (c *Cache) Lookup(ng Ngram) []TokenCount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedPart(c.parts[ng])
}

func sortedPart(part map[int32]int32) []TokenCount {
	if len(part) == 0 {
		return nil
	}
	out := make([]TokenCount, 0, len(part))
	for tok, n := range part {
		out = append(out, TokenCount{Token: tok, Count: n})
	}
	slices.SortFunc(out, func(a, b TokenCount) int { return int(a.Token) - int(b.Token) })
	return out
}

func checkSizes(ngramMin, ngramMax int) error {
	if ngramMin < MinN || ngramMax > MaxN || ngramMin > ngramMax {
		return fmt.Errorf("%w: [%d, %d] not within [%d, %d]", ErrInvalidSize, ngramMin, ngramMax, MinN, MaxN)
	}
	return nil
}

// Update counts the n-grams of sizes ngramMin..ngramMax that end just
// before each of the last nNew tokens of inp.
func (c *Cache) Update(ngramMin, ngramMax int, inp []int32, nNew int) error {
	if err := checkSizes(ngramMin, ngramMax); err != nil {
		return fmt.Errorf("update n-gram cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	size := len(inp)
	for n := ngramMin; n <= ngramMax; n++ {
		for i := max(size-nNew, n); i < size; i++ {
			ng := NewNgram(inp[i-n : i]...)
			part, ok := c.parts[ng]
			if !ok {
				part = make(map[int32]int32, 1)
				c.parts[ng] = part
			}
			part[inp[i]]++
		}
	}
	return nil
}

// Merge adds every count of add to c. The two caches are never locked at
// the same time, so concurrent merges in opposite directions are safe.
func (c *Cache) Merge(add *Cache) {
	snapshot := add.snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	for ng, part := range snapshot {
		merged, ok := c.parts[ng]
		if !ok {
			merged = make(map[int32]int32, len(part))
			c.parts[ng] = merged
		}
		for tok, n := range part {
			merged[tok] += n
		}
	}
}

func (c *Cache) snapshot() map[Ngram]map[int32]int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[Ngram]map[int32]int32, len(c.parts))
	for ng, part := range c.parts {
		cp := make(map[int32]int32, len(part))
		for tok, n := range part {
			cp[tok] = n
		}
		out[ng] = cp
	}
	return out
}
