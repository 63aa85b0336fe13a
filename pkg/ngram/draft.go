package ngram

import (
	"errors"
	"fmt"
)

// ErrDraftSeed is returned when the draft does not start with exactly one
// token.
var ErrDraftSeed = errors.New("draft must hold exactly the last sampled token")

// Drafting thresholds per n-gram size. A candidate is dropped when fewer
// than minSampleSize observations back it or when it wins less than
// minPercent of them.
var (
	minSampleSizeLax    = [MaxN]int32{2, 2, 1, 1}
	minPercentLax       = [MaxN]int32{66, 50, 50, 50}
	minSampleSizeStrict = [MaxN]int32{4, 3, 2, 2}
	minPercentStrict    = [MaxN]int32{75, 66, 66, 66}
)

// Draft extends draft with up to nDraft tokens predicted from the caches.
//
// draft must hold one token on entry. inp is the sequence so far; n-grams
// run over inp followed by the tokens drafted after the seed. The context
// cache is consulted with lax thresholds, then the dynamic cache with strict
// ones, both weighted by the static cache, and finally the static cache on
// its own. Drafting stops at the first position none of them can fill.
func Draft(inp, draft []int32, nDraft, ngramMin, ngramMax int, context, dynamic, static *Cache) ([]int32, error) {
	if len(draft) != 1 {
		return draft, fmt.Errorf("draft n-grams: %w: got %d tokens", ErrDraftSeed, len(draft))
	}
	if err := checkSizes(ngramMin, ngramMax); err != nil {
		return draft, fmt.Errorf("draft n-grams: %w", err)
	}

	size := len(inp)
	if size < StaticN {
		return draft, nil
	}

	at := func(i int) int32 {
		if i < 0 {
			return NullToken
		}
		if i < size {
			return inp[i]
		}
		return draft[1+i-size]
	}
	window := func(n int) Ngram {
		start := size - n + len(draft) - 1
		ng := NewNgram()
		for j := 0; j < n; j++ {
			ng[j] = at(start + j)
		}
		return ng
	}

	for len(draft)-1 < nDraft {
		ngStatic := window(StaticN)
		partStatic := static.partCopy(ngStatic)

		ngrams := make([]Ngram, 0, ngramMax-ngramMin+1)
		for n := ngramMin; n <= ngramMax; n++ {
			ngrams = append(ngrams, window(n))
		}

		tok := tryDraft(context, ngrams, partStatic, minSampleSizeLax[:], minPercentLax[:])
		if tok == NullToken {
			tok = tryDraft(dynamic, ngrams, partStatic, minSampleSizeStrict[:], minPercentStrict[:])
		}
		if tok == NullToken {
			tok = tryDraftStatic(static, ngStatic)
		}
		if tok == NullToken {
			break
		}
		draft = append(draft, tok)
	}
	return draft, nil
}

func (c *Cache) partCopy(ng Ngram) map[int32]int32 {
	out := make(map[int32]int32)
	for _, tc := range c.Lookup(ng) {
		out[tc.Token] = tc.Count
	}
	return out
}

// tryDraftStatic drafts from the static cache alone.
func tryDraftStatic(static *Cache, ng Ngram) int32 {
	part := static.Lookup(ng)
	if len(part) == 0 {
		return NullToken
	}

	var maxCount, sum int32
	best := NullToken
	for _, tc := range part {
		if tc.Count > maxCount {
			best = tc.Token
			maxCount = tc.Count
		}
		sum += tc.Count
	}

	if sum < minSampleSizeLax[StaticN-1] {
		return NullToken
	}
	if 100*maxCount < minPercentLax[StaticN-1]*sum {
		return NullToken
	}
	return best
}

// tryDraft drafts from a primary cache, longest n-gram first. Counts are
// weighted by the static cache; tokens it has never seen weigh 1, others
// 100 per observation.
func tryDraft(primary *Cache, ngrams []Ngram, partStatic map[int32]int32, minSampleSize, minPercent []int32) int32 {
	for i := len(ngrams) - 1; i >= 0; i-- {
		part := primary.Lookup(ngrams[i])
		if len(part) == 0 {
			continue
		}

		var maxPrimary, maxStatic, sum int32
		best := NullToken
		for _, tc := range part {
			weight := int32(1)
			if n, ok := partStatic[tc.Token]; ok {
				weight = 100 * n
			}
			if int64(tc.Count)*int64(weight) > int64(maxPrimary)*int64(maxStatic) {
				best = tc.Token
				maxPrimary = tc.Count
				maxStatic = weight
			}
			sum += tc.Count
		}

		if sum < minSampleSize[i] {
			continue
		}
		if 100*maxPrimary < minPercent[i]*sum {
			continue
		}
		return best
	}
	return NullToken
}
