// Package speculative decides whether a draft model can propose tokens for a
// target model during speculative decoding.
package speculative

import (
	"errors"
	"fmt"

	"github.com/soypete/llamabridge/pkg/logits"
)

const (
	// MaxVocabSizeDifference is the largest tolerated difference between
	// the two vocabulary sizes.
	MaxVocabSizeDifference = 128

	// CheckStartTokenID is the first token whose text is compared. Lower
	// ids hold control tokens that legitimately differ between models.
	CheckStartTokenID = 5
)

// ErrIncompatible is wrapped by every mismatch Check reports.
var ErrIncompatible = errors.New("draft model incompatible with target")

// Vocab is the part of a tokenizer the check looks at.
type Vocab interface {
	VocabSize() int
	VocabType() string
	TokenToString(tokenID int32) string
	BOSToken() int32
	EOSToken() int32
	AddBOS() bool
	AddEOS() bool
}

var _ Vocab = (*logits.VocabTokenizer)(nil)

// Check returns nil when draft can serve target, or an error wrapping
// ErrIncompatible that names the first mismatch.
func Check(target, draft Vocab) error {
	if target.VocabType() != draft.VocabType() {
		return fmt.Errorf("%w: vocab type %s != %s", ErrIncompatible, target.VocabType(), draft.VocabType())
	}
	if target.AddBOS() != draft.AddBOS() || target.AddEOS() != draft.AddEOS() ||
		target.BOSToken() != draft.BOSToken() || target.EOSToken() != draft.EOSToken() {
		return fmt.Errorf("%w: special tokens differ: target bos=%d eos=%d add_bos=%t add_eos=%t, draft bos=%d eos=%d add_bos=%t add_eos=%t",
			ErrIncompatible,
			target.BOSToken(), target.EOSToken(), target.AddBOS(), target.AddEOS(),
			draft.BOSToken(), draft.EOSToken(), draft.AddBOS(), draft.AddEOS())
	}

	nTgt, nDft := target.VocabSize(), draft.VocabSize()
	diff := nTgt - nDft
	if diff < 0 {
		diff = -diff
	}
	if diff > MaxVocabSizeDifference {
		return fmt.Errorf("%w: vocab sizes %d and %d differ by %d, more than %d",
			ErrIncompatible, nTgt, nDft, diff, MaxVocabSizeDifference)
	}

	for i := CheckStartTokenID; i < min(nTgt, nDft); i++ {
		id := int32(i)
		if t, d := target.TokenToString(id), draft.TokenToString(id); t != d {
			return fmt.Errorf("%w: token %d is %q in target and %q in draft", ErrIncompatible, id, t, d)
		}
	}
	return nil
}

// Compatible reports whether draft can serve target.
func Compatible(target, draft Vocab) bool {
	return Check(target, draft) == nil
}
