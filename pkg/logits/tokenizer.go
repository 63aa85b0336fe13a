package logits

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Vocabulary types reported by Tokenizer.VocabType.
const (
	VocabSPM = "spm"
	VocabBPE = "bpe"
	VocabWPM = "wpm"
	VocabUGM = "ugm"
)

// Tokenizer provides the vocabulary view the sampler, its grammars and the
// speculative compatibility check need.
type Tokenizer interface {
	// VocabSize returns the size of the vocabulary.
	VocabSize() int

	// VocabType returns the tokenizer family (spm, bpe, ...).
	VocabType() string

	// TokenToString converts a token ID to its text.
	TokenToString(tokenID int32) string

	// StringToTokens tokenizes a string into token IDs.
	// This is a greedy tokenization, not necessarily optimal.
	StringToTokens(s string) []int32

	// BOSToken returns the beginning-of-sequence token ID, or -1.
	BOSToken() int32

	// EOSToken returns the end-of-sequence token ID, or -1.
	EOSToken() int32

	// AddBOS reports whether BOS is prepended when tokenizing a prompt.
	AddBOS() bool

	// AddEOS reports whether EOS is appended when tokenizing a prompt.
	AddEOS() bool
}

// VocabTokenizer is a simple vocabulary-based tokenizer.
type VocabTokenizer struct {
	vocab      []string
	tokenToID  map[string]int32
	vocabType  string
	eosTokenID int32
	bosTokenID int32
	addBOS     bool
	addEOS     bool
}

// NewVocabTokenizer creates a tokenizer with the given vocabulary.
func NewVocabTokenizer(vocab []string) *VocabTokenizer {
	tokenToID := make(map[string]int32, len(vocab))
	for i, token := range vocab {
		if _, dup := tokenToID[token]; !dup {
			tokenToID[token] = int32(i)
		}
	}

	t := &VocabTokenizer{
		vocab:      vocab,
		tokenToID:  tokenToID,
		vocabType:  VocabSPM,
		eosTokenID: -1,
		bosTokenID: -1,
	}
	t.detectSpecialTokens()
	return t
}

// LoadVocabFromFile loads vocabulary from a text file (one token per line).
func LoadVocabFromFile(path string) (*VocabTokenizer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab file: %w", err)
	}
	defer file.Close()

	var vocab []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		vocab = append(vocab, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab file: %w", err)
	}

	return NewVocabTokenizer(vocab), nil
}

// vocabFile is the descriptive JSON layout accepted by LoadVocabFromJSON.
type vocabFile struct {
	Type   string   `json:"type"`
	BOS    *int32   `json:"bos"`
	EOS    *int32   `json:"eos"`
	AddBOS bool     `json:"add_bos"`
	AddEOS bool     `json:"add_eos"`
	Tokens []string `json:"tokens"`
}

// LoadVocabFromJSON loads vocabulary from a JSON file.
// Accepts an array of strings, an object with token->id mapping, or an
// object with "tokens" and the metadata fields type, bos, eos, add_bos and
// add_eos.
func LoadVocabFromJSON(path string) (*VocabTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab file: %w", err)
	}
	return ParseVocabJSON(data)
}

// ParseVocabJSON is LoadVocabFromJSON on an in-memory document.
func ParseVocabJSON(data []byte) (*VocabTokenizer, error) {
	var vocabArray []string
	if err := json.Unmarshal(data, &vocabArray); err == nil {
		return NewVocabTokenizer(vocabArray), nil
	}

	var vf vocabFile
	if err := json.Unmarshal(data, &vf); err == nil && vf.Tokens != nil {
		t := NewVocabTokenizer(vf.Tokens)
		if vf.Type != "" {
			t.vocabType = vf.Type
		}
		if vf.BOS != nil {
			t.bosTokenID = *vf.BOS
		}
		if vf.EOS != nil {
			t.eosTokenID = *vf.EOS
		}
		t.addBOS = vf.AddBOS
		t.addEOS = vf.AddEOS
		return t, nil
	}

	var vocabMap map[string]int32
	if err := json.Unmarshal(data, &vocabMap); err == nil {
		vocab := make([]string, len(vocabMap))
		for token, id := range vocabMap {
			if id >= 0 && int(id) < len(vocab) {
				vocab[id] = token
			}
		}
		return NewVocabTokenizer(vocab), nil
	}

	return nil, fmt.Errorf("vocab file must be JSON array or object")
}

func (t *VocabTokenizer) detectSpecialTokens() {
	for i, token := range t.vocab {
		switch strings.ToLower(token) {
		case "<s>", "<bos>", "<|begin_of_text|>":
			if t.bosTokenID < 0 {
				t.bosTokenID = int32(i)
				t.addBOS = true
			}
		case "</s>", "<eos>", "<|endoftext|>", "<|end_of_text|>":
			if t.eosTokenID < 0 {
				t.eosTokenID = int32(i)
			}
		}
	}
}

// VocabSize returns the vocabulary size.
func (t *VocabTokenizer) VocabSize() int {
	return len(t.vocab)
}

// VocabType returns the tokenizer family.
func (t *VocabTokenizer) VocabType() string {
	return t.vocabType
}

// TokenToString converts a token ID to string.
func (t *VocabTokenizer) TokenToString(tokenID int32) string {
	if tokenID < 0 || int(tokenID) >= len(t.vocab) {
		return ""
	}
	return t.vocab[tokenID]
}

// StringToTokens performs greedy longest-match tokenization.
func (t *VocabTokenizer) StringToTokens(s string) []int32 {
	var tokens []int32

	for len(s) > 0 {
		bestLen := 0
		bestID := int32(-1)

		for token, id := range t.tokenToID {
			if len(token) > bestLen && strings.HasPrefix(s, token) {
				bestLen = len(token)
				bestID = id
			}
		}

		if bestID == -1 {
			// No match, skip byte
			s = s[1:]
			continue
		}

		tokens = append(tokens, bestID)
		s = s[bestLen:]
	}

	return tokens
}

// EOSToken returns the EOS token ID.
func (t *VocabTokenizer) EOSToken() int32 { return t.eosTokenID }

// BOSToken returns the BOS token ID.
func (t *VocabTokenizer) BOSToken() int32 { return t.bosTokenID }

// AddBOS reports whether BOS is prepended.
func (t *VocabTokenizer) AddBOS() bool { return t.addBOS }

// AddEOS reports whether EOS is appended.
func (t *VocabTokenizer) AddEOS() bool { return t.addEOS }

// SetVocabType sets the tokenizer family.
func (t *VocabTokenizer) SetVocabType(vt string) { t.vocabType = vt }

// SetEOSToken sets the EOS token ID.
func (t *VocabTokenizer) SetEOSToken(tokenID int32) { t.eosTokenID = tokenID }

// SetBOSToken sets the BOS token ID.
func (t *VocabTokenizer) SetBOSToken(tokenID int32) { t.bosTokenID = tokenID }

// SetAddBOS sets whether BOS is prepended.
func (t *VocabTokenizer) SetAddBOS(v bool) { t.addBOS = v }

// SetAddEOS sets whether EOS is appended.
func (t *VocabTokenizer) SetAddEOS(v bool) { t.addEOS = v }
