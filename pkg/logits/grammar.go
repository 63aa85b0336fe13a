package logits

import "strings"

// Grammar constrains which tokens may be sampled next.
type Grammar interface {
	// Allows reports whether tokenID may follow the accepted tokens.
	Allows(tokenID int32) bool

	// Accept advances the grammar past tokenID.
	Accept(tokenID int32)

	// Reset returns the grammar to its initial state.
	Reset()

	// Clone returns an independent copy in the same state.
	Clone() Grammar
}

// LiteralGrammar only admits tokens that spell out a fixed string, followed
// by the end-of-sequence token.
type LiteralGrammar struct {
	tok     Tokenizer
	literal string
	pos     int
	failed  bool
}

// NewLiteralGrammar creates a grammar for literal over tok's vocabulary.
func NewLiteralGrammar(tok Tokenizer, literal string) *LiteralGrammar {
	return &LiteralGrammar{tok: tok, literal: literal}
}

// Allows reports whether tokenID continues the literal.
func (g *LiteralGrammar) Allows(tokenID int32) bool {
	if g.failed {
		return false
	}
	if g.pos == len(g.literal) {
		return tokenID == g.tok.EOSToken()
	}
	text := g.tok.TokenToString(tokenID)
	return text != "" && strings.HasPrefix(g.literal[g.pos:], text)
}

// Accept advances past tokenID. A token the grammar does not allow leaves it
// in a state that admits nothing.
func (g *LiteralGrammar) Accept(tokenID int32) {
	if !g.Allows(tokenID) {
		g.failed = true
		return
	}
	if g.pos < len(g.literal) {
		g.pos += len(g.tok.TokenToString(tokenID))
	}
}

// Done reports whether the whole literal has been accepted.
func (g *LiteralGrammar) Done() bool { return !g.failed && g.pos == len(g.literal) }

// Reset rewinds to the start of the literal.
func (g *LiteralGrammar) Reset() {
	g.pos = 0
	g.failed = false
}

// Clone copies the grammar state.
func (g *LiteralGrammar) Clone() Grammar {
	c := *g
	return &c
}

// LazyGrammar admits every token until one of its trigger words has been
// generated, then hands control to the inner grammar for the tokens that
// follow.
type LazyGrammar struct {
	inner    Grammar
	tok      Tokenizer
	triggers []string
	text     strings.Builder
	active   bool
}

// NewLazyGrammar wraps inner so that it only applies after a trigger word.
func NewLazyGrammar(inner Grammar, tok Tokenizer, triggers []string) *LazyGrammar {
	return &LazyGrammar{
		inner:    inner,
		tok:      tok,
		triggers: append([]string(nil), triggers...),
	}
}

// Active reports whether a trigger word has been seen.
func (g *LazyGrammar) Active() bool { return g.active }

// Allows defers to the inner grammar once triggered.
func (g *LazyGrammar) Allows(tokenID int32) bool {
	if !g.active {
		return true
	}
	return g.inner.Allows(tokenID)
}

// Accept records the token's text until a trigger shows up, and feeds the
// inner grammar afterwards.
func (g *LazyGrammar) Accept(tokenID int32) {
	if g.active {
		g.inner.Accept(tokenID)
		return
	}
	g.text.WriteString(g.tok.TokenToString(tokenID))
	seen := g.text.String()
	for _, trig := range g.triggers {
		if strings.Contains(seen, trig) {
			g.active = true
			return
		}
	}
}

// Reset deactivates the grammar and resets the inner one.
func (g *LazyGrammar) Reset() {
	g.active = false
	g.text.Reset()
	g.inner.Reset()
}

// Clone copies the trigger state and the inner grammar.
func (g *LazyGrammar) Clone() Grammar {
	c := &LazyGrammar{
		inner:    g.inner.Clone(),
		tok:      g.tok,
		triggers: g.triggers,
		active:   g.active,
	}
	c.text.WriteString(g.text.String())
	return c
}
