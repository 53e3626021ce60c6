package llava

import (
	"sort"
	"strings"
	"unicode"
)

// wordPrefix marks a piece that starts a new word.
const wordPrefix = "▁"

// Tokenizer is a word-level tokenizer with literal special tokens.
type Tokenizer struct {
	vocab   []string
	ids     map[string]int64
	special map[int64]bool
	// specials sorted longest first for greedy matching.
	specials []string
	unk      int64
	bos      int64
	eos      int64
	pad      int64
	hasBOS   bool
	hasEOS   bool
	hasPad   bool
}

func newTokenizer(tc TokenizerConfig) *Tokenizer {
	t := &Tokenizer{
		vocab:   tc.Vocab,
		ids:     make(map[string]int64, len(tc.Vocab)),
		special: make(map[int64]bool),
	}
	for i, p := range tc.Vocab {
		t.ids[p] = int64(i)
	}
	mark := func(tok string) (int64, bool) {
		if tok == "" {
			return 0, false
		}
		id, ok := t.ids[tok]
		if !ok {
			return 0, false
		}
		if !t.special[id] {
			t.special[id] = true
			t.specials = append(t.specials, tok)
		}
		return id, true
	}
	t.unk, _ = mark(tc.UnkToken)
	t.bos, t.hasBOS = mark(tc.BOSToken)
	t.eos, t.hasEOS = mark(tc.EOSToken)
	t.pad, t.hasPad = mark(tc.PadToken)
	for _, s := range tc.AdditionalSpecialTokens {
		mark(s)
	}
	sort.SliceStable(t.specials, func(i, j int) bool { return len(t.specials[i]) > len(t.specials[j]) })
	return t
}

func (t *Tokenizer) BOSTokenID() (int64, bool) { return t.bos, t.hasBOS }
func (t *Tokenizer) EOSTokenID() (int64, bool) { return t.eos, t.hasEOS }
func (t *Tokenizer) PadTokenID() (int64, bool) { return t.pad, t.hasPad }

// IsSpecial reports whether id is a configured special token.
func (t *Tokenizer) IsSpecial(id int64) bool { return t.special[id] }

// Len is the vocabulary size.
func (t *Tokenizer) Len() int { return len(t.vocab) }

// ID returns the id of an exact vocabulary piece.
func (t *Tokenizer) ID(piece string) (int64, bool) {
	id, ok := t.ids[piece]
	return id, ok
}

// Encode splits text into special tokens and words. Unknown words map to
// the unk token.
func (t *Tokenizer) Encode(text string) []int64 {
	var out []int64
	var plain strings.Builder
	flush := func() {
		for _, w := range splitWords(plain.String()) {
			out = append(out, t.word(w)...)
		}
		plain.Reset()
	}
	for i := 0; i < len(text); {
		matched := ""
		for _, s := range t.specials {
			if strings.HasPrefix(text[i:], s) {
				matched = s
				break
			}
		}
		if matched != "" {
			flush()
			out = append(out, t.ids[matched])
			i += len(matched)
			continue
		}
		plain.WriteByte(text[i])
		i++
	}
	flush()
	return out
}

// splitWords splits on whitespace and detaches trailing punctuation.
func splitWords(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		end := len(f)
		for end > 0 && unicode.IsPunct(rune(f[end-1])) {
			end--
		}
		if end > 0 {
			out = append(out, wordPrefix+f[:end])
		}
		for _, r := range f[end:] {
			out = append(out, string(r))
		}
	}
	return out
}

func (t *Tokenizer) word(w string) []int64 {
	if id, ok := t.ids[w]; ok {
		return []int64{id}
	}
	if id, ok := t.ids[strings.ToLower(w)]; ok {
		return []int64{id}
	}
	return []int64{t.unk}
}

// Decode joins pieces, turning word prefixes into spaces.
func (t *Tokenizer) Decode(ids []int64, skipSpecial bool) string {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= len(t.vocab) {
			continue
		}
		if skipSpecial && t.special[id] {
			continue
		}
		p := t.vocab[id]
		if rest, ok := strings.CutPrefix(p, wordPrefix); ok {
			b.WriteByte(' ')
			b.WriteString(rest)
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}
