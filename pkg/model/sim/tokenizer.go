package sim

import "github.com/evandegr/oratio/pkg/model"

// Control tokens occupy the bottom of the text vocabulary; byte tokens follow.
const (
	tokenBOS int32 = 0
	tokenPad int32 = 1

	byteOffset int32 = 2
)

// Tokenizer is a byte-level text tokenizer: every UTF-8 byte maps to one
// token above the control range. Deterministic and lossless, which is what
// scripted-utterance verification needs.
type Tokenizer struct {
	vocab int
}

var _ model.Tokenizer = (*Tokenizer)(nil)

// Encode implements [model.Tokenizer].
func (t *Tokenizer) Encode(text string) []int32 {
	tokens := make([]int32, 0, len(text))
	for i := 0; i < len(text); i++ {
		tok := byteOffset + int32(text[i])
		if int(tok) >= t.vocab {
			tok = tokenPad
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Decode implements [model.Tokenizer]. Control and out-of-range tokens decode
// to nothing.
func (t *Tokenizer) Decode(tokens []int32) string {
	out := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		if t.IsText(tok) {
			out = append(out, byte(tok-byteOffset))
		}
	}
	return string(out)
}

// BOS implements [model.Tokenizer].
func (t *Tokenizer) BOS() int32 { return tokenBOS }

// IsText implements [model.Tokenizer].
func (t *Tokenizer) IsText(tok int32) bool {
	return tok >= byteOffset && tok < byteOffset+256 && int(tok) < t.vocab
}
