package analyzer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var loaderOnce sync.Once

// BPETokenizer counts and splits text in the byte-pair encoding used by
// OpenAI embedding models. Ranks are loaded from the embedded offline copy.
type BPETokenizer struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &BPETokenizer{enc: enc, encoding: encoding}, nil
}

func (t *BPETokenizer) Name() string {
	return t.encoding
}

// Split returns one piece per token, except that a token ending inside a
// multi-byte rune is joined with the tokens that complete it. Every piece
// starts and ends on a rune boundary and the pieces concatenate to text.
func (t *BPETokenizer) Split(text string) []string {
	if text == "" {
		return nil
	}
	ids := t.enc.Encode(text, []string{"all"}, nil)
	pieces := make([]string, 0, len(ids))
	var cur []byte
	for _, id := range ids {
		cur = append(cur, t.enc.Decode([]int{id})...)
		if partialRune(cur) {
			continue
		}
		pieces = append(pieces, string(cur))
		cur = cur[:0]
	}
	if len(cur) > 0 {
		pieces = append(pieces, string(cur))
	}
	return pieces
}

// partialRune reports whether b ends with the first bytes of a rune whose
// remaining bytes have not been seen yet.
func partialRune(b []byte) bool {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return !utf8.FullRune(b[i:])
		}
	}
	return false
}

func (t *BPETokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, []string{"all"}, nil))
}
