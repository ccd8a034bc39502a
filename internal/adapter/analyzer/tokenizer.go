package analyzer

import (
	"fmt"
	"strings"
	"unicode"

	"legisrag/internal/port"
)

// Tokenizer splits text on whitespace. Each piece is a word together with
// the whitespace that follows it, so pieces concatenate back to the input.
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer creates a new Tokenizer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
	}
}

// New returns the tokenizer registered under name.
func New(name string) (port.Tokenizer, error) {
	switch name {
	case "words":
		return NewTokenizer(), nil
	case "cl100k_base", "o200k_base", "p50k_base", "r50k_base":
		return NewBPETokenizer(name)
	default:
		return nil, fmt.Errorf("unsupported tokenizer: %s", name)
	}
}

func (t *Tokenizer) Name() string {
	return "words"
}

// Split returns whitespace-delimited pieces. Leading whitespace is attached
// to the first piece.
func (t *Tokenizer) Split(text string) []string {
	if text == "" {
		return nil
	}

	var pieces []string
	start := 0
	inSpace := true
	seenWord := false

	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && inSpace && seenWord {
			pieces = append(pieces, text[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		inSpace = space
	}
	pieces = append(pieces, text[start:])

	return pieces
}

// CountTokens returns the number of pieces Split would produce.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Split(text))
}

// Terms returns lowercased content words, used for lexical overlap between passages.
func (t *Tokenizer) Terms(text string) []string {
	words := splitWords(text)
	terms := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len(word) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		terms = append(terms, word)
	}

	return terms
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
