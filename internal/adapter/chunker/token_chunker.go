package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

// TokenChunker cuts text into windows of maxTokens tokens, each window
// starting overlap tokens before the previous one ended.
type TokenChunker struct {
	maxTokens int
	overlap   int
	tokenizer port.Tokenizer
}

func NewTokenChunker(maxTokens, overlap int, tokenizer port.Tokenizer) *TokenChunker {
	if overlap >= maxTokens {
		overlap = 0
	}
	return &TokenChunker{
		maxTokens: maxTokens,
		overlap:   overlap,
		tokenizer: tokenizer,
	}
}

// Split chunks doc.FullText. A document without usable text is chunked from
// its title instead, and its chunks are marked with text_source=title.
func (c *TokenChunker) Split(doc domain.Document) []domain.Chunk {
	text := doc.FullText
	source := "full_text"
	if strings.TrimSpace(text) == "" {
		text = doc.Title
		source = "title"
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.tokenizer.Split(text)

	// offsets[i] is the byte offset where piece i starts
	offsets := make([]int, len(pieces)+1)
	for i, p := range pieces {
		offsets[i+1] = offsets[i] + len(p)
	}

	base := doc.ChunkMetadata()
	base[domain.MetaTextSource] = source

	step := c.maxTokens - c.overlap
	var chunks []domain.Chunk

	for start := 0; start < len(pieces); start += step {
		end := start + c.maxTokens
		if end > len(pieces) {
			end = len(pieces)
		}

		seq := len(chunks)
		meta := make(map[string]string, len(base))
		for k, v := range base {
			meta[k] = v
		}

		chunks = append(chunks, domain.Chunk{
			ID:          generateChunkID(doc.Key(), seq),
			DocumentID:  doc.Key(),
			SequenceNo:  seq,
			Text:        text[offsets[start]:offsets[end]],
			StartOffset: offsets[start],
			EndOffset:   offsets[end],
			Tokens:      end - start,
			Metadata:    meta,
		})

		if end == len(pieces) {
			break
		}
	}

	return chunks
}

// Stitch rebuilds the chunked text from ordered chunks by dropping the
// overlapping prefix of every chunk after the first.
func Stitch(chunks []domain.Chunk) string {
	var sb strings.Builder
	covered := 0
	for _, ch := range chunks {
		skip := covered - ch.StartOffset
		if skip < 0 {
			skip = 0
		}
		if skip < len(ch.Text) {
			sb.WriteString(ch.Text[skip:])
		}
		if ch.EndOffset > covered {
			covered = ch.EndOffset
		}
	}
	return sb.String()
}

func generateChunkID(docKey string, seq int) string {
	data := fmt.Sprintf("%s#%d", docKey, seq)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
