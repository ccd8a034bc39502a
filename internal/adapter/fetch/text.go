package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"legisrag/internal/port"
)

// TextExtractor reads the plain text of a PDF held in the artifact cache.
type TextExtractor struct {
	cache port.ArtifactCache
}

func NewTextExtractor(cache port.ArtifactCache) *TextExtractor {
	return &TextExtractor{cache: cache}
}

// Extract returns the normalized text of the PDF at storagePath.
func (x *TextExtractor) Extract(ctx context.Context, storagePath string) (string, error) {
	ref, ok := port.ParseBlobRef(storagePath)
	if !ok {
		return "", fmt.Errorf("invalid storage path %q", storagePath)
	}

	res, err := x.cache.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return "", err
	}
	if !res.IsHit() {
		return "", fmt.Errorf("pdf %s not in cache", storagePath)
	}

	return PlainText(res.Payload())
}

// PlainText extracts text from PDF bytes. The parser panics on some
// malformed files; that is reported as an error.
func PlainText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	return normalize(string(raw)), nil
}

// normalize collapses runs of spaces and blank lines left by layout.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
