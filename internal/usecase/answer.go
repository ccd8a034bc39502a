package usecase

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

//go:embed prompts/system.txt
var systemPrompt string

//go:embed prompts/user.tmpl
var userTemplate string

var userPrompt = template.Must(template.New("user").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(userTemplate))

// Passage is a retrieved chunk with its citation.
type Passage struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Title  string  `json:"title"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	DocID  string  `json:"doc_id"`
}

// AnswerUseCase retrieves passages for a query and has the language model
// answer from them.
type AnswerUseCase struct {
	retriever port.Retriever
	llm       port.LLM
	sink      port.EventSink
	topK      int
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

type AnswerOption func(*AnswerUseCase)

// WithGenerateTimeout bounds the language model call.
func WithGenerateTimeout(d time.Duration) AnswerOption {
	return func(u *AnswerUseCase) {
		u.timeout = d
	}
}

func NewAnswerUseCase(retriever port.Retriever, llm port.LLM, sink port.EventSink, topK int, logger *zap.Logger, opts ...AnswerOption) *AnswerUseCase {
	u := &AnswerUseCase{
		retriever: retriever,
		llm:       llm,
		sink:      sink,
		topK:      topK,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Retrieve returns the top passages for query, each attributed to the
// download URL of its document.
func (u *AnswerUseCase) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	hits, err := u.retriever.Search(ctx, query, u.topK)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		if h.Metadata == nil {
			h.Metadata = make(map[string]string)
		}
		h.Metadata[domain.MetaSource] = h.Metadata[domain.MetaDownloadURL]
		passages = append(passages, Passage{
			ID:     h.ID,
			Score:  h.Score,
			Title:  h.Metadata[domain.MetaTitle],
			Text:   h.Text(),
			Source: h.Metadata[domain.MetaSource],
			DocID:  h.Metadata[domain.MetaDocID],
		})
	}
	return passages, nil
}

// Prompt renders the system and user prompts for query over passages.
func Prompt(query string, passages []Passage) (system, user string, err error) {
	var b strings.Builder
	err = userPrompt.Execute(&b, struct {
		Query    string
		Passages []Passage
	}{Query: query, Passages: passages})
	if err != nil {
		return "", "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimSpace(systemPrompt), b.String(), nil
}

// Answer runs one query through retrieval and generation. requestID is
// generated when empty. The language model is called once; its failure is
// returned as is. Recording the query never fails the answer.
func (u *AnswerUseCase) Answer(ctx context.Context, query, requestID string) (*domain.Answer, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := u.logger.With(zap.String("request_id", requestID))

	passages, err := u.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return nil, domain.ErrNoPassages
	}

	system, user, err := Prompt(query, passages)
	if err != nil {
		return nil, err
	}

	text, err := u.generate(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	answer := &domain.Answer{
		Answer:    strings.TrimSpace(text),
		Sources:   Sources(passages),
		RequestID: requestID,
	}
	log.Debug("answered", zap.Int("passages", len(passages)), zap.Strings("sources", answer.Sources))

	u.record(ctx, log, query, passages, answer)
	return answer, nil
}

func (u *AnswerUseCase) generate(ctx context.Context, system, user string) (string, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	return u.llm.Generate(ctx, system, user)
}

func (u *AnswerUseCase) record(ctx context.Context, log *zap.Logger, query string, passages []Passage, answer *domain.Answer) {
	if u.sink == nil {
		return
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	err := u.sink.Record(context.WithoutCancel(ctx), domain.QueryEvent{
		RequestID: answer.RequestID,
		Query:     query,
		Passages:  texts,
		Sources:   answer.Sources,
		Answer:    answer.Answer,
		Model:     u.llm.ModelName(),
		CreatedAt: u.now().UTC(),
	})
	if err != nil {
		log.Warn("query not recorded", zap.Error(err))
	}
}

// Sources lists the distinct non-empty passage sources in rank order.
func Sources(passages []Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	out := make([]string, 0, len(passages))
	for _, p := range passages {
		if p.Source == "" {
			continue
		}
		if _, ok := seen[p.Source]; ok {
			continue
		}
		seen[p.Source] = struct{}{}
		out = append(out, p.Source)
	}
	return out
}

// IsConfigError reports whether err is a configuration problem rather than
// a failed call.
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrIndexNotFound) || errors.Is(err, domain.ErrModelMismatch)
}
