package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"courseqa/internal/domain"
)

var tracer = otel.Tracer("courseqa/internal/service")

var _ domain.Assistant = (*AssistantImpl)(nil)

// AssistantImpl runs the question pipeline: embed, retrieve, assemble,
// compose. Each stage completes before the next starts.
type AssistantImpl struct {
	embedder  domain.Embedder
	retriever domain.Retriever
	assembler domain.PromptAssembler
	composer  domain.Composer
	topK      int
}

func NewAssistant(embedder domain.Embedder, retriever domain.Retriever, assembler domain.PromptAssembler, composer domain.Composer, topK int) *AssistantImpl {
	if topK <= 0 {
		topK = 5
	}
	return &AssistantImpl{embedder: embedder, retriever: retriever, assembler: assembler, composer: composer, topK: topK}
}

// Ask answers a question grounded on the topK most similar segments.
func (s *AssistantImpl) Ask(ctx context.Context, question string) (*domain.Answer, error) {
	ctx, span := tracer.Start(ctx, "assistant.ask")
	defer span.End()
	started := time.Now()

	results, err := s.search(ctx, question, s.topK)
	if err != nil {
		return nil, fail(span, err)
	}

	_, assembleSpan := tracer.Start(ctx, "prompt.assemble")
	prompt, err := s.assembler.Assemble(strings.TrimSpace(question), results)
	assembleSpan.End()
	if err != nil {
		return nil, fail(span, err)
	}

	composeCtx, composeSpan := tracer.Start(ctx, "composer.compose")
	text, err := s.composer.Compose(composeCtx, prompt)
	if err != nil {
		fail(composeSpan, err)
		composeSpan.End()
		return nil, fail(span, err)
	}
	composeSpan.End()

	slog.Info("question answered",
		"segments", len(results),
		"prompt_chars", len(prompt),
		"elapsed", time.Since(started))
	return &domain.Answer{Text: text, Sources: results}, nil
}

// Search embeds the question and returns the topK most similar segments
// without composing an answer.
func (s *AssistantImpl) Search(ctx context.Context, question string, topK int) ([]domain.ScoredSegment, error) {
	ctx, span := tracer.Start(ctx, "assistant.search")
	defer span.End()
	results, err := s.search(ctx, question, topK)
	if err != nil {
		return nil, fail(span, err)
	}
	return results, nil
}

func (s *AssistantImpl) search(ctx context.Context, question string, topK int) ([]domain.ScoredSegment, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, fmt.Errorf("%w: question is empty", domain.ErrInvalidInput)
	}

	embedCtx, embedSpan := tracer.Start(ctx, "embedder.embed",
		trace.WithAttributes(attribute.String("model", s.embedder.Model())))
	vec, err := s.embedQuery(embedCtx, q)
	if err != nil {
		fail(embedSpan, err)
	}
	embedSpan.End()
	if err != nil {
		return nil, err
	}

	_, retrieveSpan := tracer.Start(ctx, "index.retrieve", trace.WithAttributes(attribute.Int("top_k", topK)))
	results, err := s.retriever.Retrieve(vec, topK)
	if err != nil {
		fail(retrieveSpan, err)
	}
	retrieveSpan.End()
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		slog.Debug("segments retrieved", "count", len(results), "top_score", results[0].Score)
	}
	return results, nil
}

func (s *AssistantImpl) embedQuery(ctx context.Context, q string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", domain.ErrProviderResponseInvalid, len(vecs))
	}
	if got, want := len(vecs[0]), s.retriever.Dimension(); got != want {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, corpus has %d", domain.ErrProviderResponseInvalid, got, want)
	}
	return vecs[0], nil
}

// VerifyDimension embeds a sample text and checks that the provider's
// dimensionality matches the corpus. A mismatch is a corpus load error.
func (s *AssistantImpl) VerifyDimension(ctx context.Context) error {
	vecs, err := s.embedder.Embed(ctx, []string{"dimension check"})
	if err != nil {
		return fmt.Errorf("check embedding provider: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("%w: got %d vectors for one sample", domain.ErrProviderResponseInvalid, len(vecs))
	}
	if got, want := len(vecs[0]), s.retriever.Dimension(); got != want {
		return fmt.Errorf("%w: provider %q produces %d dimensions, corpus has %d", domain.ErrCorpusLoad, s.embedder.Model(), got, want)
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// UserMessage turns a pipeline error into the plain text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var reason string
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		reason = "please type a question first"
	case errors.Is(err, domain.ErrProviderUnavailable):
		reason = "the embedding service is unavailable"
	case errors.Is(err, domain.ErrProviderResponseInvalid):
		reason = "the embedding service returned an invalid response"
	case errors.Is(err, domain.ErrInvalidRetrievalRequest):
		reason = "no transcript segments could be searched"
	case errors.Is(err, domain.ErrComposerUnavailable):
		reason = "the answer service is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "the request timed out"
	default:
		return "Error: " + err.Error()
	}
	return fmt.Sprintf("Error: %s (%v)", reason, err)
}
