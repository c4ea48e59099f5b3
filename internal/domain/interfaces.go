package domain

import "context"

// Segment is one timestamped transcript excerpt of a course video together with
// its precomputed embedding.
type Segment struct {
	Title     string
	Number    int
	Start     float64
	End       float64
	Text      string
	Embedding []float32
}

// ScoredSegment is a segment paired with its relevance to a query.
type ScoredSegment struct {
	Segment Segment
	Score   float64
}

// Answer is a composed response together with the segments it was grounded on.
type Answer struct {
	Text    string
	Sources []ScoredSegment
}

// Roles of chat history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

// Embedder converts texts into vectors with a remote call. One vector is
// returned per input, in input order.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever ranks corpus segments by similarity to a query vector.
type Retriever interface {
	Dimension() int
	Retrieve(query []float32, k int) ([]ScoredSegment, error)
}

// PromptAssembler turns a question and its retrieval result into a prompt.
type PromptAssembler interface {
	Assemble(query string, results []ScoredSegment) (string, error)
}

// Composer produces a natural-language answer for a prompt.
type Composer interface {
	Compose(ctx context.Context, prompt string) (string, error)
}

// Assistant defines the operations exposed by the application core.
type Assistant interface {
	Ask(ctx context.Context, question string) (*Answer, error)
	Search(ctx context.Context, question string, topK int) ([]ScoredSegment, error)
}
