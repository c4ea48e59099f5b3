package corpus

import (
	"fmt"
	"math"

	"courseqa/internal/domain"
)

// Corpus is an ordered, immutable collection of transcript segments that all
// share one embedding dimensionality. It is built once and only read afterwards.
type Corpus struct {
	model     string
	dimension int
	segments  []domain.Segment
}

// New validates segments and returns a corpus holding its own copy of them.
// Every failure wraps domain.ErrCorpusLoad.
func New(model string, segments []domain.Segment) (*Corpus, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: corpus has no segments", domain.ErrCorpusLoad)
	}
	dim := len(segments[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("%w: segment 0 has an empty embedding", domain.ErrCorpusLoad)
	}
	out := make([]domain.Segment, len(segments))
	for i, s := range segments {
		if err := validateSegment(s, dim); err != nil {
			return nil, fmt.Errorf("%w: segment %d (%q #%d): %v", domain.ErrCorpusLoad, i, s.Title, s.Number, err)
		}
		s.Embedding = append([]float32(nil), s.Embedding...)
		out[i] = s
	}
	return &Corpus{model: model, dimension: dim, segments: out}, nil
}

func validateSegment(s domain.Segment, dim int) error {
	if len(s.Embedding) != dim {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(s.Embedding), dim)
	}
	if !(s.Start < s.End) {
		return fmt.Errorf("start %.3f is not before end %.3f", s.Start, s.End)
	}
	if s.Start < 0 || math.IsNaN(s.Start) || math.IsInf(s.End, 0) {
		return fmt.Errorf("invalid time range %.3f-%.3f", s.Start, s.End)
	}
	for j, v := range s.Embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("embedding value %d is not finite", j)
		}
	}
	return nil
}

// Model is the embedding model the corpus was built with. May be empty.
func (c *Corpus) Model() string { return c.model }

// Dimension returns the shared embedding dimensionality.
func (c *Corpus) Dimension() int { return c.dimension }

// Len returns the number of segments.
func (c *Corpus) Len() int { return len(c.segments) }

// Segment returns the i-th segment. The embedding slice is shared with the
// corpus and must not be modified.
func (c *Corpus) Segment(i int) domain.Segment { return c.segments[i] }

// Segments returns a copy of all segments, embeddings included.
func (c *Corpus) Segments() []domain.Segment {
	out := make([]domain.Segment, len(c.segments))
	for i, s := range c.segments {
		s.Embedding = append([]float32(nil), s.Embedding...)
		out[i] = s
	}
	return out
}
