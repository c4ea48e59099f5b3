package index

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"courseqa/internal/corpus"
	"courseqa/internal/domain"
)

// Index ranks corpus segments by cosine similarity to a query vector. It is
// read-only after New, so Retrieve may be called from many goroutines.
type Index struct {
	corpus *corpus.Corpus
	norms  []float64
}

// New builds an index over c. A nil corpus yields an empty index on which
// every Retrieve fails.
func New(c *corpus.Corpus) *Index {
	idx := &Index{corpus: c}
	if c == nil {
		return idx
	}
	idx.norms = make([]float64, c.Len())
	for i := range idx.norms {
		idx.norms[i] = norm(c.Segment(i).Embedding)
	}
	return idx
}

// Len returns the number of indexed segments.
func (x *Index) Len() int { return len(x.norms) }

// Dimension returns the embedding dimensionality, or 0 for an empty index.
func (x *Index) Dimension() int {
	if x.corpus == nil {
		return 0
	}
	return x.corpus.Dimension()
}

// Retrieve returns the min(k, Len()) most similar segments, best first. Equal
// scores keep corpus order.
func (x *Index) Retrieve(query []float32, k int) ([]domain.ScoredSegment, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidRetrievalRequest, k)
	}
	if x.Len() == 0 {
		return nil, fmt.Errorf("%w: corpus is empty", domain.ErrInvalidRetrievalRequest)
	}
	if len(query) != x.Dimension() {
		return nil, fmt.Errorf("%w: query has %d dimensions, corpus has %d", domain.ErrInvalidRetrievalRequest, len(query), x.Dimension())
	}

	qn := norm(query)
	scores := make([]float64, x.Len())
	for i := range scores {
		scores[i] = cosine(query, qn, x.corpus.Segment(i).Embedding, x.norms[i])
	}
	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })

	k = min(k, len(idxs))
	results := make([]domain.ScoredSegment, 0, k)
	for _, j := range idxs[:k] {
		seg := x.corpus.Segment(j)
		seg.Embedding = slices.Clone(seg.Embedding)
		results = append(results, domain.ScoredSegment{Segment: seg, Score: scores[j]})
	}
	return results, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero
// norm.
func Cosine(a, b []float32) float64 {
	return cosine(a, norm(a), b, norm(b))
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	return dot(a, b) / (an * bn)
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
