package chunker

import (
	"strings"

	"courseqa/internal/transcript"
)

// minSpan is the width given to segments whose cues carry no duration.
const minSpan = 0.001

// Span is a run of consecutive cues merged into one transcript segment.
type Span struct {
	Start float64
	End   float64
	Text  string
}

// CueChunker groups subtitle cues into segments with overlap.
type CueChunker struct {
	cuesPerSegment int
	overlapCues    int
}

func NewCueChunker(cuesPerSegment, overlapCues int) *CueChunker {
	if cuesPerSegment <= 0 {
		cuesPerSegment = 5
	}
	if overlapCues < 0 {
		overlapCues = 0
	}
	if overlapCues >= cuesPerSegment {
		overlapCues = cuesPerSegment - 1
	}
	return &CueChunker{cuesPerSegment: cuesPerSegment, overlapCues: overlapCues}
}

// Chunk merges cues in order. Each span starts at its first cue and ends at
// the latest end among its cues; Start < End always holds.
func (c *CueChunker) Chunk(cues []transcript.Cue) []Span {
	var spans []Span
	i := 0
	for i < len(cues) {
		end := min(i+c.cuesPerSegment, len(cues))
		group := cues[i:end]
		texts := make([]string, 0, len(group))
		span := Span{Start: group[0].Start, End: group[0].End}
		for _, cue := range group {
			if t := strings.TrimSpace(cue.Text); t != "" {
				texts = append(texts, t)
			}
			span.End = max(span.End, cue.End)
		}
		span.Text = strings.Join(texts, " ")
		if span.End <= span.Start {
			span.End = span.Start + minSpan
		}
		if span.Text != "" {
			spans = append(spans, span)
		}
		if end == len(cues) {
			break
		}
		i = end - c.overlapCues
	}
	return spans
}
