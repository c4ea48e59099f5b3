package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseqa/internal/domain"
)

func results() []domain.ScoredSegment {
	return []domain.ScoredSegment{
		{Segment: domain.Segment{Title: "Loops", Number: 3, Start: 65, End: 80.5, Text: "a for loop walks a range"}, Score: 0.9},
		{Segment: domain.Segment{Title: "Intro", Number: 1, Start: 0, End: 10, Text: "x < y & z"}, Score: 0.5},
		{Segment: domain.Segment{Title: "Lists", Number: 4, Start: 5, End: 9, Text: "lists hold items"}, Score: 0.1},
	}
}

func segmentsJSON(t *testing.T, p string) []map[string]any {
	t.Helper()
	start := strings.Index(p, "[")
	end := strings.LastIndex(p, "]")
	require.True(t, start >= 0 && end > start, "no JSON array in prompt")
	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(p[start:end+1]), &out))
	return out
}

func TestAssembleDefaultTemplate(t *testing.T) {
	a, err := NewAssembler(Config{Course: "Python"})
	require.NoError(t, err)

	p, err := a.Assemble("How do loops work?", results())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p, "Python course assistant."))
	assert.Contains(t, p, `Q: "How do loops work?"`)
	assert.Contains(t, p, "MM:SS timestamp")
	assert.Contains(t, p, "x < y & z", "HTML characters are not escaped")

	segs := segmentsJSON(t, p)
	require.Len(t, segs, 3)
	assert.Equal(t, map[string]any{"title": "Loops", "number": 3.0, "start": 65.0, "end": 80.5, "text": "a for loop walks a range"}, segs[0])
}

func TestAssembleTruncatesLowestScoringFirst(t *testing.T) {
	unbounded, err := NewAssembler(Config{})
	require.NoError(t, err)
	full, err := unbounded.Assemble("q", results())
	require.NoError(t, err)
	two, err := unbounded.Assemble("q", results()[:2])
	require.NoError(t, err)

	a, err := NewAssembler(Config{MaxChars: len(full) - 1})
	require.NoError(t, err)
	p, err := a.Assemble("q", results())
	require.NoError(t, err)
	assert.Equal(t, two, p)
	segs := segmentsJSON(t, p)
	require.Len(t, segs, 2)
	assert.Equal(t, "Loops", segs[0]["title"])
	assert.Equal(t, "Intro", segs[1]["title"])

	tiny, err := NewAssembler(Config{MaxChars: 10})
	require.NoError(t, err)
	p, err = tiny.Assemble("q", results())
	require.NoError(t, err)
	assert.Contains(t, p, "[]")
}

func TestAssembleCustomTemplate(t *testing.T) {
	a, err := NewAssembler(Config{Course: "Go", Template: "{{.Course}}|{{.Query}}|{{.Segments}}"})
	require.NoError(t, err)
	p, err := a.Assemble("why?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Go|why?|[]", p)

	_, err = NewAssembler(Config{Template: "{{.Nope"})
	assert.Error(t, err)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00", FormatTimestamp(0))
	assert.Equal(t, "01:05", FormatTimestamp(65.9))
	assert.Equal(t, "59:59", FormatTimestamp(3599))
	assert.Equal(t, "1:00:01", FormatTimestamp(3601))
	assert.Equal(t, "00:00", FormatTimestamp(-3))
}
