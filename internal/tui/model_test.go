package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseqa/internal/domain"
)

type fakeAssistant struct {
	ask func(ctx context.Context, q string) (*domain.Answer, error)
}

func (f fakeAssistant) Ask(ctx context.Context, q string) (*domain.Answer, error) {
	return f.ask(ctx, q)
}

// runCmd executes cmd and any batched commands, returning the pipeline result.
func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			if c == nil {
				continue
			}
			switch m := c().(type) {
			case answerMsg, errMsg:
				return m
			}
		}
		t.Fatal("no pipeline result in batch")
	}
	return msg
}

func submit(t *testing.T, m Model, q string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestNewGreetsWithCourse(t *testing.T) {
	m := New(fakeAssistant{}, "Python", time.Second)
	require.Len(t, m.history, 1)
	assert.Equal(t, "Hi! Ask me about the Python course!", m.history[0].content)
	assert.Equal(t, domain.RoleAssistant, m.history[0].role)
}

func TestAskAppendsAnswer(t *testing.T) {
	src := []domain.ScoredSegment{{Segment: domain.Segment{Title: "Loops", Number: 2, Start: 65, End: 80}, Score: 0.9}}
	svc := fakeAssistant{ask: func(_ context.Context, q string) (*domain.Answer, error) {
		return &domain.Answer{Text: "answer to " + q, Sources: src}, nil
	}}
	m, cmd := submit(t, New(svc, "Python", time.Second), "  what is a loop?  ")

	assert.True(t, m.pending)
	assert.Empty(t, m.input.Value())
	assert.Equal(t, entry{role: domain.RoleUser, content: "what is a loop?"}, m.history[1])

	next, _ := m.Update(runCmd(t, cmd))
	m = next.(Model)
	assert.False(t, m.pending)
	require.Len(t, m.history, 3)
	assert.Equal(t, "answer to what is a loop?", m.history[2].content)
	assert.Equal(t, src, m.history[2].sources)
}

func TestErrorKeepsSessionUsable(t *testing.T) {
	calls := 0
	svc := fakeAssistant{ask: func(_ context.Context, q string) (*domain.Answer, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("%w: connection refused", domain.ErrProviderUnavailable)
		}
		return &domain.Answer{Text: "ok"}, nil
	}}
	m, cmd := submit(t, New(svc, "Python", time.Second), "first")
	next, _ := m.Update(runCmd(t, cmd))
	m = next.(Model)
	require.Len(t, m.history, 3)
	assert.Equal(t, domain.RoleError, m.history[2].role)
	assert.Contains(t, m.history[2].content, "Error:")
	assert.False(t, m.pending)

	m, cmd = submit(t, m, "second")
	next, _ = m.Update(runCmd(t, cmd))
	m = next.(Model)
	require.Len(t, m.history, 5)
	assert.Equal(t, "ok", m.history[4].content)
}

func TestEnterIgnoredWhileEmptyOrPending(t *testing.T) {
	m := New(fakeAssistant{}, "Python", time.Second)
	m2, cmd := submit(t, m, "   ")
	assert.Nil(t, cmd)
	assert.Len(t, m2.history, 1)

	m.pending = true
	m3, cmd := submit(t, m, "question")
	assert.Nil(t, cmd)
	assert.Len(t, m3.history, 1)
}

func TestTypingDisabledWhilePending(t *testing.T) {
	svc := fakeAssistant{ask: func(context.Context, string) (*domain.Answer, error) {
		return &domain.Answer{Text: "ok"}, nil
	}}
	m, cmd := submit(t, New(svc, "Python", time.Second), "question")
	assert.False(t, m.input.Focused())

	typed, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	m = typed.(Model)
	assert.Empty(t, m.input.Value())

	next, _ := m.Update(runCmd(t, cmd))
	m = next.(Model)
	assert.True(t, m.input.Focused())

	typed, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Equal(t, "x", typed.(Model).input.Value())
}

func TestAskRecoversPanics(t *testing.T) {
	svc := fakeAssistant{ask: func(context.Context, string) (*domain.Answer, error) {
		panic("boom")
	}}
	msg := New(svc, "Python", time.Second).ask("q")()
	em, ok := msg.(errMsg)
	require.True(t, ok)
	assert.ErrorContains(t, em.err, "boom")
}

func TestAskAppliesTimeout(t *testing.T) {
	svc := fakeAssistant{ask: func(ctx context.Context, _ string) (*domain.Answer, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	msg := New(svc, "Python", 10*time.Millisecond).ask("q")()
	em, ok := msg.(errMsg)
	require.True(t, ok)
	assert.True(t, errors.Is(em.err, context.DeadlineExceeded))
}

func TestQuitKeys(t *testing.T) {
	m := New(fakeAssistant{}, "Python", time.Second)
	for _, k := range []tea.KeyType{tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc} {
		_, cmd := m.Update(tea.KeyMsg{Type: k})
		require.NotNil(t, cmd)
		assert.Equal(t, tea.Quit(), cmd())
	}
}

func TestFormatSources(t *testing.T) {
	out := FormatSources([]domain.ScoredSegment{
		{Segment: domain.Segment{Title: "Intro", Number: 1, Start: 5, End: 62}, Score: 0.876},
		{Segment: domain.Segment{Title: "Loops", Number: 2, Start: 3600, End: 3725}, Score: 0.5},
	})
	assert.Equal(t, "Sources:\n  #1 Intro 00:05-01:02 (0.88)\n  #2 Loops 1:00:00-1:02:05 (0.50)", out)
}
