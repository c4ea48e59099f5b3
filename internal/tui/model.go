package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"courseqa/internal/domain"
	"courseqa/internal/prompt"
	"courseqa/internal/service"
)

// AssistantPort is the TUI-facing subset of the assistant.
type AssistantPort interface {
	Ask(ctx context.Context, question string) (*domain.Answer, error)
}

type entry struct {
	role    string
	content string
	sources []domain.ScoredSegment
}

type answerMsg struct{ answer *domain.Answer }

type errMsg struct{ err error }

// Model is the Bubble Tea model for the chat shell.
type Model struct {
	service  AssistantPort
	course   string
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	history  []entry
	pending  bool
	ready    bool
}

// New creates a chat model greeting the user about course.
func New(service AssistantPort, course string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Your question..."
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	greeting := entry{role: domain.RoleAssistant, content: fmt.Sprintf("Hi! Ask me about the %s course!", course)}
	return Model{
		service:  service,
		course:   course,
		timeout:  timeout,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		history:  []entry{greeting},
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and pipeline events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, hh := historyBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input line
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-hh)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending {
				return m, nil
			}
			m.history = append(m.history, entry{role: domain.RoleUser, content: q})
			m.pending = true
			m.input.Reset()
			m.input.Blur()
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		}
		// Typing is disabled while a question is in flight.
		if m.pending {
			return m, nil
		}
	case answerMsg:
		m.pending = false
		m.history = append(m.history, entry{role: domain.RoleAssistant, content: msg.answer.Text, sources: msg.answer.Sources})
		m.refresh()
		return m, m.input.Focus()
	case errMsg:
		m.pending = false
		m.history = append(m.history, entry{role: domain.RoleError, content: service.UserMessage(msg.err)})
		m.refresh()
		return m, m.input.Focus()
	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs one question through the pipeline off the UI goroutine. Panics are
// reported like errors so the session survives them.
func (m Model) ask(q string) tea.Cmd {
	svc, timeout := m.service, m.timeout
	return func() (msg tea.Msg) {
		defer func() {
			if r := recover(); r != nil {
				msg = errMsg{err: fmt.Errorf("internal error: %v", r)}
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ans, err := svc.Ask(ctx, q)
		if err != nil {
			return errMsg{err: err}
		}
		return answerMsg{answer: ans}
	}
}

// View renders the history, input line and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render(m.course + " Course Assistant")
	status := statusStyle.Render("Enter to ask · PgUp/PgDn to scroll · Esc to quit")
	if m.pending {
		status = statusStyle.Render(m.spinner.View() + " Searching...")
	}
	return header + "\n" + historyBoxStyle.Render(m.viewport.View()) + "\n" + queryBoxStyle.Render(m.input.View()) + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	width := max(10, m.viewport.Width-2)
	wrap := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	for i, e := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.role {
		case domain.RoleUser:
			b.WriteString(userStyle.Render("You"))
		case domain.RoleError:
			b.WriteString(errorStyle.Render("Error"))
		default:
			b.WriteString(assistantStyle.Render("Assistant"))
		}
		b.WriteString("\n")
		b.WriteString(wrap.Render(e.content))
		if len(e.sources) > 0 {
			b.WriteString("\n")
			b.WriteString(sourceStyle.Render(wrap.Render(FormatSources(e.sources))))
		}
	}
	return b.String()
}

// FormatSources lists retrieved segments as "#number title MM:SS-MM:SS".
func FormatSources(sources []domain.ScoredSegment) string {
	lines := make([]string, 0, len(sources)+1)
	lines = append(lines, "Sources:")
	for _, s := range sources {
		lines = append(lines, fmt.Sprintf("  #%d %s %s-%s (%.2f)",
			s.Segment.Number, s.Segment.Title,
			prompt.FormatTimestamp(s.Segment.Start), prompt.FormatTimestamp(s.Segment.End), s.Score))
	}
	return strings.Join(lines, "\n")
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
