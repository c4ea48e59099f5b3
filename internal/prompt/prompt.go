package prompt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"text/template"

	"courseqa/internal/domain"
)

// DefaultTemplate asks for an answer with video references. Fields: .Course,
// .Segments (JSON array of records) and .Query.
const DefaultTemplate = `{{.Course}} course assistant. Video subtitles:

{{.Segments}}

Q: "{{.Query}}"

Provide: Answer + video references (number, title, MM:SS timestamp) + recommendation.
Only answer course questions.`

type record struct {
	Title  string  `json:"title"`
	Number int     `json:"number"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Text   string  `json:"text"`
}

type templateData struct {
	Course   string
	Segments string
	Query    string
}

// Assembler renders a question and its retrieved segments into a prompt.
type Assembler struct {
	course   string
	maxChars int
	tmpl     *template.Template
}

// Config configures the assembler. An empty Template selects DefaultTemplate;
// MaxChars <= 0 disables truncation.
type Config struct {
	Course   string
	Template string
	MaxChars int
}

func NewAssembler(cfg Config) (*Assembler, error) {
	text := cfg.Template
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	course := cfg.Course
	if course == "" {
		course = "Python"
	}
	return &Assembler{course: course, maxChars: cfg.MaxChars, tmpl: tmpl}, nil
}

// Assemble renders the prompt. Results are expected best first; when the
// prompt exceeds the size limit the trailing (lowest-scoring) segments are
// dropped until it fits.
func (a *Assembler) Assemble(query string, results []domain.ScoredSegment) (string, error) {
	n := len(results)
	for {
		out, err := a.render(query, results[:n])
		if err != nil {
			return "", err
		}
		if a.maxChars <= 0 || len(out) <= a.maxChars || n == 0 {
			return out, nil
		}
		n--
	}
}

func (a *Assembler) render(query string, results []domain.ScoredSegment) (string, error) {
	records := make([]record, len(results))
	for i, r := range results {
		records[i] = record{
			Title:  r.Segment.Title,
			Number: r.Segment.Number,
			Start:  r.Segment.Start,
			End:    r.Segment.End,
			Text:   r.Segment.Text,
		}
	}
	var segs strings.Builder
	enc := json.NewEncoder(&segs)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return "", err
	}
	var b strings.Builder
	data := templateData{Course: a.course, Segments: strings.TrimSpace(segs.String()), Query: query}
	if err := a.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// FormatTimestamp renders seconds as MM:SS, or H:MM:SS from one hour on.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
