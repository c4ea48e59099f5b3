package transcript

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Cue is one subtitle entry: a line or two of text shown between Start and End
// (seconds).
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// ParseSRT reads SubRip subtitles:
//
//	1
//	00:00:00,000 --> 00:00:01,830
//	I'm happy to
//	have you here today.
//
// Sequence numbers are ignored; multi-line text is joined with spaces.
// Cues without text are skipped.
func ParseSRT(r io.Reader) ([]Cue, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var cues []Cue
	var cur *Cue
	var text []string
	flush := func() {
		if cur != nil && len(text) > 0 {
			cur.Text = strings.Join(text, " ")
			cues = append(cues, *cur)
		}
		cur = nil
		text = text[:0]
	}

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			flush()
			start, end, err := parseTiming(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur = &Cue{Start: start, End: end}
		case cur == nil:
			// Sequence number or stray text before a timing line.
		default:
			text = append(text, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return cues, nil
}

func parseTiming(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	start, err := ParseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	// Some writers append positioning hints after the end time.
	endField := strings.Fields(parts[1])
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("missing end time in %q", line)
	}
	end, err := ParseTimestamp(endField[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

var timestampRe = regexp.MustCompile(`^(?:(\d+):)?(\d{1,2}):(\d{1,2})(?:[,.](\d{1,3}))?$`)

// ParseTimestamp converts HH:MM:SS,mmm (or with '.', or without hours) to
// seconds.
func ParseTimestamp(s string) (float64, error) {
	m := timestampRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var h int
	if m[1] != "" {
		h, _ = strconv.Atoi(m[1])
	}
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	if mins >= 60 || sec >= 60 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	ms := 0
	if m[4] != "" {
		frac := m[4] + strings.Repeat("0", 3-len(m[4]))
		ms, _ = strconv.Atoi(frac)
	}
	return float64(h*3600+mins*60+sec) + float64(ms)/1000, nil
}

var videoNameRe = regexp.MustCompile(`^(\d+)\s*[-_.\s]\s*(.+)$`)

// ParseVideoName derives the video number and title from a file name such as
// "03_Loops and ranges.srt" or "03 - Loops.srt". Names without a leading
// number return 0 and the bare name.
func ParseVideoName(path string) (int, string) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if m := videoNameRe.FindStringSubmatch(name); m != nil {
		n, err := strconv.Atoi(m[1])
		title := strings.TrimSpace(strings.ReplaceAll(m[2], "_", " "))
		if err == nil && title != "" {
			return n, title
		}
	}
	return 0, strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}
