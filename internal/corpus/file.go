package corpus

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"courseqa/internal/domain"
)

// FormatVersion is the version written into file envelopes.
const FormatVersion = 1

type fileEnvelope struct {
	Version   int           `json:"version"`
	Model     string        `json:"model,omitempty"`
	Dimension int           `json:"dimension"`
	Segments  []fileSegment `json:"segments"`
}

type fileSegment struct {
	Title     string    `json:"title"`
	Number    int       `json:"number"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// FileStore keeps the corpus in a JSON file. Paths ending in .gz are gzip
// compressed.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) Load(_ context.Context) (*Corpus, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorpusLoad, err)
	}
	defer f.Close()
	var r io.Reader = bufio.NewReader(f)
	if s.compressed() {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrCorpusLoad, s.path, err)
		}
		defer gz.Close()
		r = gz
	}
	return Decode(r)
}

// Decode reads a corpus envelope from r.
func Decode(r io.Reader) (*Corpus, error) {
	var env fileEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", domain.ErrCorpusLoad, err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", domain.ErrCorpusLoad, env.Version)
	}
	segments := make([]domain.Segment, len(env.Segments))
	for i, fs := range env.Segments {
		segments[i] = domain.Segment{
			Title:     fs.Title,
			Number:    fs.Number,
			Start:     fs.Start,
			End:       fs.End,
			Text:      fs.Text,
			Embedding: fs.Embedding,
		}
	}
	c, err := New(env.Model, segments)
	if err != nil {
		return nil, err
	}
	if env.Dimension != 0 && env.Dimension != c.Dimension() {
		return nil, fmt.Errorf("%w: header declares %d dimensions, segments have %d", domain.ErrCorpusLoad, env.Dimension, c.Dimension())
	}
	return c, nil
}

// Encode writes c to w as a versioned envelope.
func Encode(w io.Writer, c *Corpus) error {
	if c == nil {
		return errors.New("nil corpus")
	}
	env := fileEnvelope{
		Version:   FormatVersion,
		Model:     c.Model(),
		Dimension: c.Dimension(),
		Segments:  make([]fileSegment, c.Len()),
	}
	for i := 0; i < c.Len(); i++ {
		s := c.Segment(i)
		env.Segments[i] = fileSegment{
			Title:     s.Title,
			Number:    s.Number,
			Start:     s.Start,
			End:       s.End,
			Text:      s.Text,
			Embedding: s.Embedding,
		}
	}
	return json.NewEncoder(w).Encode(env)
}

// Save writes to a temporary file next to the target and renames it into place.
func (s *FileStore) Save(_ context.Context, c *Corpus) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	var w io.Writer = bw
	var gz *gzip.Writer
	if s.compressed() {
		gz = gzip.NewWriter(bw)
		w = gz
	}
	if err := Encode(w, c); err != nil {
		tmp.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) compressed() bool {
	return strings.HasSuffix(strings.ToLower(s.path), ".gz")
}
