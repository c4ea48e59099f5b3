package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"courseqa/internal/chunker"
	"courseqa/internal/corpus"
	"courseqa/internal/domain"
	"courseqa/internal/transcript"
)

// Builder turns subtitle files into a corpus of embedded segments. Every build
// starts from scratch.
type Builder struct {
	chunker     *chunker.CueChunker
	embedder    domain.Embedder
	batchSize   int
	concurrency int
}

func NewBuilder(ch *chunker.CueChunker, embedder domain.Embedder, batchSize, concurrency int) *Builder {
	if batchSize <= 0 {
		batchSize = 32
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Builder{chunker: ch, embedder: embedder, batchSize: batchSize, concurrency: concurrency}
}

type video struct {
	path   string
	number int
	title  string
}

// Build expands path globs, reads every .srt file, segments and embeds it.
// Videos are ordered by number, then by path.
func (b *Builder) Build(ctx context.Context, paths []string) (*corpus.Corpus, error) {
	videos, err := collect(paths)
	if err != nil {
		return nil, err
	}

	var segments []domain.Segment
	for _, v := range videos {
		f, err := os.Open(v.path)
		if err != nil {
			return nil, err
		}
		cues, err := transcript.ParseSRT(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", v.path, err)
		}
		spans := b.chunker.Chunk(cues)
		slog.Info("transcript parsed", "file", v.path, "number", v.number, "title", v.title, "cues", len(cues), "segments", len(spans))
		for _, sp := range spans {
			segments = append(segments, domain.Segment{
				Title:  v.title,
				Number: v.number,
				Start:  sp.Start,
				End:    sp.End,
				Text:   sp.Text,
			})
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no transcript segments found in %d file(s)", len(videos))
	}

	if err := b.embed(ctx, segments); err != nil {
		return nil, err
	}
	return corpus.New(b.embedder.Model(), segments)
}

// embed fills in embeddings batch by batch; each batch is one provider call.
func (b *Builder) embed(ctx context.Context, segments []domain.Segment) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(segments); start += b.batchSize {
		end := min(start+b.batchSize, len(segments))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = segments[start+i].Text
			}
			vecs, err := b.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed segments %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("%w: got %d vectors for %d segments", domain.ErrProviderResponseInvalid, len(vecs), len(texts))
			}
			for i, v := range vecs {
				segments[start+i].Embedding = v
			}
			slog.Debug("batch embedded", "from", start, "to", end-1)
			return nil
		})
	}
	return g.Wait()
}

func collect(paths []string) ([]video, error) {
	seen := map[string]struct{}{}
	var videos []video
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !strings.HasSuffix(strings.ToLower(m), ".srt") {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			n, title := transcript.ParseVideoName(m)
			videos = append(videos, video{path: m, number: n, title: title})
		}
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("no .srt transcripts found")
	}
	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i].number, videos[j].number
		if (a == 0) != (b == 0) {
			return b == 0
		}
		if a != b {
			return a < b
		}
		return videos[i].path < videos[j].path
	})
	// Unnumbered files follow the numbered ones in path order.
	next := 1
	for _, v := range videos {
		if v.number >= next {
			next = v.number + 1
		}
	}
	for i := range videos {
		if videos[i].number == 0 {
			videos[i].number = next
			next++
		}
	}
	return videos, nil
}
