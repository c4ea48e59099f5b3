package corpus

import "context"

// Store persists a whole corpus and loads it back. Saving replaces whatever
// the store held before.
type Store interface {
	Load(ctx context.Context) (*Corpus, error)
	Save(ctx context.Context, c *Corpus) error
	Close() error
}
