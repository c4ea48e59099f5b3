package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	_ "modernc.org/sqlite"

	"courseqa/internal/corpus"
	"courseqa/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS corpus_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
	position  INTEGER PRIMARY KEY,
	title     TEXT    NOT NULL,
	number    INTEGER NOT NULL,
	start_sec REAL    NOT NULL,
	end_sec   REAL    NOT NULL,
	text      TEXT    NOT NULL,
	embedding BLOB    NOT NULL
);`

// Storage keeps the embedding table in a SQLite database file.
type Storage struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path.
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// OpenExisting opens a database that must already exist. Loading a corpus
// through a mistyped path fails instead of creating an empty file.
func OpenExisting(path string) (*Storage, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorpusLoad, err)
	}
	return Open(path)
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) Load(ctx context.Context) (*corpus.Corpus, error) {
	meta, err := s.meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorpusLoad, err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT title, number, start_sec, end_sec, text, embedding FROM segments ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: query segments: %w", domain.ErrCorpusLoad, err)
	}
	defer rows.Close()

	var segments []domain.Segment
	for rows.Next() {
		var seg domain.Segment
		var blob []byte
		if err := rows.Scan(&seg.Title, &seg.Number, &seg.Start, &seg.End, &seg.Text, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan segment: %w", domain.ErrCorpusLoad, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d: %w", domain.ErrCorpusLoad, len(segments), err)
		}
		seg.Embedding = vec
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorpusLoad, err)
	}
	c, err := corpus.New(meta["model"], segments)
	if err != nil {
		return nil, err
	}
	if d, ok := meta["dimension"]; ok {
		if n, err := strconv.Atoi(d); err != nil || n != c.Dimension() {
			return nil, fmt.Errorf("%w: stored dimension %q does not match segments (%d)", domain.ErrCorpusLoad, d, c.Dimension())
		}
	}
	return c, nil
}

// Save replaces the stored corpus in a single transaction.
func (s *Storage) Save(ctx context.Context, c *corpus.Corpus) error {
	if c == nil {
		return errors.New("nil corpus")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments`); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM corpus_meta`); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}
	meta := map[string]string{
		"version":   strconv.Itoa(corpus.FormatVersion),
		"model":     c.Model(),
		"dimension": strconv.Itoa(c.Dimension()),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO corpus_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("insert meta %s: %w", k, err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO segments (position, title, number, start_sec, end_sec, text, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < c.Len(); i++ {
		seg := c.Segment(i)
		if _, err := stmt.ExecContext(ctx, i, seg.Title, seg.Number, seg.Start, seg.End, seg.Text, encodeVector(seg.Embedding)); err != nil {
			return fmt.Errorf("insert segment %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM corpus_meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if v, ok := out["version"]; ok && v != strconv.Itoa(corpus.FormatVersion) {
		return nil, fmt.Errorf("unsupported format version %s", v)
	}
	return out, nil
}

// Vectors are stored as little-endian float32, four bytes per value.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
