package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
course:
  name: Go
embedder:
  model: nomic-embed-text
retrieval:
  top_k: 3
`))
	require.NoError(t, err)
	assert.Equal(t, "Go", cfg.Course.Name)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Embedder.BaseURL)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.True(t, cfg.Retrieval.VerifyDimension)
	assert.Equal(t, "openai/gpt-4o", cfg.Composer.Model)
	assert.Equal(t, "embeddings.json", cfg.Corpus.Path)
}

func TestLoadSqliteUsesDatabasePath(t *testing.T) {
	cfg, err := Load(writeConfig(t, "corpus:\n  type: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, "embeddings.db", cfg.Corpus.Path)

	cfg, err = Load(writeConfig(t, "corpus:\n  type: sqlite\n  path: /data/course.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/data/course.db", cfg.Corpus.Path)
}

func TestLoadKeepsExplicitCorpusPath(t *testing.T) {
	cfg, err := Load(writeConfig(t, "corpus:\n  type: sqlite\n  path: embeddings.json\n"))
	require.NoError(t, err)
	assert.Equal(t, "embeddings.json", cfg.Corpus.Path)

	cfg, err = Load(writeConfig(t, "corpus:\n  path: course.json.gz\n"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Corpus.Type)
	assert.Equal(t, "course.json.gz", cfg.Corpus.Path)
}

func TestLoadQdrantDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "corpus:\n  type: qdrant\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Corpus.Qdrant)
	assert.Equal(t, "localhost:6334", cfg.Corpus.Qdrant.Addr)
	assert.Equal(t, "course_segments", cfg.Corpus.Qdrant.Collection)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"unknown corpus": "corpus:\n  type: redis\n",
		"negative top_k": "retrieval:\n  top_k: -2\n",
		"overlap too big": "indexer:\n  cues_per_segment: 3\n  overlap_cues: 3\n",
		"malformed yaml":  "course: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Course.Name = "Rust"
	cfg.Prompt.MaxChars = 8000
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
