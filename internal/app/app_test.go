package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/documents"
)

func clearProviderEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "FIRECRAWL_API_KEY", "TAVILY_API_KEY"} {
		t.Setenv(k, "")
	}
}

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestNewLLMClientRequiresProvider(t *testing.T) {
	clearProviderEnv(t)
	_, err := NewLLMClient(context.Background(), zap.NewNop())
	assert.ErrorIs(t, err, ErrNoLLMProvider)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	c, err := NewLLMClient(context.Background(), zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestBuildWithDefaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := loadDefaults(t)

	c, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Pipeline)
	assert.NotNil(t, c.Stream)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.DB)
	assert.Nil(t, c.Searcher)
	assert.IsType(t, &documents.MemoryStore{}, c.Docs)
}

func TestBuildUsesRedisAndSearch(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TAVILY_API_KEY", "tvly-test")
	mr := miniredis.RunT(t)
	cfg := loadDefaults(t)
	cfg.Redis.Addr = mr.Addr()

	c, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Redis)
	require.NotNil(t, c.Searcher)
	assert.Equal(t, config.SearchTavily, c.Searcher.Provider())
}

func TestBuildToleratesUnreachableRedis(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg := loadDefaults(t)
	cfg.Redis.Addr = addr

	c, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.Redis)
}

func TestNewDocumentStore(t *testing.T) {
	cfg := loadDefaults(t)

	cfg.Documents.Backend = "sql"
	_, err := newDocumentStore(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS research_documents").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := newDocumentStore(context.Background(), cfg, sqlx.NewDb(db, "postgres"), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &documents.SQLStore{}, s)
	require.NoError(t, mock.ExpectationsWereMet())

	cfg.Documents.Backend = "s3"
	_, err = newDocumentStore(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)

	cfg.Documents.Backend = "ftp"
	_, err = newDocumentStore(context.Background(), cfg, nil, zap.NewNop())
	assert.Error(t, err)
}
