// Package app wires the research pipeline from configuration. It is shared
// by the service binary and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/budget"
	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/documents"
	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/research"
	"github.com/sparka-ai/deepresearch/internal/search"
	"github.com/sparka-ai/deepresearch/internal/streaming"
	"github.com/sparka-ai/deepresearch/internal/tracing"
)

var ErrNoLLMProvider = errors.New("no LLM provider configured: set OPENAI_API_KEY or GEMINI_API_KEY")

// Components are the long-lived dependencies of a research process.
type Components struct {
	Pipeline *research.Pipeline
	Docs     documents.Store
	Stream   *streaming.Manager
	Redis    *redis.Client
	DB       *sqlx.DB
	Searcher search.Searcher

	closers []func() error
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build connects the optional stores and assembles the pipeline. Redis is
// best effort: when unreachable, streaming stays in-process.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	fail := func(err error) (*Components, error) {
		_ = c.Close()
		return nil, err
	}

	client, err := NewLLMClient(ctx, logger)
	if err != nil {
		return fail(err)
	}

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("Redis unavailable, streaming stays in-process", zap.String("addr", addr), zap.Error(err))
			_ = rdb.Close()
		} else {
			c.Redis = rdb
			c.closers = append(c.closers, rdb.Close)
		}
	}
	c.Stream = streaming.NewManager(c.Redis, logger)
	c.Stream.SetStreamLen(cfg.Redis.StreamLen)

	if driver := strings.TrimSpace(cfg.Database.Driver); driver != "" {
		db, err := sqlx.Open(driver, cfg.Database.DSN)
		if err != nil {
			return fail(fmt.Errorf("open database: %w", err))
		}
		c.DB = db
		c.closers = append(c.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fail(fmt.Errorf("ping database: %w", err))
		}
	}

	c.Docs, err = newDocumentStore(ctx, cfg, c.DB, logger)
	if err != nil {
		return fail(err)
	}

	opts := []research.Option{research.WithStream(c.Stream)}
	if c.DB != nil {
		rec := budget.NewRecorder(c.DB, logger)
		if err := rec.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("cost ledger schema: %w", err))
		}
		opts = append(opts, research.WithRecorder(rec))
	}

	runtime := cfg.Runtime()
	if runtime.SearchAPI.Enabled() {
		c.Searcher, err = search.New(runtime.SearchAPI, search.Options{
			APIKey:            searchKey(runtime.SearchAPI),
			Timeout:           cfg.Search.Timeout,
			RequestsPerMinute: cfg.Search.RequestsPerMinute,
			CacheSize:         cfg.Search.CacheSize,
		}, logger)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, research.WithSearcher(c.Searcher))
		logger.Info("Web search enabled", zap.String("provider", string(runtime.SearchAPI)))
	} else {
		logger.Info("Web search disabled: no provider credentials")
	}

	c.Pipeline = research.NewPipeline(client, c.Docs, logger, opts...)
	return c, nil
}

// NewLLMClient registers every provider with credentials behind a traced router.
func NewLLMClient(ctx context.Context, logger *zap.Logger) (llm.Client, error) {
	router := llm.NewRouter("openai")
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		router.Register("openai", llm.NewOpenAIClient(key))
	}
	key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if key != "" {
		gc, err := llm.NewGeminiClient(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		router.Register("google", gc)
	}
	if len(router.Providers()) == 0 {
		return nil, ErrNoLLMProvider
	}
	logger.Info("LLM providers registered", zap.Strings("providers", router.Providers()))
	return llm.NewTraced(router, tracing.Tracer(), logger), nil
}

func newDocumentStore(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *zap.Logger) (documents.Store, error) {
	switch backend := strings.ToLower(strings.TrimSpace(cfg.Documents.Backend)); backend {
	case "", "memory":
		logger.Warn("Reports are kept in memory only")
		return documents.NewMemoryStore(), nil
	case "sql":
		if db == nil {
			return nil, fmt.Errorf("documents backend sql requires database.driver")
		}
		s := documents.NewSQLStore(db, logger)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("documents schema: %w", err)
		}
		return s, nil
	case "s3":
		s3 := cfg.Documents.S3
		return documents.NewS3Store(documents.S3Config{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			UseSSL:    s3.UseSSL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown documents backend %q", backend)
	}
}

func searchKey(api config.SearchAPI) string {
	switch api {
	case config.SearchFirecrawl:
		return strings.TrimSpace(os.Getenv("FIRECRAWL_API_KEY"))
	case config.SearchTavily:
		return strings.TrimSpace(os.Getenv("TAVILY_API_KEY"))
	default:
		return ""
	}
}
