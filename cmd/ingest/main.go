// Command ingest fetches configured RSS feeds once, stores new articles, and
// enqueues them for classification. Intended to run on a schedule.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/newstrust/trust-engine/internal/config"
	"github.com/newstrust/trust-engine/internal/feed"
	"github.com/newstrust/trust-engine/internal/metrics"
	"github.com/newstrust/trust-engine/internal/model"
	"github.com/newstrust/trust-engine/internal/queue"
	"github.com/newstrust/trust-engine/internal/store"
)

func main() {
	godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required for ingestion")
		os.Exit(1)
	}

	feeds, err := config.LoadFeeds(cfg.FeedsPath)
	if err != nil {
		slog.Error("cannot load feeds file", "path", cfg.FeedsPath, "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("migration failed", "err", err)
		os.Exit(1)
	}

	// The classify queue is optional: without Redis, articles are stored but
	// wait for a later queue backfill.
	var q *queue.Queue
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		q = queue.New(rdb, cfg.QueueName)
	} else {
		slog.Warn("REDIS_URL not set, skipping classify queue")
	}

	fetcher := feed.NewFetcher(&http.Client{Timeout: cfg.FetchTimeout()})

	for _, fc := range feeds {
		src := &model.Source{Name: fc.Name, FeedURL: fc.URL}
		if err := st.UpsertSource(ctx, src); err != nil {
			slog.Error("source upsert failed", "source", fc.Name, "err", err)
			continue
		}

		articles, err := fetcher.Fetch(ctx, src.ID, fc.URL)
		if err != nil {
			slog.Error("feed fetch failed", "source", fc.Name, "err", err)
			continue
		}

		var saved, duplicated, failed int
		for i := range articles {
			a := &articles[i]
			created, err := st.SaveArticle(ctx, a)
			if err != nil {
				slog.Error("article save failed", "source", fc.Name, "url", a.URL, "err", err)
				failed++
				continue
			}
			if !created {
				duplicated++
				continue
			}

			saved++
			metrics.ArticlesIngested.WithLabelValues(fc.Name).Inc()

			if q != nil {
				if err := q.Push(ctx, a.ID); err != nil {
					slog.Error("queue push failed", "article_id", a.ID, "err", err)
					failed++
				}
			}
		}

		slog.Info("feed ingested",
			"source", fc.Name,
			"fetched", len(articles),
			"saved", saved,
			"duplicated", duplicated,
			"failed", failed,
		)
	}
}
