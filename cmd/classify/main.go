// Command classify consumes the article queue, categorizes each article with
// the LLM, and registers a prediction when the article carries a stock call.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/newstrust/trust-engine/internal/classify"
	"github.com/newstrust/trust-engine/internal/config"
	"github.com/newstrust/trust-engine/internal/metrics"
	"github.com/newstrust/trust-engine/internal/model"
	"github.com/newstrust/trust-engine/internal/queue"
	"github.com/newstrust/trust-engine/internal/store"
)

// predictionHorizon is how far out a fresh prediction's target date lands.
const predictionHorizon = 7 * 24 * time.Hour

func main() {
	godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" || cfg.RedisURL == "" {
		slog.Error("DATABASE_URL and REDIS_URL are required for the classify worker")
		os.Exit(1)
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required for the classify worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	q := queue.New(rdb, cfg.QueueName)
	categorizer := classify.NewCategorizer(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	slog.Info("classify worker started", "queue", cfg.QueueName, "model", cfg.OpenAIModel)

	for {
		articleID, err := q.Pop(ctx, 5*time.Second)
		if err != nil {
			if queue.IsEmpty(err) {
				continue
			}
			if ctx.Err() != nil {
				slog.Info("classify worker stopping")
				return
			}
			slog.Error("queue pop failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		if err := processArticle(ctx, st, categorizer, articleID); err != nil {
			slog.Error("classification failed", "article_id", articleID, "err", err)
			if ferr := q.Fail(ctx, articleID); ferr != nil {
				slog.Error("dead-letter push failed", "article_id", articleID, "err", ferr)
			}
		}
	}
}

func processArticle(ctx context.Context, st *store.PostgresStore, c *classify.Categorizer, articleID int64) error {
	article, err := st.GetArticle(ctx, articleID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("queued article no longer exists", "article_id", articleID)
		return nil
	}
	if err != nil {
		return err
	}

	result, err := c.Categorize(ctx, article)
	if err != nil {
		return err
	}

	categoryID, err := st.UpsertCategory(ctx, result.Category)
	if err != nil {
		return err
	}

	// Articles without a tradeable call are categorized but produce no
	// prediction, so no feedback can ever target them.
	if result.Symbol == "" {
		slog.Info("article categorized",
			"article_id", articleID,
			"category", result.Category,
		)
		return nil
	}

	pred := &model.Prediction{
		ID:         uuid.New().String(),
		SourceID:   article.SourceID,
		CategoryID: categoryID,
		Symbol:     result.Symbol,
		TargetDate: time.Now().UTC().Add(predictionHorizon),
		Outcome:    model.OutcomePending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.CreatePrediction(ctx, pred); err != nil {
		return err
	}
	metrics.PredictionsCreated.Inc()

	slog.Info("prediction registered",
		"article_id", articleID,
		"prediction_id", pred.ID,
		"category", result.Category,
		"symbol", result.Symbol,
	)
	return nil
}
