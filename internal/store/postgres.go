package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/newstrust/trust-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Ratings are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// psql builds queries with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS news_sources (
			source_id   BIGSERIAL PRIMARY KEY,
			source_name TEXT UNIQUE NOT NULL,
			source_url  TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			category_id   BIGSERIAL PRIMARY KEY,
			category_name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS news_ratings (
			source_id    BIGINT NOT NULL REFERENCES news_sources(source_id),
			category_id  BIGINT NOT NULL REFERENCES categories(category_id),
			rating       NUMERIC NOT NULL,
			rating_count BIGINT NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source_id, category_id)
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			prediction_id TEXT PRIMARY KEY,
			source_id     BIGINT NOT NULL REFERENCES news_sources(source_id),
			category_id   BIGINT NOT NULL REFERENCES categories(category_id),
			stock_symbol  TEXT NOT NULL,
			target_date   DATE NOT NULL,
			outcome       TEXT NOT NULL DEFAULT 'Pending',
			predicted_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			feedback_id   TEXT PRIMARY KEY,
			prediction_id TEXT NOT NULL REFERENCES predictions(prediction_id),
			user_id       TEXT,
			outcome       TEXT NOT NULL,
			star_rating   SMALLINT,
			feedback_time TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			article_id   BIGSERIAL PRIMARY KEY,
			source_id    BIGINT NOT NULL REFERENCES news_sources(source_id),
			title        TEXT NOT NULL,
			summary      TEXT,
			url          TEXT UNIQUE NOT NULL,
			published_at TIMESTAMPTZ,
			fetched_at   TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Rating store ---

func (s *PostgresStore) GetRating(ctx context.Context, key model.RatingKey) (*model.RatingRecord, error) {
	var rec model.RatingRecord
	var rating string

	err := s.pool.QueryRow(ctx,
		`SELECT source_id, category_id, rating::TEXT, rating_count, last_updated
		 FROM news_ratings WHERE source_id = $1 AND category_id = $2`,
		key.SourceID, key.CategoryID).
		Scan(&rec.SourceID, &rec.CategoryID, &rating, &rec.RatingCount, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rating (%d,%d): %w", key.SourceID, key.CategoryID, err)
	}

	rec.Rating, _ = decimal.NewFromString(rating)
	return &rec, nil
}

// CommitRating is the optimistic read-modify-write primitive. The predicate
// on rating_count serializes same-key writers: whichever commit lands first
// bumps the count and invalidates the other writer's snapshot.
func (s *PostgresStore) CommitRating(ctx context.Context, rec *model.RatingRecord, prevCount int64) error {
	if prevCount == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO news_ratings (source_id, category_id, rating, rating_count, last_updated)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5)
			 ON CONFLICT (source_id, category_id) DO NOTHING`,
			rec.SourceID, rec.CategoryID, rec.Rating.String(), rec.RatingCount, rec.LastUpdated)
		if err != nil {
			return fmt.Errorf("insert rating: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE news_ratings
		 SET rating = $3::NUMERIC, rating_count = $4, last_updated = $5
		 WHERE source_id = $1 AND category_id = $2 AND rating_count = $6`,
		rec.SourceID, rec.CategoryID, rec.Rating.String(), rec.RatingCount, rec.LastUpdated, prevCount)
	if err != nil {
		return fmt.Errorf("update rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListRatings(ctx context.Context, f RatingFilter) ([]model.RatingRecord, error) {
	q := psql.Select("source_id", "category_id", "rating::TEXT", "rating_count", "last_updated").
		From("news_ratings").
		OrderBy("source_id", "category_id")
	if f.SourceID != 0 {
		q = q.Where(sq.Eq{"source_id": f.SourceID})
	}
	if f.CategoryID != 0 {
		q = q.Where(sq.Eq{"category_id": f.CategoryID})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ratings query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.RatingRecord
	for rows.Next() {
		var rec model.RatingRecord
		var rating string
		if err := rows.Scan(&rec.SourceID, &rec.CategoryID, &rating, &rec.RatingCount, &rec.LastUpdated); err != nil {
			return nil, err
		}
		rec.Rating, _ = decimal.NewFromString(rating)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Prediction registry ---

func (s *PostgresStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO predictions (prediction_id, source_id, category_id, stock_symbol, target_date, outcome, predicted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SourceID, p.CategoryID, p.Symbol, p.TargetDate, p.Outcome, p.CreatedAt)
	return err
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	var p model.Prediction
	err := s.pool.QueryRow(ctx,
		`SELECT prediction_id, source_id, category_id, stock_symbol, target_date, outcome, predicted_at
		 FROM predictions WHERE prediction_id = $1`, id).
		Scan(&p.ID, &p.SourceID, &p.CategoryID, &p.Symbol, &p.TargetDate, &p.Outcome, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPredictions(ctx context.Context, limit int) ([]model.Prediction, error) {
	q := psql.Select("prediction_id", "source_id", "category_id", "stock_symbol", "target_date", "outcome", "predicted_at").
		From("predictions").
		OrderBy("predicted_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build predictions query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []model.Prediction
	for rows.Next() {
		var p model.Prediction
		if err := rows.Scan(&p.ID, &p.SourceID, &p.CategoryID, &p.Symbol, &p.TargetDate, &p.Outcome, &p.CreatedAt); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

func (s *PostgresStore) SetPredictionOutcome(ctx context.Context, id, outcome string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET outcome = $2 WHERE prediction_id = $1`, id, outcome)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Feedback audit ---

func (s *PostgresStore) InsertFeedback(ctx context.Context, fb *model.Feedback) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (feedback_id, prediction_id, user_id, outcome, star_rating, feedback_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fb.ID, fb.PredictionID, fb.UserID, fb.Outcome, fb.StarRating, fb.CreatedAt)
	return err
}

// --- Ingestion ---

func (s *PostgresStore) UpsertSource(ctx context.Context, src *model.Source) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO news_sources (source_name, source_url)
		 VALUES ($1, $2)
		 ON CONFLICT (source_name) DO UPDATE SET source_url = EXCLUDED.source_url
		 RETURNING source_id`,
		src.Name, src.FeedURL).Scan(&src.ID)
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", src.Name, err)
	}
	return nil
}

func (s *PostgresStore) UpsertCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO categories (category_name)
		 VALUES ($1)
		 ON CONFLICT (category_name) DO UPDATE SET category_name = EXCLUDED.category_name
		 RETURNING category_id`,
		name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert category %s: %w", name, err)
	}
	return id, nil
}

func (s *PostgresStore) SaveArticle(ctx context.Context, a *model.Article) (bool, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO articles (source_id, title, summary, url, published_at, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO NOTHING
		 RETURNING article_id`,
		a.SourceID, a.Title, a.Summary, a.URL, a.PublishedAt, a.FetchedAt).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save article: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, id int64) (*model.Article, error) {
	var a model.Article
	err := s.pool.QueryRow(ctx,
		`SELECT article_id, source_id, title, summary, url, published_at, fetched_at
		 FROM articles WHERE article_id = $1`, id).
		Scan(&a.ID, &a.SourceID, &a.Title, &a.Summary, &a.URL, &a.PublishedAt, &a.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article %d: %w", id, err)
	}
	return &a, nil
}
