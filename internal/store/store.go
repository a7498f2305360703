// Package store defines the persistence interface for the trust engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/newstrust/trust-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an optimistic rating commit loses to a
	// concurrent writer. Callers re-read and retry.
	ErrConflict = errors.New("store: concurrent write conflict")
)

// RatingFilter narrows rating listings. Zero fields mean no filter.
type RatingFilter struct {
	SourceID   int64
	CategoryID int64
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Rating store ---

	// GetRating retrieves the rating record for a key, or ErrNotFound if no
	// feedback has ever been recorded for it.
	GetRating(ctx context.Context, key model.RatingKey) (*model.RatingRecord, error)

	// CommitRating atomically persists a rating record computed from a prior
	// state with prevCount observations. prevCount == 0 inserts a fresh
	// record; otherwise the update only lands if the stored rating_count
	// still equals prevCount. Either way a concurrent writer surfaces as
	// ErrConflict — never a lost update.
	CommitRating(ctx context.Context, rec *model.RatingRecord, prevCount int64) error

	// ListRatings returns rating records, optionally filtered by source
	// and/or category.
	ListRatings(ctx context.Context, f RatingFilter) ([]model.RatingRecord, error)

	// --- Prediction registry ---

	// CreatePrediction persists a new prediction.
	CreatePrediction(ctx context.Context, p *model.Prediction) error

	// GetPrediction resolves a prediction by ID, or ErrNotFound.
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)

	// ListPredictions returns the most recent predictions, newest first.
	ListPredictions(ctx context.Context, limit int) ([]model.Prediction, error)

	// SetPredictionOutcome records the latest feedback outcome on the
	// prediction row. Informational only; rating math never reads it.
	SetPredictionOutcome(ctx context.Context, id, outcome string) error

	// --- Feedback audit ---

	// InsertFeedback appends an immutable feedback event record.
	InsertFeedback(ctx context.Context, fb *model.Feedback) error

	// --- Ingestion ---

	// UpsertSource creates the source if missing and fills in its ID.
	UpsertSource(ctx context.Context, s *model.Source) error

	// UpsertCategory creates the category if missing and returns its ID.
	UpsertCategory(ctx context.Context, name string) (int64, error)

	// SaveArticle stores an article unless its URL was already seen.
	// Returns false when the article was a duplicate.
	SaveArticle(ctx context.Context, a *model.Article) (bool, error)

	// GetArticle retrieves an article by ID, or ErrNotFound.
	GetArticle(ctx context.Context, id int64) (*model.Article, error)
}
