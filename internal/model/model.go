// Package model defines the core domain types shared across the trust engine.
// Rating values use shopspring/decimal — never float64 for values of record.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatingKey identifies the (source, category) pair a trust rating is
// tracked under. Immutable once a prediction references it.
type RatingKey struct {
	SourceID   int64 `json:"source_id"`
	CategoryID int64 `json:"category_id"`
}

// RatingRecord holds the incrementally updated trust score for one key.
// Mutated only through the rating engine's commit path.
type RatingRecord struct {
	SourceID    int64           `json:"source_id" db:"source_id"`
	CategoryID  int64           `json:"category_id" db:"category_id"`
	Rating      decimal.Decimal `json:"rating" db:"rating"` // bounded in [0, 10]
	RatingCount int64           `json:"rating_count" db:"rating_count"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated"`
}

// Key returns the record's identity.
func (r *RatingRecord) Key() RatingKey {
	return RatingKey{SourceID: r.SourceID, CategoryID: r.CategoryID}
}

// Prediction outcome tokens. Anything else scores neutral.
const (
	OutcomePending = "Pending"
	OutcomeCorrect = "Correct"
	OutcomePartial = "Partial"
	OutcomeWrong   = "Wrong"
)

// Prediction is a stock recommendation derived from a classified article.
// Immutable after creation except for the informational outcome write-back.
type Prediction struct {
	ID         string    `json:"prediction_id" db:"prediction_id"`
	SourceID   int64     `json:"source_id" db:"source_id"`
	CategoryID int64     `json:"category_id" db:"category_id"`
	Symbol     string    `json:"symbol" db:"stock_symbol"`
	TargetDate time.Time `json:"target_date" db:"target_date"`
	Outcome    string    `json:"outcome" db:"outcome"` // "Pending" until feedback arrives
	CreatedAt  time.Time `json:"created_at" db:"predicted_at"`
}

// Feedback is the append-only audit record of one feedback event. The
// rating engine never reads it back; only its aggregate effect persists
// in the RatingRecord.
type Feedback struct {
	ID           string    `json:"feedback_id"`
	PredictionID string    `json:"prediction_id"`
	UserID       string    `json:"user_id,omitempty"`
	Outcome      string    `json:"outcome"`
	StarRating   *int64    `json:"star_rating,omitempty"` // 1–5 when present
	CreatedAt    time.Time `json:"created_at"`
}

// Source is a news publisher, typically one RSS origin.
type Source struct {
	ID      int64  `json:"source_id" db:"source_id"`
	Name    string `json:"name" db:"source_name"`
	FeedURL string `json:"feed_url,omitempty" db:"source_url"`
}

// Category is a topical classification bucket (Finance, Policy, ...).
type Category struct {
	ID   int64  `json:"category_id" db:"category_id"`
	Name string `json:"name" db:"category_name"`
}

// Article is an ingested news item, deduplicated by URL.
type Article struct {
	ID          int64     `json:"article_id" db:"article_id"`
	SourceID    int64     `json:"source_id" db:"source_id"`
	Title       string    `json:"title" db:"title"`
	Summary     string    `json:"summary" db:"summary"`
	URL         string    `json:"url" db:"url"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	FetchedAt   time.Time `json:"fetched_at" db:"fetched_at"`
}
