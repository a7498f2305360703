package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/newstrust/trust-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: rating lookups during feedback and
// prediction resolution. Commits go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Rating store ---

func (s *CachedStore) GetRating(ctx context.Context, key model.RatingKey) (*model.RatingRecord, error) {
	data, err := s.rdb.Get(ctx, ratingKey(key)).Bytes()
	if err == nil {
		var rec model.RatingRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetRating(ctx, key)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rec); err == nil {
		s.rdb.Set(ctx, ratingKey(key), data, s.ttl)
	}
	return rec, nil
}

// CommitRating writes through to the primary and drops the cached record.
// The stale entry must go even on ErrConflict: the conflicting writer has
// already changed what is current.
func (s *CachedStore) CommitRating(ctx context.Context, rec *model.RatingRecord, prevCount int64) error {
	err := s.primary.CommitRating(ctx, rec, prevCount)
	s.rdb.Del(ctx, ratingKey(rec.Key()))
	return err
}

func (s *CachedStore) ListRatings(ctx context.Context, f RatingFilter) ([]model.RatingRecord, error) {
	return s.primary.ListRatings(ctx, f)
}

// --- Prediction registry ---

func (s *CachedStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	if err := s.primary.CreatePrediction(ctx, p); err != nil {
		return err
	}
	s.cachePrediction(ctx, p)
	return nil
}

func (s *CachedStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	data, err := s.rdb.Get(ctx, predictionKey(id)).Bytes()
	if err == nil {
		var p model.Prediction
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPrediction(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePrediction(ctx, p)
	return p, nil
}

func (s *CachedStore) ListPredictions(ctx context.Context, limit int) ([]model.Prediction, error) {
	return s.primary.ListPredictions(ctx, limit)
}

func (s *CachedStore) SetPredictionOutcome(ctx context.Context, id, outcome string) error {
	if err := s.primary.SetPredictionOutcome(ctx, id, outcome); err != nil {
		return err
	}
	s.rdb.Del(ctx, predictionKey(id))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertFeedback(ctx context.Context, fb *model.Feedback) error {
	return s.primary.InsertFeedback(ctx, fb)
}

func (s *CachedStore) UpsertSource(ctx context.Context, src *model.Source) error {
	return s.primary.UpsertSource(ctx, src)
}

func (s *CachedStore) UpsertCategory(ctx context.Context, name string) (int64, error) {
	return s.primary.UpsertCategory(ctx, name)
}

func (s *CachedStore) SaveArticle(ctx context.Context, a *model.Article) (bool, error) {
	return s.primary.SaveArticle(ctx, a)
}

func (s *CachedStore) GetArticle(ctx context.Context, id int64) (*model.Article, error) {
	return s.primary.GetArticle(ctx, id)
}

// --- Cache helpers ---

func (s *CachedStore) cachePrediction(ctx context.Context, p *model.Prediction) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, predictionKey(p.ID), data, s.ttl)
	}
}

func ratingKey(k model.RatingKey) string {
	return fmt.Sprintf("rating:%d:%d", k.SourceID, k.CategoryID)
}

func predictionKey(id string) string { return fmt.Sprintf("prediction:%s", id) }
