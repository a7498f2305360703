package store

import (
	"context"
	"sort"
	"sync"

	"github.com/newstrust/trust-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). The commit
// predicate matches the Postgres implementation exactly so the engine's
// retry loop behaves identically against both.
type MemoryStore struct {
	mu          sync.RWMutex
	ratings     map[model.RatingKey]*model.RatingRecord
	predictions map[string]*model.Prediction
	feedback    []model.Feedback
	sources     map[string]*model.Source
	categories  map[string]int64
	articles    map[int64]*model.Article
	articleURLs map[string]int64
	nextSource  int64
	nextCat     int64
	nextArticle int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ratings:     make(map[model.RatingKey]*model.RatingRecord),
		predictions: make(map[string]*model.Prediction),
		sources:     make(map[string]*model.Source),
		categories:  make(map[string]int64),
		articles:    make(map[int64]*model.Article),
		articleURLs: make(map[string]int64),
	}
}

// --- Rating store ---

func (s *MemoryStore) GetRating(_ context.Context, key model.RatingKey) (*model.RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.ratings[key]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *rec
	return &copy, nil
}

func (s *MemoryStore) CommitRating(_ context.Context, rec *model.RatingRecord, prevCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	existing, ok := s.ratings[key]

	if prevCount == 0 {
		if ok {
			return ErrConflict
		}
	} else {
		if !ok || existing.RatingCount != prevCount {
			return ErrConflict
		}
	}

	copy := *rec
	s.ratings[key] = &copy
	return nil
}

func (s *MemoryStore) ListRatings(_ context.Context, f RatingFilter) ([]model.RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []model.RatingRecord
	for _, rec := range s.ratings {
		if f.SourceID != 0 && rec.SourceID != f.SourceID {
			continue
		}
		if f.CategoryID != 0 && rec.CategoryID != f.CategoryID {
			continue
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].SourceID != records[j].SourceID {
			return records[i].SourceID < records[j].SourceID
		}
		return records[i].CategoryID < records[j].CategoryID
	})
	return records, nil
}

// --- Prediction registry ---

func (s *MemoryStore) CreatePrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.predictions[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPrediction(_ context.Context, id string) (*model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPredictions(_ context.Context, limit int) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	predictions := make([]model.Prediction, 0, len(s.predictions))
	for _, p := range s.predictions {
		predictions = append(predictions, *p)
	}
	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].CreatedAt.After(predictions[j].CreatedAt)
	})
	if limit > 0 && len(predictions) > limit {
		predictions = predictions[:limit]
	}
	return predictions, nil
}

func (s *MemoryStore) SetPredictionOutcome(_ context.Context, id, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[id]
	if !ok {
		return ErrNotFound
	}
	p.Outcome = outcome
	return nil
}

// --- Feedback audit ---

func (s *MemoryStore) InsertFeedback(_ context.Context, fb *model.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback = append(s.feedback, *fb)
	return nil
}

// FeedbackCount reports how many feedback events were recorded. Test helper.
func (s *MemoryStore) FeedbackCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.feedback)
}

// --- Ingestion ---

func (s *MemoryStore) UpsertSource(_ context.Context, src *model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sources[src.Name]; ok {
		existing.FeedURL = src.FeedURL
		src.ID = existing.ID
		return nil
	}
	s.nextSource++
	src.ID = s.nextSource
	copy := *src
	s.sources[src.Name] = &copy
	return nil
}

func (s *MemoryStore) UpsertCategory(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.categories[name]; ok {
		return id, nil
	}
	s.nextCat++
	s.categories[name] = s.nextCat
	return s.nextCat, nil
}

func (s *MemoryStore) SaveArticle(_ context.Context, a *model.Article) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.articleURLs[a.URL]; ok {
		return false, nil
	}
	s.nextArticle++
	a.ID = s.nextArticle
	copy := *a
	s.articles[a.ID] = &copy
	s.articleURLs[a.URL] = a.ID
	return true, nil
}

func (s *MemoryStore) GetArticle(_ context.Context, id int64) (*model.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}
