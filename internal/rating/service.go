// Package rating provides the source-trust rating engine and its HTTP
// handlers: applying feedback to (source, category) ratings, registering
// predictions, and serving rating reads.
//
// Rating updates are read-modify-write cycles against the store's optimistic
// commit primitive. Two feedback events racing on the same key both land, in
// some serial order; a lost update is a correctness bug, not an acceptable
// race.
package rating

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/newstrust/trust-engine/internal/metrics"
	"github.com/newstrust/trust-engine/internal/model"
	"github.com/newstrust/trust-engine/internal/score"
	"github.com/newstrust/trust-engine/internal/store"
)

// maxCommitRetries bounds the optimistic retry loop. Conflicts require a
// truly interleaved writer on the same key, so a handful of attempts is
// enough to absorb any realistic contention burst.
const maxCommitRetries = 5

// ErrContention is returned when the commit loop exhausts its retries.
// The caller may safely resubmit the feedback event.
var ErrContention = errors.New("rating: too many concurrent updates for key, retry")

// Service owns the rating update engine. The store handle is injected —
// never a package-level singleton — so tests run against the in-memory
// implementation of the same atomic commit contract.
type Service struct {
	store store.Store
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new rating service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{store: st, wsHub: hub}
}

// --- Request/Response types ---

// FeedbackRequest is the JSON body for POST /feedback.
type FeedbackRequest struct {
	PredictionID string `json:"prediction_id"`
	UserID       string `json:"user_id,omitempty"`
	Outcome      string `json:"outcome"`               // Correct | Partial | Wrong
	StarRating   *int64 `json:"star_rating,omitempty"` // optional, 1–5
}

// CreatePredictionRequest is the JSON body for POST /predictions.
type CreatePredictionRequest struct {
	SourceID   int64  `json:"source_id"`
	CategoryID int64  `json:"category_id"`
	Symbol     string `json:"symbol"`
	TargetDate string `json:"target_date"` // YYYY-MM-DD
}

// --- Update engine ---

// ApplyFeedback folds one feedback observation into the rating for the
// prediction's (source, category) key and returns the post-update record.
//
// The cycle is: resolve prediction → classify outcome → read current rating
// → fold → commit. On a commit conflict the read-fold-commit is retried with
// a fresh snapshot, so concurrent feedback for the same key serializes
// without losing observations. Nothing is persisted unless the commit lands.
func (s *Service) ApplyFeedback(ctx context.Context, req FeedbackRequest) (*model.RatingRecord, error) {
	pred, err := s.store.GetPrediction(ctx, req.PredictionID)
	if err != nil {
		return nil, err
	}

	obs, err := score.Observation(req.Outcome, req.StarRating)
	if err != nil {
		return nil, err
	}

	key := model.RatingKey{SourceID: pred.SourceID, CategoryID: pred.CategoryID}

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		prevRating := decimal.Zero
		var prevCount int64

		cur, err := s.store.GetRating(ctx, key)
		switch {
		case err == nil:
			prevRating = cur.Rating
			prevCount = cur.RatingCount
		case errors.Is(err, store.ErrNotFound):
			// First observation for this key; record is created lazily.
		default:
			return nil, err
		}

		rec := &model.RatingRecord{
			SourceID:    key.SourceID,
			CategoryID:  key.CategoryID,
			Rating:      score.Fold(prevRating, prevCount, obs),
			RatingCount: prevCount + 1,
			LastUpdated: time.Now().UTC(),
		}

		err = s.store.CommitRating(ctx, rec, prevCount)
		if errors.Is(err, store.ErrConflict) {
			metrics.CommitConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}

		s.recordFeedback(ctx, pred.ID, req)
		return rec, nil
	}

	return nil, ErrContention
}

// recordFeedback appends the audit row and writes the outcome back onto the
// prediction. Both are informational; the committed rating is already the
// source of truth, so failures here are logged, not surfaced.
func (s *Service) recordFeedback(ctx context.Context, predictionID string, req FeedbackRequest) {
	fb := &model.Feedback{
		ID:           uuid.New().String(),
		PredictionID: predictionID,
		UserID:       req.UserID,
		Outcome:      req.Outcome,
		StarRating:   req.StarRating,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertFeedback(ctx, fb); err != nil {
		slog.Warn("feedback audit insert failed", "prediction", predictionID, "err", err)
	}

	if score.KnownOutcome(req.Outcome) {
		if err := s.store.SetPredictionOutcome(ctx, predictionID, req.Outcome); err != nil {
			slog.Warn("prediction outcome write-back failed", "prediction", predictionID, "err", err)
		}
	}
}

// --- HTTP Handlers ---

// HandleFeedback handles POST /api/v1/feedback
func (s *Service) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.PredictionID == "" {
		writeError(w, "prediction_id is required", http.StatusBadRequest)
		return
	}
	if req.Outcome == "" {
		writeError(w, "outcome is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	rec, err := s.ApplyFeedback(r.Context(), req)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "prediction not found: "+req.PredictionID, http.StatusNotFound)
		return
	case errors.Is(err, score.ErrStarOutOfRange):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrContention):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, "failed to apply feedback", http.StatusServiceUnavailable)
		return
	}

	metrics.FeedbackTotal.WithLabelValues(req.Outcome).Inc()
	metrics.FeedbackLatency.Observe(time.Since(start).Seconds())

	slog.Info("feedback applied",
		"prediction", req.PredictionID,
		"outcome", req.Outcome,
		"source", rec.SourceID,
		"category", rec.CategoryID,
		"rating", rec.Rating.String(),
		"count", rec.RatingCount,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "rating_updated",
			SourceID:     rec.SourceID,
			CategoryID:   rec.CategoryID,
			Rating:       rec.Rating.String(),
			RatingCount:  rec.RatingCount,
			PredictionID: req.PredictionID,
			Outcome:      req.Outcome,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// GetRating handles GET /api/v1/ratings/{sourceID}/{categoryID}
func (s *Service) GetRating(w http.ResponseWriter, r *http.Request) {
	sourceID, err1 := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	categoryID, err2 := strconv.ParseInt(chi.URLParam(r, "categoryID"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, "source and category IDs must be integers", http.StatusBadRequest)
		return
	}

	rec, err := s.store.GetRating(r.Context(), model.RatingKey{SourceID: sourceID, CategoryID: categoryID})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no rating recorded for this source and category", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load rating", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// ListRatings handles GET /api/v1/ratings
// Optional ?source_id= and ?category_id= filters.
func (s *Service) ListRatings(w http.ResponseWriter, r *http.Request) {
	var f store.RatingFilter
	if v := r.URL.Query().Get("source_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, "source_id must be an integer", http.StatusBadRequest)
			return
		}
		f.SourceID = id
	}
	if v := r.URL.Query().Get("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, "category_id must be an integer", http.StatusBadRequest)
			return
		}
		f.CategoryID = id
	}

	records, err := s.store.ListRatings(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list ratings", http.StatusServiceUnavailable)
		return
	}
	if records == nil {
		records = []model.RatingRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// CreatePrediction handles POST /api/v1/predictions
func (s *Service) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req CreatePredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.SourceID <= 0 || req.CategoryID <= 0 {
		writeError(w, "source_id and category_id are required", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	targetDate, err := time.Parse("2006-01-02", req.TargetDate)
	if err != nil {
		writeError(w, "target_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	pred := &model.Prediction{
		ID:         uuid.New().String(),
		SourceID:   req.SourceID,
		CategoryID: req.CategoryID,
		Symbol:     req.Symbol,
		TargetDate: targetDate,
		Outcome:    model.OutcomePending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.CreatePrediction(r.Context(), pred); err != nil {
		writeError(w, "failed to create prediction", http.StatusServiceUnavailable)
		return
	}

	metrics.PredictionsCreated.Inc()
	slog.Info("prediction created",
		"id", pred.ID,
		"source", pred.SourceID,
		"category", pred.CategoryID,
		"symbol", pred.Symbol,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pred)
}

// GetPrediction handles GET /api/v1/predictions/{predictionID}
func (s *Service) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "predictionID")

	pred, err := s.store.GetPrediction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "prediction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load prediction", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pred)
}

// ListPredictions handles GET /api/v1/predictions
// Optional ?limit= caps the result count (default 50).
func (s *Service) ListPredictions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	predictions, err := s.store.ListPredictions(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list predictions", http.StatusServiceUnavailable)
		return
	}
	if predictions == nil {
		predictions = []model.Prediction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(predictions)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
