package rating_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/newstrust/trust-engine/internal/model"
	"github.com/newstrust/trust-engine/internal/rating"
	"github.com/newstrust/trust-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func star(n int64) *int64 {
	return &n
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*rating.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := rating.NewService(ms, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/feedback", svc.HandleFeedback)
	r.Get("/api/v1/ratings", svc.ListRatings)
	r.Get("/api/v1/ratings/{sourceID}/{categoryID}", svc.GetRating)
	r.Post("/api/v1/predictions", svc.CreatePrediction)
	r.Get("/api/v1/predictions", svc.ListPredictions)
	r.Get("/api/v1/predictions/{predictionID}", svc.GetPrediction)

	return svc, ms, r
}

// seedPrediction creates a test prediction directly in the store.
func seedPrediction(t *testing.T, ms *store.MemoryStore, id string, sourceID, categoryID int64) *model.Prediction {
	t.Helper()
	pred := &model.Prediction{
		ID:         id,
		SourceID:   sourceID,
		CategoryID: categoryID,
		Symbol:     "TCS",
		TargetDate: time.Now().UTC().AddDate(0, 0, 1),
		Outcome:    model.OutcomePending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := ms.CreatePrediction(context.Background(), pred); err != nil {
		t.Fatalf("failed to seed prediction: %v", err)
	}
	return pred
}

func doFeedback(t *testing.T, router chi.Router, req rating.FeedbackRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/feedback", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

// --- Feedback tests ---

func TestHandleFeedback_Bootstrap(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	w := doFeedback(t, router, rating.FeedbackRequest{
		PredictionID: "pred-1",
		Outcome:      "Correct",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var rec model.RatingRecord
	json.Unmarshal(w.Body.Bytes(), &rec)

	if !rec.Rating.Equal(d(10)) {
		t.Errorf("first observation should set rating exactly, got %s", rec.Rating)
	}
	if rec.RatingCount != 1 {
		t.Errorf("expected count=1, got %d", rec.RatingCount)
	}
	if rec.LastUpdated.IsZero() {
		t.Error("expected non-zero last_updated")
	}
}

func TestHandleFeedback_MixedOutcomeSequence(t *testing.T) {
	// Correct → rating 10. Wrong → rating 5. Partial with 5 stars → 5.8333.
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	steps := []struct {
		req        rating.FeedbackRequest
		wantRating float64
		wantCount  int64
	}{
		{rating.FeedbackRequest{PredictionID: "pred-1", Outcome: "Correct"}, 10.0, 1},
		{rating.FeedbackRequest{PredictionID: "pred-1", Outcome: "Wrong"}, 5.0, 2},
		{rating.FeedbackRequest{PredictionID: "pred-1", Outcome: "Partial", StarRating: star(5)}, 5.833333, 3},
	}

	tolerance := d(0.000001)
	for i, step := range steps {
		w := doFeedback(t, router, step.req)
		if w.Code != http.StatusOK {
			t.Fatalf("step %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		var rec model.RatingRecord
		json.Unmarshal(w.Body.Bytes(), &rec)

		if rec.Rating.Sub(d(step.wantRating)).Abs().GreaterThan(tolerance) {
			t.Errorf("step %d: expected rating ≈ %v, got %s", i, step.wantRating, rec.Rating)
		}
		if rec.RatingCount != step.wantCount {
			t.Errorf("step %d: expected count=%d, got %d", i, step.wantCount, rec.RatingCount)
		}
	}
}

func TestApplyFeedback_OnlineMatchesBatchMean(t *testing.T) {
	// Sequential folds must agree with the batch mean of the observations.
	svc, ms, _ := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	outcomes := []string{"Correct", "Wrong", "Partial", "Correct", "Wrong", "Correct", "Partial", "Wrong"}
	scores := map[string]float64{"Correct": 10, "Wrong": 0, "Partial": 5}

	var last *model.RatingRecord
	sum := 0.0
	for _, o := range outcomes {
		rec, err := svc.ApplyFeedback(context.Background(), rating.FeedbackRequest{
			PredictionID: "pred-1",
			Outcome:      o,
		})
		if err != nil {
			t.Fatalf("apply %s: %v", o, err)
		}
		last = rec
		sum += scores[o]
	}

	batch := d(sum / float64(len(outcomes)))
	if last.Rating.Sub(batch).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("online mean %s diverged from batch mean %s", last.Rating, batch)
	}
	if last.RatingCount != int64(len(outcomes)) {
		t.Errorf("expected count=%d, got %d", len(outcomes), last.RatingCount)
	}
}

func TestHandleFeedback_RepeatedSamePrediction(t *testing.T) {
	// No deduplication: every feedback call is a new observation.
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	for i := 0; i < 3; i++ {
		if w := doFeedback(t, router, rating.FeedbackRequest{PredictionID: "pred-1", Outcome: "Correct"}); w.Code != http.StatusOK {
			t.Fatalf("call %d failed: %d", i, w.Code)
		}
	}

	rec, err := ms.GetRating(context.Background(), model.RatingKey{SourceID: 1, CategoryID: 1})
	if err != nil {
		t.Fatalf("get rating: %v", err)
	}
	if rec.RatingCount != 3 {
		t.Errorf("expected 3 observations, got %d", rec.RatingCount)
	}
}

func TestHandleFeedback_UnknownOutcomeScoresNeutral(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	w := doFeedback(t, router, rating.FeedbackRequest{
		PredictionID: "pred-1",
		Outcome:      "SomewhatRight",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("malformed label must not fail the event: %d %s", w.Code, w.Body.String())
	}

	var rec model.RatingRecord
	json.Unmarshal(w.Body.Bytes(), &rec)
	if !rec.Rating.Equal(d(5)) {
		t.Errorf("unknown outcome should score neutral 5, got %s", rec.Rating)
	}

	// Unknown tokens must not be written back onto the prediction.
	pred, _ := ms.GetPrediction(context.Background(), "pred-1")
	if pred.Outcome != model.OutcomePending {
		t.Errorf("prediction outcome should stay Pending, got %s", pred.Outcome)
	}
}

func TestHandleFeedback_StarBlending(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	w := doFeedback(t, router, rating.FeedbackRequest{
		PredictionID: "pred-1",
		Outcome:      "Correct",
		StarRating:   star(4),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var rec model.RatingRecord
	json.Unmarshal(w.Body.Bytes(), &rec)
	// (10 + 4*2) / 2 = 9
	if !rec.Rating.Equal(d(9)) {
		t.Errorf("expected blended rating 9, got %s", rec.Rating)
	}
}

func TestHandleFeedback_StarOutOfRange(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	for _, s := range []int64{0, 6} {
		w := doFeedback(t, router, rating.FeedbackRequest{
			PredictionID: "pred-1",
			Outcome:      "Correct",
			StarRating:   star(s),
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("star=%d: expected 400, got %d", s, w.Code)
		}
	}

	// Rejected feedback must leave no trace.
	if _, err := ms.GetRating(context.Background(), model.RatingKey{SourceID: 1, CategoryID: 1}); err != store.ErrNotFound {
		t.Errorf("rejected feedback should not create a rating, got %v", err)
	}
}

func TestHandleFeedback_PredictionNotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doFeedback(t, router, rating.FeedbackRequest{
		PredictionID: "no-such-prediction",
		Outcome:      "Correct",
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleFeedback_MissingFields(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doFeedback(t, router, rating.FeedbackRequest{Outcome: "Correct"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing prediction_id: expected 400, got %d", w.Code)
	}

	w = doFeedback(t, router, rating.FeedbackRequest{PredictionID: "pred-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing outcome: expected 400, got %d", w.Code)
	}
}

func TestApplyFeedback_ConcurrentSameKey(t *testing.T) {
	// k concurrent events on the same key: count must rise by exactly k and
	// the rating must equal the mean of all observations — no lost updates.
	svc, ms, _ := newTestEnv(t)

	// Two predictions mapping to the same (source, category) key.
	seedPrediction(t, ms, "pred-a", 1, 1)
	seedPrediction(t, ms, "pred-b", 1, 1)

	const k = 40
	var wg sync.WaitGroup
	errs := make(chan error, k)

	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := rating.FeedbackRequest{PredictionID: "pred-a", Outcome: "Correct"}
			if i%2 == 1 {
				req = rating.FeedbackRequest{PredictionID: "pred-b", Outcome: "Wrong"}
			}
			if _, err := svc.ApplyFeedback(context.Background(), req); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent apply failed: %v", err)
	}

	rec, err := ms.GetRating(context.Background(), model.RatingKey{SourceID: 1, CategoryID: 1})
	if err != nil {
		t.Fatalf("get rating: %v", err)
	}
	if rec.RatingCount != k {
		t.Fatalf("lost update: expected count=%d, got %d", k, rec.RatingCount)
	}
	// Half Correct (10), half Wrong (0) → mean 5, modulo per-step rounding.
	if rec.Rating.Sub(d(5)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected rating ≈ 5, got %s", rec.Rating)
	}
}

func TestApplyFeedback_ConcurrentDistinctKeys(t *testing.T) {
	svc, ms, _ := newTestEnv(t)

	const keys = 8
	for i := int64(1); i <= keys; i++ {
		seedPrediction(t, ms, "pred-"+string(rune('a'+i-1)), i, 1)
	}

	var wg sync.WaitGroup
	for i := int64(1); i <= keys; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			id := "pred-" + string(rune('a'+i-1))
			for j := 0; j < 5; j++ {
				if _, err := svc.ApplyFeedback(context.Background(), rating.FeedbackRequest{
					PredictionID: id,
					Outcome:      "Partial",
				}); err != nil {
					t.Errorf("key %d: %v", i, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := int64(1); i <= keys; i++ {
		rec, err := ms.GetRating(context.Background(), model.RatingKey{SourceID: i, CategoryID: 1})
		if err != nil {
			t.Fatalf("key %d: %v", i, err)
		}
		if rec.RatingCount != 5 {
			t.Errorf("key %d: expected count=5, got %d", i, rec.RatingCount)
		}
	}
}

func TestHandleFeedback_AuditTrail(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	doFeedback(t, router, rating.FeedbackRequest{
		PredictionID: "pred-1",
		UserID:       "user1",
		Outcome:      "Correct",
		StarRating:   star(4),
	})

	if n := ms.FeedbackCount(); n != 1 {
		t.Errorf("expected 1 audit record, got %d", n)
	}

	pred, _ := ms.GetPrediction(context.Background(), "pred-1")
	if pred.Outcome != model.OutcomeCorrect {
		t.Errorf("expected outcome write-back, got %s", pred.Outcome)
	}
}

// --- Rating read tests ---

func TestGetRating_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/ratings/1/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for absent rating, got %d", w.Code)
	}
}

func TestGetRating_AfterFeedback(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 3, 7)

	doFeedback(t, router, rating.FeedbackRequest{PredictionID: "pred-1", Outcome: "Partial"})

	req := httptest.NewRequest("GET", "/api/v1/ratings/3/7", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var rec model.RatingRecord
	json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.SourceID != 3 || rec.CategoryID != 7 {
		t.Errorf("unexpected key: (%d,%d)", rec.SourceID, rec.CategoryID)
	}
	if !rec.Rating.Equal(d(5)) {
		t.Errorf("expected rating 5, got %s", rec.Rating)
	}
}

func TestListRatings_Filtered(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)
	seedPrediction(t, ms, "pred-2", 1, 2)
	seedPrediction(t, ms, "pred-3", 2, 1)

	for _, id := range []string{"pred-1", "pred-2", "pred-3"} {
		doFeedback(t, router, rating.FeedbackRequest{PredictionID: id, Outcome: "Correct"})
	}

	req := httptest.NewRequest("GET", "/api/v1/ratings?source_id=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var records []model.RatingRecord
	json.Unmarshal(w.Body.Bytes(), &records)
	if len(records) != 2 {
		t.Errorf("expected 2 records for source 1, got %d", len(records))
	}
}

func TestListRatings_Empty(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/ratings", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body == "null\n" {
		t.Error("expected empty array, got null")
	}
}

// --- Prediction API tests ---

func TestCreatePrediction_Valid(t *testing.T) {
	_, _, router := newTestEnv(t)

	body, _ := json.Marshal(rating.CreatePredictionRequest{
		SourceID:   1,
		CategoryID: 2,
		Symbol:     "INFY",
		TargetDate: "2026-09-01",
	})

	req := httptest.NewRequest("POST", "/api/v1/predictions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var pred model.Prediction
	json.Unmarshal(w.Body.Bytes(), &pred)

	if pred.ID == "" {
		t.Error("expected non-empty prediction_id")
	}
	if pred.Outcome != model.OutcomePending {
		t.Errorf("expected Pending outcome, got %s", pred.Outcome)
	}
	if pred.Symbol != "INFY" {
		t.Errorf("unexpected symbol: %s", pred.Symbol)
	}
}

func TestCreatePrediction_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)

	cases := []rating.CreatePredictionRequest{
		{CategoryID: 1, Symbol: "TCS", TargetDate: "2026-09-01"},               // missing source
		{SourceID: 1, Symbol: "TCS", TargetDate: "2026-09-01"},                 // missing category
		{SourceID: 1, CategoryID: 1, TargetDate: "2026-09-01"},                 // missing symbol
		{SourceID: 1, CategoryID: 1, Symbol: "TCS", TargetDate: "tomorrow"},    // bad date
		{SourceID: 1, CategoryID: 1, Symbol: "TCS", TargetDate: "01-09-2026"}, // bad date format
	}

	for i, c := range cases {
		body, _ := json.Marshal(c)
		req := httptest.NewRequest("POST", "/api/v1/predictions", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, w.Code)
		}
	}
}

func TestGetPrediction_RoundTrip(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPrediction(t, ms, "pred-1", 1, 1)

	req := httptest.NewRequest("GET", "/api/v1/predictions/pred-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/predictions/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown prediction, got %d", w.Code)
	}
}

func TestListPredictions_Limit(t *testing.T) {
	_, ms, router := newTestEnv(t)
	for i := 0; i < 5; i++ {
		seedPrediction(t, ms, "pred-"+string(rune('a'+i)), 1, 1)
	}

	req := httptest.NewRequest("GET", "/api/v1/predictions?limit=3", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var predictions []model.Prediction
	json.Unmarshal(w.Body.Bytes(), &predictions)
	if len(predictions) != 3 {
		t.Errorf("expected 3 predictions, got %d", len(predictions))
	}
}
