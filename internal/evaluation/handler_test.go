package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricesearch/receval/internal/dataset"
	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

type fakeRecorder struct {
	reports []*Report
}

func (f *fakeRecorder) Record(_ context.Context, r *Report) error {
	f.reports = append(f.reports, r)
	return nil
}

type fakeObserver struct {
	calls int
	errs  []error
}

func (f *fakeObserver) ObserveEvaluation(_ time.Duration, err error) {
	f.calls++
	f.errs = append(f.errs, err)
}

func newTestMux(opts ...HandlerOption) *http.ServeMux {
	h := NewHandler(Defaults{Metrics: []string{"recall"}, Cutoffs: []int{3}}, nil, nil, opts...)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func post(t *testing.T, mux http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Recommendations(t *testing.T) {
	recorder := &fakeRecorder{}
	observer := &fakeObserver{}
	mux := newTestMux(WithRecorder(recorder), WithObserver(observer))

	recs, truth := threeUsers()
	rec := post(t, mux, "/v1/evaluation/recommendations", RecommendationsRequest{
		Recommendations: recs.Rows,
		Holdout:         truth,
		Metrics:         []string{"recall", "ndcg"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Results, 2)
	assert.Equal(t, Result{Metric: "recall", Cutoff: 3, Value: 0.5}, report.Results[0])
	assert.InDelta(t, 0.5377, report.Results[1].Value, tolerance)

	require.Len(t, recorder.reports, 1)
	assert.Equal(t, report.RunID, recorder.reports[0].RunID)
	assert.Equal(t, 1, observer.calls)
	assert.NoError(t, observer.errs[0])
}

func TestHandler_Scores(t *testing.T) {
	mux := newTestMux()

	rec := post(t, mux, "/v1/evaluation/scores", ScoresRequest{
		Scores:  [][]float64{{0.1, 0.9}, {0.8, 0.2}},
		UserIDs: []int64{7, 8},
		Holdout: []dataset.Interaction{{UserID: 7, ItemID: 1}, {UserID: 8, ItemID: 1}},
		Cutoffs: []int{1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []Result{{Metric: "recall", Cutoff: 1, Value: 0.5}}, report.Results)
}

func TestHandler_Errors(t *testing.T) {
	observer := &fakeObserver{}
	mux := newTestMux(WithObserver(observer))

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "unknown metric",
			path:   "/v1/evaluation/recommendations",
			body:   RecommendationsRequest{Metrics: []string{"None"}},
			status: http.StatusBadRequest,
			code:   apperrors.CodeUnknownMetric,
		},
		{
			name:   "ragged scores",
			path:   "/v1/evaluation/scores",
			body:   ScoresRequest{Scores: [][]float64{{1, 2}, {3}}},
			status: http.StatusUnprocessableEntity,
			code:   apperrors.CodeShape,
		},
		{
			name: "user count mismatch",
			path: "/v1/evaluation/scores",
			body: ScoresRequest{
				Scores:  [][]float64{{1, 2, 3}, {3, 2, 1}},
				UserIDs: []int64{1},
				Holdout: []dataset.Interaction{{UserID: 1, ItemID: 1}},
			},
			status: http.StatusUnprocessableEntity,
			code:   apperrors.CodeUserCountMismatch,
		},
		{
			name: "mixed ranks",
			path: "/v1/evaluation/recommendations",
			body: RecommendationsRequest{
				Recommendations: []dataset.Recommendation{{UserID: 1, ItemID: 1, Rank: 1}, {UserID: 1, ItemID: 2}},
				Holdout:         []dataset.Interaction{{UserID: 1, ItemID: 1}},
			},
			status: http.StatusBadRequest,
			code:   apperrors.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
	assert.Equal(t, len(tests), observer.calls)
}

func TestHandler_InvalidJSON(t *testing.T) {
	observer := &fakeObserver{}
	mux := newTestMux(WithObserver(observer))
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluation/scores", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), apperrors.CodeInvalidRequest)
	require.Equal(t, 1, observer.calls)
	assert.Equal(t, apperrors.CodeInvalidRequest, apperrors.CodeOf(observer.errs[0]))
}

func TestHandler_BodyTooLarge(t *testing.T) {
	observer := &fakeObserver{}
	mux := newTestMux(WithObserver(observer))

	body := `{"recommendations": [` + strings.Repeat(`{"user_id": 1, "item_id": 1},`, 20) + `]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluation/recommendations", io.NopCloser(strings.NewReader(body)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(rec, req.Body, 64)
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeTooLarge, resp.Code)
	assert.Equal(t, "64", resp.Details["limit"])
	assert.Equal(t, 1, observer.calls)
}

func TestHandler_PerUser(t *testing.T) {
	mux := newTestMux()

	recs, truth := threeUsers()
	rec := post(t, mux, "/v1/evaluation/recommendations", RecommendationsRequest{
		Recommendations: recs.Rows,
		Holdout:         truth,
		PerUser:         true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.PerUser, 1)
	assert.Equal(t, "recall", report.PerUser[0].Metric)
	assertValues(t, []float64{0.5, 0, 1}, values(report.PerUser[0].Users))
}

func TestHandler_Metrics(t *testing.T) {
	mux := newTestMux()
	req := httptest.NewRequest(http.MethodGet, "/v1/evaluation/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Names(), resp.Metrics)
}

func TestRecommendationTable(t *testing.T) {
	recs, err := recommendationTable([]dataset.Recommendation{{UserID: 1, ItemID: 1}})
	require.NoError(t, err)
	assert.False(t, recs.Ranked)

	recs, err = recommendationTable([]dataset.Recommendation{{UserID: 1, ItemID: 1, Rank: 1}})
	require.NoError(t, err)
	assert.True(t, recs.Ranked)

	_, err = recommendationTable([]dataset.Recommendation{{UserID: 1, ItemID: 1, Rank: -1}})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}
