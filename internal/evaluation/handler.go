package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ricesearch/receval/internal/dataset"
	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
	"github.com/ricesearch/receval/internal/pkg/logger"
)

// Recorder persists finished reports.
type Recorder interface {
	Record(ctx context.Context, report *Report) error
}

// Observer is notified of every evaluation request outcome.
type Observer interface {
	ObserveEvaluation(elapsed time.Duration, err error)
}

// Defaults are applied to requests that leave metrics or cutoffs out.
type Defaults struct {
	Metrics     []string
	Cutoffs     []int
	Parallel    bool
	RequireHits bool
}

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	defaults Defaults
	selector Selector
	log      *logger.Logger
	recorder Recorder
	observer Observer
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRecorder stores every successful report.
func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) {
		h.recorder = r
	}
}

// WithObserver reports request outcomes to o.
func WithObserver(o Observer) HandlerOption {
	return func(h *Handler) {
		h.observer = o
	}
}

// NewHandler creates a new evaluation handler.
func NewHandler(defaults Defaults, selector Selector, log *logger.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	h := &Handler{
		defaults: defaults,
		selector: selector,
		log:      log.WithComponent("evaluation_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/scores", h.handleScores)
	mux.HandleFunc("POST /v1/evaluation/recommendations", h.handleRecommendations)
	mux.HandleFunc("GET /v1/evaluation/metrics", h.handleMetrics)
}

// ScoresRequest evaluates a dense score matrix.
type ScoresRequest struct {
	Scores  [][]float64           `json:"scores"`
	UserIDs []int64               `json:"user_ids,omitempty"`
	Holdout []dataset.Interaction `json:"holdout"`
	Metrics []string              `json:"metrics,omitempty"`
	Cutoffs []int                 `json:"cutoffs,omitempty"`
	PerUser bool                  `json:"per_user,omitempty"`
}

// RecommendationsRequest evaluates a precomputed recommendation table. Ranks
// must be given for every row or for none.
type RecommendationsRequest struct {
	Recommendations []dataset.Recommendation `json:"recommendations"`
	Holdout         []dataset.Interaction    `json:"holdout"`
	Metrics         []string                 `json:"metrics,omitempty"`
	Cutoffs         []int                    `json:"cutoffs,omitempty"`
	PerUser         bool                     `json:"per_user,omitempty"`
}

// MetricsResponse lists the supported metrics.
type MetricsResponse struct {
	Metrics []string `json:"metrics"`
}

func (h *Handler) handleScores(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context) (*Report, error) {
		var req ScoresRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		e, err := h.evaluator(req.Metrics, req.Cutoffs, req.PerUser)
		if err != nil {
			return nil, err
		}
		scores, err := dataset.NewScoreMatrix(req.Scores)
		if err != nil {
			return nil, err
		}
		return e.EvaluateFromScores(ctx, scores, req.Holdout, req.UserIDs)
	})
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context) (*Report, error) {
		var req RecommendationsRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		e, err := h.evaluator(req.Metrics, req.Cutoffs, req.PerUser)
		if err != nil {
			return nil, err
		}
		recs, err := recommendationTable(req.Recommendations)
		if err != nil {
			return nil, err
		}
		return e.EvaluateFromRecommendations(ctx, recs, req.Holdout)
	})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{Metrics: Names()})
}

// serve runs one evaluation request, reports its outcome to the observer
// and writes the report. Decoding failures count as failed evaluations.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, run func(context.Context) (*Report, error)) {
	start := time.Now()
	ctx := r.Context()
	log := h.log.WithContext(ctx)

	report, err := run(ctx)
	if h.observer != nil {
		h.observer.ObserveEvaluation(time.Since(start), err)
	}
	if err != nil {
		log.WithError(err).Debug("evaluation request failed", "code", apperrors.CodeOf(err))
		apperrors.WriteError(w, err)
		return
	}

	if h.recorder != nil {
		if err := h.recorder.Record(ctx, report); err != nil {
			log.WithError(err).Warn("failed to record evaluation", "run_id", report.RunID)
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// evaluator builds an evaluator for one request, falling back to the
// handler defaults for metrics and cutoffs.
func (h *Handler) evaluator(metrics []string, cutoffs []int, perUser bool) (*Evaluator, error) {
	if len(metrics) == 0 {
		metrics = h.defaults.Metrics
	}
	if len(cutoffs) == 0 {
		cutoffs = h.defaults.Cutoffs
	}

	return NewEvaluator(metrics, cutoffs,
		WithSelector(h.selector),
		WithLogger(h.log),
		WithParallel(h.defaults.Parallel),
		WithRequireHits(h.defaults.RequireHits),
		WithPerUser(perUser),
	)
}

// decodeJSON decodes the request body into v. A body cut off by
// http.MaxBytesReader is reported as too large.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.PayloadTooLargeError(tooLarge.Limit)
		}
		return apperrors.InvalidRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}

// recommendationTable infers whether rows carry ranks.
func recommendationTable(rows []dataset.Recommendation) (dataset.Recommendations, error) {
	ranked := 0
	for _, r := range rows {
		if r.Rank < 0 {
			return dataset.Recommendations{}, apperrors.ValidationError("rank must not be negative")
		}
		if r.Rank > 0 {
			ranked++
		}
	}

	switch ranked {
	case 0:
		return dataset.Unranked(rows), nil
	case len(rows):
		return dataset.Ranked(rows), nil
	default:
		return dataset.Recommendations{}, apperrors.ValidationError("rank must be set on every recommendation or on none")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
