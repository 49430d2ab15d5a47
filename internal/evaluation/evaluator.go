package evaluation

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/receval/internal/align"
	"github.com/ricesearch/receval/internal/dataset"
	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
	"github.com/ricesearch/receval/internal/pkg/logger"
	"github.com/ricesearch/receval/internal/topk"
)

// DefaultDecimalPrecision is the number of decimals used for verbose output.
const DefaultDecimalPrecision = 4

// Selector picks the k best items of every row of a score matrix.
type Selector interface {
	Select(ctx context.Context, scores *dataset.ScoreMatrix, k int) (*topk.Result, error)
}

// Evaluator orchestrates recommendation evaluation.
type Evaluator struct {
	metrics   []Metric
	cutoffs   []int
	maxCutoff int

	selector    Selector
	log         *logger.Logger
	verbose     io.Writer
	precision   int
	parallel    bool
	requireHits bool
	perUser     bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithSelector sets the top-k selector used for score matrices.
func WithSelector(s Selector) Option {
	return func(e *Evaluator) {
		if s != nil {
			e.selector = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// WithVerbose writes every result line to w as it is reported.
func WithVerbose(w io.Writer) Option {
	return func(e *Evaluator) {
		e.verbose = w
	}
}

// WithDecimalPrecision sets the rounding used for verbose output.
func WithDecimalPrecision(p int) Option {
	return func(e *Evaluator) {
		e.precision = p
	}
}

// WithParallel evaluates cutoffs concurrently.
func WithParallel(parallel bool) Option {
	return func(e *Evaluator) {
		e.parallel = parallel
	}
}

// WithRequireHits fails a cutoff that has no hits at all instead of
// reporting zeros.
func WithRequireHits(require bool) Option {
	return func(e *Evaluator) {
		e.requireHits = require
	}
}

// WithPerUser adds the value of every metric for every user to the report.
func WithPerUser(perUser bool) Option {
	return func(e *Evaluator) {
		e.perUser = perUser
	}
}

// NewEvaluator creates an evaluator for the given metric names and cutoffs.
// Results are reported cutoff by cutoff in the order given, and within a
// cutoff in the order of metrics.
func NewEvaluator(metrics []string, cutoffs []int, opts ...Option) (*Evaluator, error) {
	if len(metrics) == 0 {
		return nil, apperrors.ValidationError("at least one metric is required")
	}
	parsed, err := ParseMetrics(metrics)
	if err != nil {
		return nil, err
	}

	if len(cutoffs) == 0 {
		return nil, apperrors.RangeError("at least one cutoff is required")
	}
	for _, k := range cutoffs {
		if k < 1 {
			return nil, apperrors.RangeError(fmt.Sprintf("cutoff must be at least 1, got %d", k))
		}
	}

	e := &Evaluator{
		metrics:   parsed,
		cutoffs:   slices.Clone(cutoffs),
		maxCutoff: slices.Max(cutoffs),
		log:       logger.Discard(),
		precision: DefaultDecimalPrecision,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("evaluator")
	if e.selector == nil {
		e.selector = topk.New(topk.DefaultConfig(), e.log)
	}
	return e, nil
}

// Metrics returns the metrics evaluated.
func (e *Evaluator) Metrics() []Metric {
	return slices.Clone(e.metrics)
}

// Cutoffs returns the cutoffs evaluated, in reporting order.
func (e *Evaluator) Cutoffs() []int {
	return slices.Clone(e.cutoffs)
}

// RecommendFromScores selects the top max-cutoff items per user and returns
// them as a ranked recommendation table.
//
// userIDs labels the matrix rows. When nil, rows are labeled 0..n-1 and a
// warning is logged.
func (e *Evaluator) RecommendFromScores(ctx context.Context, scores *dataset.ScoreMatrix, userIDs []int64) (dataset.Recommendations, error) {
	if scores == nil {
		return dataset.Recommendations{}, apperrors.ShapeError("matrix is nil")
	}
	users, _ := scores.Dims()

	if userIDs == nil {
		e.log.WithContext(ctx).Warn("no user ids given, using row positions", "users", users)
		userIDs = dataset.SequentialUserIDs(users)
	}
	if len(userIDs) != users {
		return dataset.Recommendations{}, apperrors.UserCountMismatchError(len(userIDs), users)
	}

	res, err := e.selector.Select(ctx, scores, e.maxCutoff)
	if err != nil {
		return dataset.Recommendations{}, err
	}
	return topk.ToRecommendations(userIDs, res)
}

// EvaluateFromScores evaluates a user x item score matrix against holdout.
func (e *Evaluator) EvaluateFromScores(ctx context.Context, scores *dataset.ScoreMatrix, holdout dataset.Holdout, userIDs []int64) (*Report, error) {
	recs, err := e.RecommendFromScores(ctx, scores, userIDs)
	if err != nil {
		return nil, err
	}
	return e.EvaluateFromRecommendations(ctx, recs, holdout)
}

// EvaluateFromRecommendations evaluates a recommendation table against
// holdout.
//
// Unranked tables must hold each user's rows contiguously in descending
// score order. All input checks complete before any metric is computed, so
// an error never comes with partial results.
func (e *Evaluator) EvaluateFromRecommendations(ctx context.Context, recs dataset.Recommendations, holdout dataset.Holdout) (*Report, error) {
	start := time.Now()
	runID := uuid.New()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID.String())
	log := e.log.WithContext(ctx)

	ranked, err := e.prepare(recs, holdout)
	if err != nil {
		log.WithError(err).Warn("evaluation rejected")
		return nil, err
	}

	results := make([]Result, len(e.cutoffs)*len(e.metrics))
	var perUser []UserResult
	if e.perUser {
		perUser = make([]UserResult, len(results))
	}
	evalCutoff := func(ctx context.Context, ci int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cutoff := e.cutoffs[ci]
		aligned, err := align.Align(holdout, ranked, cutoff, align.RequireHits(e.requireHits))
		if err != nil {
			return err
		}
		for mi, m := range e.metrics {
			slot := ci*len(e.metrics) + mi
			results[slot] = Result{
				Metric: string(m),
				Cutoff: cutoff,
				Value:  m.Compute(aligned.Hits, aligned.Counts, cutoff),
			}
			if perUser != nil {
				perUser[slot] = UserResult{
					Metric: string(m),
					Cutoff: cutoff,
					Users:  m.PerUser(aligned.Hits, aligned.Counts, cutoff),
				}
			}
		}
		log.WithCutoff(cutoff).Debug("cutoff evaluated", "hits", len(aligned.Hits), "users", len(aligned.Counts))
		return nil
	}

	if e.parallel && len(e.cutoffs) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for ci := range e.cutoffs {
			g.Go(func() error { return evalCutoff(gctx, ci) })
		}
		err = g.Wait()
	} else {
		for ci := range e.cutoffs {
			if err = evalCutoff(ctx, ci); err != nil {
				break
			}
		}
	}
	if err != nil {
		log.WithError(err).Warn("evaluation failed")
		return nil, err
	}

	report := &Report{
		RunID:     runID,
		Results:   results,
		PerUser:   perUser,
		Users:     len(ranked.Users()),
		Elapsed:   time.Since(start),
		CreatedAt: start.UTC(),
	}

	if e.verbose != nil {
		if err := report.WriteText(e.verbose, e.precision); err != nil {
			log.WithError(err).Warn("failed to write verbose output")
		}
	}

	log.Info("evaluation completed",
		"users", report.Users,
		"metrics", len(e.metrics),
		"cutoffs", len(e.cutoffs),
		"elapsed", report.Elapsed,
	)
	return report, nil
}

// prepare ranks and validates recs and checks user coverage.
func (e *Evaluator) prepare(recs dataset.Recommendations, holdout dataset.Holdout) (dataset.Recommendations, error) {
	if len(holdout) == 0 {
		return dataset.Recommendations{}, apperrors.ValidationError("holdout is empty")
	}

	ranked := recs
	if !recs.Ranked {
		var err error
		if ranked, err = align.AssignRanks(recs, e.maxCutoff); err != nil {
			return dataset.Recommendations{}, err
		}
	}
	if err := align.ValidateRanks(ranked); err != nil {
		return dataset.Recommendations{}, err
	}
	if err := align.CheckCoverage(holdout, ranked); err != nil {
		return dataset.Recommendations{}, err
	}

	// a rank past the deepest cutoff can never count
	if lo.SomeBy(ranked.Rows, func(r dataset.Recommendation) bool { return r.Rank > e.maxCutoff }) {
		ranked = align.Truncate(ranked, e.maxCutoff)
	}
	return ranked, nil
}
