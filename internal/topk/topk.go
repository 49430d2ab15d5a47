// Package topk selects the highest scoring items per user from a dense
// score matrix.
//
// Two interchangeable strategies are available:
//
//   - partition: quickselect the k best items of a row, then sort only those.
//   - heap: stream the row through a bounded heap of size k.
//
// Rows are independent and are processed in batches on a worker pool.
// Both strategies return identical results; equal scores are ordered by
// ascending item index.
package topk

import (
	"context"
	"fmt"

	"github.com/ricesearch/receval/internal/dataset"
	"github.com/ricesearch/receval/internal/pkg/batch"
	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
	"github.com/ricesearch/receval/internal/pkg/logger"
)

// Strategy names a row selection algorithm.
type Strategy string

const (
	// StrategyAuto picks heap for wide matrices with a small k, partition otherwise.
	StrategyAuto Strategy = "auto"
	// StrategyPartition uses quickselect followed by a sort of the k best.
	StrategyPartition Strategy = "partition"
	// StrategyHeap uses a bounded min-heap per row.
	StrategyHeap Strategy = "heap"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAuto, StrategyPartition, StrategyHeap:
		return Strategy(s), nil
	case "":
		return StrategyAuto, nil
	}
	return "", apperrors.ValidationError(fmt.Sprintf("invalid top-k strategy: %s (must be auto, partition, or heap)", s))
}

// Config configures the selector.
type Config struct {
	// Strategy selects the row algorithm.
	Strategy Strategy

	// HeapThreshold is the item count from which auto prefers the heap.
	HeapThreshold int

	// Batch controls how rows are spread over workers.
	Batch batch.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyAuto,
		HeapThreshold: 4096,
		Batch:         batch.DefaultConfig(),
	}
}

// Result holds the selected items and their scores, one row per user,
// sorted by score descending.
type Result struct {
	Items  [][]int
	Values [][]float64
}

// Selector selects the top-k items of every row of a score matrix.
type Selector struct {
	cfg Config
	log *logger.Logger
}

// New creates a selector.
func New(cfg Config, log *logger.Logger) *Selector {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAuto
	}
	if cfg.HeapThreshold <= 0 {
		cfg.HeapThreshold = DefaultConfig().HeapThreshold
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Selector{cfg: cfg, log: log.WithComponent("topk")}
}

// Select returns the k highest scoring items of every row.
func (s *Selector) Select(ctx context.Context, scores *dataset.ScoreMatrix, k int) (*Result, error) {
	if scores == nil {
		return nil, apperrors.ShapeError("matrix is nil")
	}
	users, items := scores.Dims()
	if k < 1 {
		return nil, apperrors.RangeError(fmt.Sprintf("k must be at least 1, got %d", k))
	}
	if k > items {
		return nil, apperrors.RangeError(fmt.Sprintf("k (%d) exceeds the number of items (%d)", k, items)).
			WithDetail("k", fmt.Sprintf("%d", k)).
			WithDetail("items", fmt.Sprintf("%d", items))
	}

	strategy := s.resolve(items, k)
	s.log.Debug("retrieving top-k items", "users", users, "items", items, "k", k, "strategy", string(strategy))
	defer s.log.Timed("select_topk")()

	rows := make([]int, users)
	for i := range rows {
		rows[i] = i
	}

	type rowResult struct {
		items  []int
		values []float64
	}

	proc := batch.NewProcessor(s.cfg.Batch, func(ctx context.Context, b []int) ([]rowResult, error) {
		sel := newRowSelector(strategy, k)
		buf := make([]float64, items)
		itemBuf := make([]int, len(b)*k)
		valueBuf := make([]float64, len(b)*k)

		out := make([]rowResult, len(b))
		for n, i := range b {
			if n%64 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			row := scores.Row(i, buf)
			r := rowResult{
				items:  itemBuf[n*k : (n+1)*k : (n+1)*k],
				values: valueBuf[n*k : (n+1)*k : (n+1)*k],
			}
			sel.selectRow(row, k, r.items, r.values)
			out[n] = r
		}
		return out, nil
	})

	selected, err := proc.Process(ctx, rows)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Items:  make([][]int, users),
		Values: make([][]float64, users),
	}
	for i, r := range selected {
		res.Items[i] = r.items
		res.Values[i] = r.values
	}
	return res, nil
}

func (s *Selector) resolve(items, k int) Strategy {
	if s.cfg.Strategy != StrategyAuto {
		return s.cfg.Strategy
	}
	if items >= s.cfg.HeapThreshold && k*8 <= items {
		return StrategyHeap
	}
	return StrategyPartition
}

func newRowSelector(strategy Strategy, k int) rowSelector {
	if strategy == StrategyHeap {
		return &heapSelector{h: boundedHeap{idx: make([]int, 0, k)}}
	}
	return &partitionSelector{}
}

// ToRecommendations expands a selection into a ranked recommendation
// table: each user id is repeated k times with ranks 1..k.
func ToRecommendations(userIDs []int64, res *Result) (dataset.Recommendations, error) {
	if len(userIDs) != len(res.Items) {
		return dataset.Recommendations{}, apperrors.UserCountMismatchError(len(userIDs), len(res.Items))
	}

	total := 0
	for _, row := range res.Items {
		total += len(row)
	}

	rows := make([]dataset.Recommendation, 0, total)
	for i, u := range userIDs {
		for j, it := range res.Items[i] {
			rows = append(rows, dataset.Recommendation{
				UserID: u,
				ItemID: int64(it),
				Rank:   j + 1,
			})
		}
	}
	return dataset.Ranked(rows), nil
}
