// Package align matches recommendations against ground truth, producing the
// hit table (recommended items that are true positives, with their rank)
// and the per-user hit counts that ranking metrics are computed from.
package align

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/ricesearch/receval/internal/dataset"
	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

// Result is the output of Align.
type Result struct {
	// Hits holds matched recommendations sorted by user then rank.
	Hits []dataset.Hit

	// Counts holds one row per ground-truth user, sorted by user id.
	Counts []dataset.HitCount
}

// Option configures Align.
type Option func(*options)

type options struct {
	requireHits bool
}

// RequireHits makes Align fail with an EMPTY_HITS error when no
// recommendation matches the ground truth.
func RequireHits(require bool) Option {
	return func(o *options) {
		o.requireHits = require
	}
}

type pair struct {
	user int64
	item int64
}

// Align matches preds against truth at the given cutoff.
//
// Ground truth and predictions must cover exactly the same users. When preds
// carries no ranks they are assigned from row order, see AssignRanks.
// Duplicate ground-truth rows for the same (user, item) count once.
func Align(truth dataset.Holdout, preds dataset.Recommendations, cutoff int, opts ...Option) (*Result, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if cutoff < 1 {
		return nil, apperrors.RangeError(fmt.Sprintf("cutoff must be at least 1, got %d", cutoff))
	}
	if err := CheckCoverage(truth, preds); err != nil {
		return nil, err
	}

	ranked := preds
	if !preds.Ranked {
		var err error
		if ranked, err = AssignRanks(preds, cutoff); err != nil {
			return nil, err
		}
	}
	ranked = Truncate(ranked, cutoff)

	relevant := make(map[pair]struct{}, len(truth))
	actual := make(map[int64]int)
	for _, in := range truth {
		key := pair{in.UserID, in.ItemID}
		if _, dup := relevant[key]; dup {
			continue
		}
		relevant[key] = struct{}{}
		actual[in.UserID]++
	}

	hits := make([]dataset.Hit, 0)
	hitCount := make(map[int64]int)
	for _, r := range ranked.Rows {
		if _, ok := relevant[pair{r.UserID, r.ItemID}]; ok {
			hits = append(hits, dataset.Hit{UserID: r.UserID, ItemID: r.ItemID, Rank: r.Rank})
			hitCount[r.UserID]++
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].UserID != hits[j].UserID {
			return hits[i].UserID < hits[j].UserID
		}
		return hits[i].Rank < hits[j].Rank
	})

	if o.requireHits && len(hits) == 0 {
		return nil, apperrors.EmptyHitsError(cutoff)
	}

	users := lo.Keys(actual)
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	counts := make([]dataset.HitCount, len(users))
	for i, u := range users {
		counts[i] = dataset.HitCount{UserID: u, Hit: hitCount[u], Actual: actual[u]}
	}

	return &Result{Hits: hits, Counts: counts}, nil
}

// CheckCoverage fails with a COVERAGE_ERROR unless truth and preds contain
// exactly the same set of users.
func CheckCoverage(truth dataset.Holdout, preds dataset.Recommendations) error {
	truthUsers := lo.Uniq(lo.Map(truth, func(in dataset.Interaction, _ int) int64 { return in.UserID }))
	predUsers := preds.Users()
	common := lo.Intersect(truthUsers, predUsers)

	if len(common) != len(truthUsers) || len(common) != len(predUsers) {
		return apperrors.CoverageError(len(truthUsers), len(predUsers), len(common))
	}
	return nil
}

// AssignRanks derives ranks 1..n for each user from row order.
//
// Rows must be grouped per user and already sorted by descending score;
// the order within a group is taken as the ranking. A user with more than
// cutoff rows, or whose rows are not contiguous, is rejected.
func AssignRanks(preds dataset.Recommendations, cutoff int) (dataset.Recommendations, error) {
	rows := make([]dataset.Recommendation, len(preds.Rows))
	seen := make(map[int64]struct{})

	rank := 0
	for i, r := range preds.Rows {
		if i == 0 || r.UserID != preds.Rows[i-1].UserID {
			if _, again := seen[r.UserID]; again {
				return dataset.Recommendations{}, apperrors.ValidationError(
					fmt.Sprintf("recommendations for user %d are not contiguous; rows must be grouped per user", r.UserID))
			}
			seen[r.UserID] = struct{}{}
			rank = 0
		}
		rank++
		if rank > cutoff {
			return dataset.Recommendations{}, apperrors.RangeError(
				fmt.Sprintf("user %d has more than %d recommendations", r.UserID, cutoff)).
				WithDetail("user_id", fmt.Sprintf("%d", r.UserID))
		}
		rows[i] = dataset.Recommendation{UserID: r.UserID, ItemID: r.ItemID, Rank: rank}
	}

	return dataset.Ranked(rows), nil
}

// ValidateRanks checks that a ranked table has, per user, ranks forming
// 1..n without gaps or repeats and no item recommended twice.
func ValidateRanks(preds dataset.Recommendations) error {
	if !preds.Ranked {
		return nil
	}

	ranks := make(map[int64][]int)
	items := make(map[pair]struct{}, len(preds.Rows))
	for _, r := range preds.Rows {
		key := pair{r.UserID, r.ItemID}
		if _, dup := items[key]; dup {
			return apperrors.ValidationError(fmt.Sprintf("item %d is recommended twice to user %d", r.ItemID, r.UserID))
		}
		items[key] = struct{}{}
		ranks[r.UserID] = append(ranks[r.UserID], r.Rank)
	}

	for user, rs := range ranks {
		sort.Ints(rs)
		for i, r := range rs {
			if r != i+1 {
				return apperrors.ValidationError(
					fmt.Sprintf("ranks for user %d must be 1..%d without gaps, found %v", user, len(rs), rs))
			}
		}
	}
	return nil
}

// Truncate keeps the rows whose rank is within cutoff.
func Truncate(preds dataset.Recommendations, cutoff int) dataset.Recommendations {
	return dataset.Recommendations{
		Rows:   lo.Filter(preds.Rows, func(r dataset.Recommendation, _ int) bool { return r.Rank <= cutoff }),
		Ranked: preds.Ranked,
	}
}
