package evaluation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricesearch/receval/internal/align"
	"github.com/ricesearch/receval/internal/dataset"
	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

const tolerance = 1e-4

// threeUsers returns three users with three recommendations each:
// user 1 hits one of two relevant items at rank 1, user 2 hits nothing,
// user 3 hits all three.
func threeUsers() (dataset.Recommendations, dataset.Holdout) {
	users := []int64{1, 1, 1, 2, 2, 2, 3, 3, 3}
	items := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	rows := make([]dataset.Recommendation, len(users))
	for i := range users {
		rows[i] = dataset.Recommendation{UserID: users[i], ItemID: items[i]}
	}

	truth := dataset.Holdout{
		{UserID: 1, ItemID: 1}, {UserID: 1, ItemID: 5},
		{UserID: 2, ItemID: 2}, {UserID: 2, ItemID: 3},
		{UserID: 3, ItemID: 7}, {UserID: 3, ItemID: 8}, {UserID: 3, ItemID: 9},
	}
	return dataset.Unranked(rows), truth
}

func aligned(t *testing.T, cutoff int) *align.Result {
	t.Helper()
	recs, truth := threeUsers()
	ranked, err := align.AssignRanks(recs, 3)
	require.NoError(t, err)
	res, err := align.Align(truth, ranked, cutoff)
	require.NoError(t, err)
	return res
}

func values(scores []UserScore) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s.Value
	}
	return out
}

func assertValues(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], tolerance, "user index %d", i)
	}
}

func TestPerUser(t *testing.T) {
	res := aligned(t, 3)

	tests := []struct {
		metric Metric
		want   []float64
		mean   float64
	}{
		{Recall, []float64{0.5, 0, 1}, 0.5},
		{Precision, []float64{1.0 / 3, 0, 1}, 0.4444},
		{F1Score, []float64{0.4, 0, 1}, 0.4667},
		{NDCG, []float64{0.6131, 0, 1}, 0.5377},
		{MAP, []float64{0.5, 0, 1}, 0.5},
	}

	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			scores := tt.metric.PerUser(res.Hits, res.Counts, 3)
			assertValues(t, tt.want, values(scores))
			assert.Equal(t, []int64{1, 2, 3}, []int64{scores[0].UserID, scores[1].UserID, scores[2].UserID})
			assert.InDelta(t, tt.mean, tt.metric.Compute(res.Hits, res.Counts, 3), tolerance)
		})
	}
}

func TestMetricsAreBounded(t *testing.T) {
	for _, cutoff := range []int{1, 2, 3} {
		res := aligned(t, cutoff)
		for _, m := range supported {
			for _, s := range m.PerUser(res.Hits, res.Counts, cutoff) {
				assert.False(t, math.IsNaN(s.Value), "%s@%d", m, cutoff)
				assert.GreaterOrEqual(t, s.Value, 0.0, "%s@%d", m, cutoff)
				assert.LessOrEqual(t, s.Value, 1.0+tolerance, "%s@%d", m, cutoff)
			}
		}
	}
}

func TestRecallMonotoneInCutoff(t *testing.T) {
	prev := 0.0
	for cutoff := 1; cutoff <= 3; cutoff++ {
		res := aligned(t, cutoff)
		got := Recall.Compute(res.Hits, res.Counts, cutoff)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestZeroHitUserScoresZero(t *testing.T) {
	res := aligned(t, 3)
	for _, m := range supported {
		assert.Zero(t, m.PerUser(res.Hits, res.Counts, 3)[1].Value, "metric %s", m)
	}
}

func TestAveragePrecision_CumulativeHits(t *testing.T) {
	// hits at ranks 2 and 4 of 3 relevant items: (1/2 + 2/4) / 3
	hits := []dataset.Hit{{UserID: 1, ItemID: 10, Rank: 2}, {UserID: 1, ItemID: 11, Rank: 4}}
	counts := []dataset.HitCount{{UserID: 1, Hit: 2, Actual: 3}}

	assert.InDelta(t, 1.0/3, MAP.Compute(hits, counts, 5), 1e-9)
}

func TestNDCG_IdealCappedAtCutoff(t *testing.T) {
	// five relevant items but only two slots: a perfect top-2 scores 1
	hits := []dataset.Hit{{UserID: 1, ItemID: 1, Rank: 1}, {UserID: 1, ItemID: 2, Rank: 2}}
	counts := []dataset.HitCount{{UserID: 1, Hit: 2, Actual: 5}}

	assert.InDelta(t, 1.0, NDCG.Compute(hits, counts, 2), 1e-9)
}

func TestZeroActualIsFinite(t *testing.T) {
	counts := []dataset.HitCount{{UserID: 1, Hit: 0, Actual: 0}}
	for _, m := range supported {
		assert.Zero(t, m.Compute(nil, counts, 3), "metric %s", m)
	}
}

func TestComputeNoUsers(t *testing.T) {
	for _, m := range supported {
		assert.Zero(t, m.Compute(nil, nil, 3))
	}
}

func TestParseMetric(t *testing.T) {
	tests := map[string]Metric{
		"recall":    Recall,
		"Recall":    Recall,
		"Precision": Precision,
		"F1Score":   F1Score,
		"f1_score":  F1Score,
		"NDCG":      NDCG,
		"MAP":       MAP,
		" map ":     MAP,
	}
	for in, want := range tests {
		got, err := ParseMetric(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMetric("None")
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeUnknownMetric, appErr.Code)
	assert.Equal(t, "None", appErr.Details["metric"])
}

func TestParseMetrics(t *testing.T) {
	got, err := ParseMetrics([]string{"Recall", "MAP"})
	require.NoError(t, err)
	assert.Equal(t, []Metric{Recall, MAP}, got)

	_, err = ParseMetrics([]string{"Recall", "None"})
	assert.Equal(t, apperrors.CodeUnknownMetric, apperrors.CodeOf(err))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"recall", "precision", "f1_score", "ndcg", "map"}, Names())
	for _, m := range supported {
		assert.Contains(t, registry, m)
	}
	assert.Nil(t, Metric("mrr").PerUser(nil, nil, 1))
}
