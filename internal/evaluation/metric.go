package evaluation

import (
	"strings"

	"github.com/ricesearch/receval/internal/dataset"
	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

// Metric identifies a supported ranking or accuracy metric.
type Metric string

// Supported metrics.
const (
	Recall    Metric = "recall"
	Precision Metric = "precision"
	F1Score   Metric = "f1_score"
	NDCG      Metric = "ndcg"
	MAP       Metric = "map"
)

// perUserFunc computes one value per ground-truth user from the aligned
// hit tables at a cutoff.
type perUserFunc func(hits []dataset.Hit, counts []dataset.HitCount, cutoff int) []UserScore

var registry = map[Metric]perUserFunc{
	Recall:    recallPerUser,
	Precision: precisionPerUser,
	F1Score:   f1PerUser,
	NDCG:      ndcgPerUser,
	MAP:       averagePrecisionPerUser,
}

// supported lists the metrics in presentation order.
var supported = []Metric{Recall, Precision, F1Score, NDCG, MAP}

// aliases maps lower-cased accepted spellings to metrics.
var aliases = map[string]Metric{
	"recall":            Recall,
	"precision":         Precision,
	"f1_score":          F1Score,
	"f1score":           F1Score,
	"f1":                F1Score,
	"ndcg":              NDCG,
	"map":               MAP,
	"average_precision": MAP,
}

// ParseMetric resolves a metric name. Matching is case-insensitive.
func ParseMetric(name string) (Metric, error) {
	if m, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return m, nil
	}
	return "", apperrors.UnknownMetricError(name, Names())
}

// ParseMetrics resolves every name, failing on the first unknown one.
func ParseMetrics(names []string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, n := range names {
		m, err := ParseMetric(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Names returns the canonical names of all metrics.
func Names() []string {
	out := make([]string, len(supported))
	for i, m := range supported {
		out[i] = string(m)
	}
	return out
}

func (m Metric) String() string {
	return string(m)
}

// PerUser returns the metric value of every ground-truth user, in the
// order of counts.
func (m Metric) PerUser(hits []dataset.Hit, counts []dataset.HitCount, cutoff int) []UserScore {
	fn, ok := registry[m]
	if !ok {
		return nil
	}
	return fn(hits, counts, cutoff)
}

// Compute returns the unweighted mean of the per-user values, 0 when
// there are no users.
func (m Metric) Compute(hits []dataset.Hit, counts []dataset.HitCount, cutoff int) float64 {
	return mean(m.PerUser(hits, counts, cutoff))
}
