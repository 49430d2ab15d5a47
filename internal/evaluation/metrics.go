package evaluation

import (
	"math"

	"github.com/ricesearch/receval/internal/dataset"
)

// epsilon is the float64 machine epsilon, used to keep ratios finite when
// a denominator is zero.
var epsilon = math.Nextafter(1, 2) - 1

// recallPerUser: hit / actual.
func recallPerUser(_ []dataset.Hit, counts []dataset.HitCount, _ int) []UserScore {
	out := make([]UserScore, len(counts))
	for i, c := range counts {
		out[i] = UserScore{UserID: c.UserID, Value: ratio(float64(c.Hit), float64(c.Actual))}
	}
	return out
}

// precisionPerUser: hit / cutoff. The cutoff is the denominator even when a
// user received fewer recommendations.
func precisionPerUser(_ []dataset.Hit, counts []dataset.HitCount, cutoff int) []UserScore {
	out := make([]UserScore, len(counts))
	for i, c := range counts {
		out[i] = UserScore{UserID: c.UserID, Value: ratio(float64(c.Hit), float64(cutoff))}
	}
	return out
}

// f1PerUser: 2PR / (P + R + eps).
func f1PerUser(hits []dataset.Hit, counts []dataset.HitCount, cutoff int) []UserScore {
	rec := recallPerUser(hits, counts, cutoff)
	prec := precisionPerUser(hits, counts, cutoff)

	out := make([]UserScore, len(counts))
	for i := range counts {
		p, r := prec[i].Value, rec[i].Value
		out[i] = UserScore{UserID: counts[i].UserID, Value: 2 * p * r / (p + r + epsilon)}
	}
	return out
}

// ndcgPerUser calculates Normalized Discounted Cumulative Gain with binary
// relevance.
//
//	DCG  = sum over hits of 1/log2(rank+1)
//	IDCG = sum_{i=0}^{min(actual,cutoff)-1} 1/log2(i+2)
//
// Users without hits, or with an IDCG of 0, score 0.
func ndcgPerUser(hits []dataset.Hit, counts []dataset.HitCount, cutoff int) []UserScore {
	dcg := make(map[int64]float64)
	for _, h := range hits {
		dcg[h.UserID] += 1 / math.Log2(float64(h.Rank)+1)
	}

	out := make([]UserScore, len(counts))
	for i, c := range counts {
		idcg := idealDCG(min(c.Actual, cutoff))
		out[i] = UserScore{UserID: c.UserID, Value: ratio(dcg[c.UserID], idcg)}
	}
	return out
}

// idealDCG is the DCG of n hits at ranks 1..n.
func idealDCG(n int) float64 {
	idcg := 0.0
	for i := 0; i < n; i++ {
		idcg += 1 / math.Log2(float64(i)+2)
	}
	return idcg
}

// averagePrecisionPerUser calculates Average Precision: for every hit the
// precision at its rank (hit ordinal / rank), summed and divided by the
// number of relevant items.
//
// hits must be sorted by user then rank.
func averagePrecisionPerUser(hits []dataset.Hit, counts []dataset.HitCount, _ int) []UserScore {
	sum := make(map[int64]float64)
	ordinal := make(map[int64]int)
	for _, h := range hits {
		ordinal[h.UserID]++
		sum[h.UserID] += float64(ordinal[h.UserID]) / float64(h.Rank)
	}

	out := make([]UserScore, len(counts))
	for i, c := range counts {
		out[i] = UserScore{UserID: c.UserID, Value: sum[c.UserID] / (float64(c.Actual) + epsilon)}
	}
	return out
}

// ratio divides num by den, returning 0 instead of NaN or Inf when den is 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func mean(scores []UserScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s.Value
	}
	return sum / float64(len(scores))
}
