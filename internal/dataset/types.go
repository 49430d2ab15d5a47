// Package dataset defines the tables exchanged by the evaluation pipeline:
// score matrices, recommendation and ground-truth tables, and the hit
// tables derived from them.
package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

// Columns names the columns of tabular inputs.
type Columns struct {
	User       string `yaml:"user" json:"user"`
	Item       string `yaml:"item" json:"item"`
	Rating     string `yaml:"rating" json:"rating"`
	Prediction string `yaml:"prediction" json:"prediction"`
	Rank       string `yaml:"rank" json:"rank"`
}

// DefaultColumns returns the default column names.
func DefaultColumns() Columns {
	return Columns{
		User:       "user_id",
		Item:       "item_id",
		Rating:     "rating",
		Prediction: "prediction",
		Rank:       "rank",
	}
}

// ScoreMatrix is a read-only dense users x items score matrix. The column
// index is the item id.
type ScoreMatrix struct {
	m mat.Matrix
}

// NewScoreMatrix builds a score matrix from row slices. Rows must be
// non-empty and of equal length.
func NewScoreMatrix(rows [][]float64) (*ScoreMatrix, error) {
	if len(rows) == 0 {
		return nil, apperrors.ShapeError("matrix has no rows")
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, apperrors.ShapeError("matrix has no columns")
	}

	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, apperrors.ShapeError(fmt.Sprintf("row %d has %d columns, expected %d", i, len(row), cols))
		}
		data = append(data, row...)
	}

	return FromDense(mat.NewDense(len(rows), cols, data))
}

// FromDense wraps an existing gonum matrix without copying it.
func FromDense(m mat.Matrix) (*ScoreMatrix, error) {
	if m == nil {
		return nil, apperrors.ShapeError("matrix is nil")
	}
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, apperrors.ShapeError(fmt.Sprintf("matrix is %dx%d", r, c))
	}
	return &ScoreMatrix{m: m}, nil
}

// Dims returns the number of users (rows) and items (columns).
func (s *ScoreMatrix) Dims() (users, items int) {
	return s.m.Dims()
}

// Row copies row i into dst, allocating when dst is nil.
func (s *ScoreMatrix) Row(i int, dst []float64) []float64 {
	return mat.Row(dst, i, s.m)
}

// SequentialUserIDs returns the ids 0..n-1.
func SequentialUserIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	return ids
}

// Recommendation is one recommended item for a user. Rank is 1-based; zero
// means the rank has not been assigned yet.
type Recommendation struct {
	UserID int64 `json:"user_id"`
	ItemID int64 `json:"item_id"`
	Rank   int   `json:"rank,omitempty"`
}

// Recommendations is a recommendation table. When Ranked is false the rows
// must be grouped per user in descending score order; ranks are then
// derived from row position.
type Recommendations struct {
	Rows   []Recommendation
	Ranked bool
}

// Ranked builds a table whose rows already carry ranks.
func Ranked(rows []Recommendation) Recommendations {
	return Recommendations{Rows: rows, Ranked: true}
}

// Unranked builds a table whose ranks are implied by row order.
func Unranked(rows []Recommendation) Recommendations {
	return Recommendations{Rows: rows}
}

// Users returns the distinct user ids in first-seen order.
func (r Recommendations) Users() []int64 {
	seen := make(map[int64]struct{})
	users := make([]int64, 0)
	for _, row := range r.Rows {
		if _, ok := seen[row.UserID]; !ok {
			seen[row.UserID] = struct{}{}
			users = append(users, row.UserID)
		}
	}
	return users
}

// Interaction is an observed (held-out) positive user-item pair.
type Interaction struct {
	UserID int64 `json:"user_id"`
	ItemID int64 `json:"item_id"`
}

// Holdout is the ground-truth table.
type Holdout []Interaction

// Hit is a recommendation that also appears in the ground truth.
type Hit struct {
	UserID int64 `json:"user_id"`
	ItemID int64 `json:"item_id"`
	Rank   int   `json:"rank"`
}

// HitCount pairs a user's number of hits with the size of their ground truth.
type HitCount struct {
	UserID int64 `json:"user_id"`
	Hit    int   `json:"hit"`
	Actual int   `json:"actual"`
}
