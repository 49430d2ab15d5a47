package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

func TestNewScoreMatrix(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]float64
		wantErr bool
	}{
		{"valid", [][]float64{{1, 2, 3}, {4, 5, 6}}, false},
		{"no rows", nil, true},
		{"no columns", [][]float64{{}}, true},
		{"ragged", [][]float64{{1, 2}, {3}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewScoreMatrix(tt.rows)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.CodeShape, apperrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			users, items := m.Dims()
			assert.Equal(t, 2, users)
			assert.Equal(t, 3, items)
			assert.Equal(t, []float64{4, 5, 6}, m.Row(1, nil))
			assert.Equal(t, []float64{1, 2, 3}, m.Row(0, nil))
		})
	}
}

func TestFromDense(t *testing.T) {
	m, err := FromDense(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	require.NoError(t, err)
	users, items := m.Dims()
	assert.Equal(t, 2, users)
	assert.Equal(t, 2, items)

	_, err = FromDense(nil)
	assert.Equal(t, apperrors.CodeShape, apperrors.CodeOf(err))
}

func TestSequentialUserIDs(t *testing.T) {
	assert.Equal(t, []int64{0, 1, 2}, SequentialUserIDs(3))
	assert.Empty(t, SequentialUserIDs(0))
}

func TestRecommendations_Users(t *testing.T) {
	recs := Unranked([]Recommendation{
		{UserID: 3, ItemID: 1}, {UserID: 3, ItemID: 2}, {UserID: 1, ItemID: 5},
	})
	assert.Equal(t, []int64{3, 1}, recs.Users())
	assert.False(t, recs.Ranked)
	assert.True(t, Ranked(nil).Ranked)
}

func TestReadInteractions(t *testing.T) {
	in := "item_id,user_id\n1,1\n5,1\n2,2\n"
	got, err := ReadInteractions(strings.NewReader(in), DefaultColumns())
	require.NoError(t, err)
	assert.Equal(t, Holdout{{UserID: 1, ItemID: 1}, {UserID: 1, ItemID: 5}, {UserID: 2, ItemID: 2}}, got)
}

func TestReadInteractions_CustomColumns(t *testing.T) {
	cols := DefaultColumns()
	cols.User, cols.Item = "uid", "iid"

	got, err := ReadInteractions(strings.NewReader("uid,iid\n7,8\n"), cols)
	require.NoError(t, err)
	assert.Equal(t, Holdout{{UserID: 7, ItemID: 8}}, got)

	_, err = ReadInteractions(strings.NewReader("user_id,item_id\n7,8\n"), cols)
	assert.Equal(t, apperrors.CodeInvalidRequest, apperrors.CodeOf(err))
}

func TestReadInteractions_BadID(t *testing.T) {
	_, err := ReadInteractions(strings.NewReader("user_id,item_id\nx,1\n"), DefaultColumns())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadRecommendations(t *testing.T) {
	t.Run("without rank", func(t *testing.T) {
		got, err := ReadRecommendations(strings.NewReader("user_id,item_id\n1,4\n1,2\n"), DefaultColumns())
		require.NoError(t, err)
		assert.False(t, got.Ranked)
		assert.Equal(t, []Recommendation{{UserID: 1, ItemID: 4}, {UserID: 1, ItemID: 2}}, got.Rows)
	})

	t.Run("with rank", func(t *testing.T) {
		got, err := ReadRecommendations(strings.NewReader("user_id,item_id,rank\n1,4,2\n1,2,1\n"), DefaultColumns())
		require.NoError(t, err)
		assert.True(t, got.Ranked)
		assert.Equal(t, 2, got.Rows[0].Rank)
	})

	t.Run("invalid rank", func(t *testing.T) {
		_, err := ReadRecommendations(strings.NewReader("user_id,item_id,rank\n1,4,0\n"), DefaultColumns())
		assert.Equal(t, apperrors.CodeInvalidRequest, apperrors.CodeOf(err))
	})
}

func TestReadScores(t *testing.T) {
	m, err := ReadScores(strings.NewReader("0.1,0.2,0.3\n1.1, 1.2, 1.3\n"))
	require.NoError(t, err)
	users, items := m.Dims()
	assert.Equal(t, 2, users)
	assert.Equal(t, 3, items)
	assert.InDelta(t, 1.2, m.Row(1, nil)[1], 1e-12)

	_, err = ReadScores(strings.NewReader("1,2\n3\n"))
	assert.Equal(t, apperrors.CodeShape, apperrors.CodeOf(err))

	_, err = ReadScores(strings.NewReader("1,abc\n"))
	assert.Equal(t, apperrors.CodeInvalidRequest, apperrors.CodeOf(err))
}

func TestReadUserIDs(t *testing.T) {
	ids, err := ReadUserIDs(strings.NewReader("10\n\n 20 \n30\n"))
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, ids)

	_, err = ReadUserIDs(strings.NewReader("10\nabc\n"))
	assert.Error(t, err)
}
