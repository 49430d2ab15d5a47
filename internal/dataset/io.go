package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

// ReadInteractions reads a ground-truth CSV with a header row containing
// the user and item columns named by cols.
func ReadInteractions(r io.Reader, cols Columns) (Holdout, error) {
	header, records, err := readTable(r)
	if err != nil {
		return nil, err
	}

	userIdx, itemIdx, err := userItemIndexes(header, cols)
	if err != nil {
		return nil, err
	}

	out := make(Holdout, 0, len(records))
	for line, rec := range records {
		u, err := parseID(rec, userIdx, line)
		if err != nil {
			return nil, err
		}
		it, err := parseID(rec, itemIdx, line)
		if err != nil {
			return nil, err
		}
		out = append(out, Interaction{UserID: u, ItemID: it})
	}

	return out, nil
}

// ReadRecommendations reads a recommendation CSV. When the header has a
// rank column the table is marked as ranked.
func ReadRecommendations(r io.Reader, cols Columns) (Recommendations, error) {
	header, records, err := readTable(r)
	if err != nil {
		return Recommendations{}, err
	}

	userIdx, itemIdx, err := userItemIndexes(header, cols)
	if err != nil {
		return Recommendations{}, err
	}
	rankIdx := indexOf(header, cols.Rank)

	rows := make([]Recommendation, 0, len(records))
	for line, rec := range records {
		u, err := parseID(rec, userIdx, line)
		if err != nil {
			return Recommendations{}, err
		}
		it, err := parseID(rec, itemIdx, line)
		if err != nil {
			return Recommendations{}, err
		}
		row := Recommendation{UserID: u, ItemID: it}
		if rankIdx >= 0 {
			rank, err := strconv.Atoi(strings.TrimSpace(rec[rankIdx]))
			if err != nil || rank < 1 {
				return Recommendations{}, apperrors.InvalidRequestError(
					fmt.Sprintf("line %d: invalid rank %q", line+2, rec[rankIdx]))
			}
			row.Rank = rank
		}
		rows = append(rows, row)
	}

	return Recommendations{Rows: rows, Ranked: rankIdx >= 0}, nil
}

// ReadScores reads a headerless CSV of floats, one row per user.
func ReadScores(r io.Reader) (*ScoreMatrix, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var rows [][]float64
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidRequest, "reading scores", err)
		}
		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, apperrors.InvalidRequestError(
					fmt.Sprintf("line %d column %d: invalid score %q", line, j+1, field))
			}
			row[j] = v
		}
		rows = append(rows, row)
	}

	return NewScoreMatrix(rows)
}

// ReadUserIDs reads one user id per line, skipping blank lines.
func ReadUserIDs(r io.Reader) ([]int64, error) {
	var ids []int64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		id, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, apperrors.InvalidRequestError(fmt.Sprintf("line %d: invalid user id %q", line, text))
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidRequest, "reading user ids", err)
	}
	return ids, nil
}

func readTable(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInvalidRequest, "reading csv", err)
	}
	if len(records) == 0 {
		return nil, nil, apperrors.InvalidRequestError("csv has no header row")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	return header, records[1:], nil
}

func userItemIndexes(header []string, cols Columns) (int, int, error) {
	userIdx := indexOf(header, cols.User)
	if userIdx < 0 {
		return 0, 0, apperrors.InvalidRequestError(fmt.Sprintf("missing column %q", cols.User))
	}
	itemIdx := indexOf(header, cols.Item)
	if itemIdx < 0 {
		return 0, 0, apperrors.InvalidRequestError(fmt.Sprintf("missing column %q", cols.Item))
	}
	return userIdx, itemIdx, nil
}

func indexOf(header []string, name string) int {
	if name == "" {
		return -1
	}
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func parseID(rec []string, idx, line int) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(rec[idx]), 10, 64)
	if err != nil {
		return 0, apperrors.InvalidRequestError(fmt.Sprintf("line %d: invalid id %q", line+2, rec[idx]))
	}
	return v, nil
}
