package evaluation

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UserScore is a metric value for a single user.
type UserScore struct {
	UserID int64   `json:"user_id"`
	Value  float64 `json:"value"`
}

// Result is one row of an evaluation: a metric at a cutoff.
type Result struct {
	Metric string  `json:"metric"`
	Cutoff int     `json:"cutoff"`
	Value  float64 `json:"value"`
}

// UserResult holds the per-user values behind one Result.
type UserResult struct {
	Metric string      `json:"metric"`
	Cutoff int         `json:"cutoff"`
	Users  []UserScore `json:"users"`
}

// Report contains the results of an evaluation run. PerUser is only filled
// when the evaluator was built WithPerUser, in the same order as Results.
type Report struct {
	RunID     uuid.UUID     `json:"run_id"`
	Results   []Result      `json:"results"`
	PerUser   []UserResult  `json:"per_user,omitempty"`
	Users     int           `json:"users"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Value looks up the result for metric at cutoff.
func (r *Report) Value(metric Metric, cutoff int) (float64, bool) {
	for _, res := range r.Results {
		if res.Metric == string(metric) && res.Cutoff == cutoff {
			return res.Value, true
		}
	}
	return 0, false
}

// Table returns the results as rows of metric, cutoff and value, with
// values rounded to precision decimals.
func (r *Report) Table(precision int) [][]string {
	rows := make([][]string, len(r.Results))
	for i, res := range r.Results {
		rows[i] = []string{res.Metric, strconv.Itoa(res.Cutoff), formatValue(res.Value, precision)}
	}
	return rows
}

// UserTable returns the per-user values as rows of metric, cutoff, user id
// and value, with values rounded to precision decimals.
func (r *Report) UserTable(precision int) [][]string {
	var rows [][]string
	for _, ur := range r.PerUser {
		for _, us := range ur.Users {
			rows = append(rows, []string{
				ur.Metric,
				strconv.Itoa(ur.Cutoff),
				strconv.FormatInt(us.UserID, 10),
				formatValue(us.Value, precision),
			})
		}
	}
	return rows
}

// WriteUserText writes one "metric@cutoff user <id>: value" line per user
// and result.
func (r *Report) WriteUserText(w io.Writer, precision int) error {
	for _, ur := range r.PerUser {
		for _, us := range ur.Users {
			if _, err := fmt.Fprintf(w, "%s@%d user %d: %s\n", ur.Metric, ur.Cutoff, us.UserID, formatValue(us.Value, precision)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteText writes one "metric@cutoff: value" line per result.
func (r *Report) WriteText(w io.Writer, precision int) error {
	for _, res := range r.Results {
		if _, err := fmt.Fprintf(w, "%s@%d: %s\n", res.Metric, res.Cutoff, formatValue(res.Value, precision)); err != nil {
			return err
		}
	}
	return nil
}

// round rounds v to precision decimal places. A negative precision leaves v
// untouched.
func round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

func formatValue(v float64, precision int) string {
	return strconv.FormatFloat(round(v, precision), 'f', -1, 64)
}
