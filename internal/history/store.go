// Package history keeps evaluation results in Redis so that metric values
// can be compared across runs.
package history

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/receval/internal/evaluation"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "receval:history:"

// Entry is one recorded metric value.
type Entry struct {
	RunID     uuid.UUID `json:"run_id"`
	Metric    string    `json:"metric"`
	Cutoff    int       `json:"cutoff"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Store provides Redis-backed persistence for evaluation history.
//
// Every (metric, cutoff) pair is a sorted set scored by unix time whose
// members are "<run_id>:<value>".
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis at url.
// Returns error if connection fails.
func New(ctx context.Context, url, prefix string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Record saves every result of report in a single pipeline and drops
// entries older than the TTL.
func (s *Store) Record(ctx context.Context, report *evaluation.Report) error {
	if report == nil || len(report.Results) == 0 {
		return nil
	}

	ts := report.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	score := float64(ts.Unix())

	pipe := s.client.Pipeline()
	touched := make(map[string]struct{})
	for _, res := range report.Results {
		key := s.key(res.Metric, res.Cutoff)
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  score,
			Member: member(report.RunID, res.Value),
		})
		touched[key] = struct{}{}
	}

	if s.ttl > 0 {
		minScore := time.Now().Add(-s.ttl).Unix()
		for key := range touched {
			pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", minScore))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording evaluation: %w", err)
	}
	return nil
}

// Load returns the entries of metric at cutoff recorded since the given
// time, oldest first.
func (s *Store) Load(ctx context.Context, metric string, cutoff int, since time.Time) ([]Entry, error) {
	results, err := s.client.ZRangeByScoreWithScores(ctx, s.key(metric, cutoff), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.Unix()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, z := range results {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		runID, value, err := parseMember(raw)
		if err != nil {
			// Skip invalid entries
			continue
		}
		entries = append(entries, Entry{
			RunID:     runID,
			Metric:    metric,
			Cutoff:    cutoff,
			Value:     value,
			Timestamp: time.Unix(int64(z.Score), 0).UTC(),
		})
	}
	return entries, nil
}

// Series lists the recorded "metric@cutoff" series.
func (s *Store) Series(ctx context.Context) ([]string, error) {
	var series []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		series = append(series, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}
	return series, nil
}

// Delete removes all entries of metric at cutoff.
func (s *Store) Delete(ctx context.Context, metric string, cutoff int) error {
	if err := s.client.Del(ctx, s.key(metric, cutoff)).Err(); err != nil {
		return fmt.Errorf("deleting series: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(metric string, cutoff int) string {
	return SeriesKey(s.prefix, metric, cutoff)
}

// SeriesKey returns the Redis key of a (metric, cutoff) series.
func SeriesKey(prefix, metric string, cutoff int) string {
	return fmt.Sprintf("%s%s@%d", prefix, metric, cutoff)
}

func member(runID uuid.UUID, value float64) string {
	return runID.String() + ":" + strconv.FormatFloat(value, 'g', -1, 64)
}

func parseMember(raw string) (uuid.UUID, float64, error) {
	id, val, ok := strings.Cut(raw, ":")
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("malformed history member %q", raw)
	}
	runID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("parsing run id: %w", err)
	}
	value, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("parsing value: %w", err)
	}
	return runID, value, nil
}
