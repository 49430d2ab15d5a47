package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/receval/internal/config"
	"github.com/ricesearch/receval/internal/dataset"
	"github.com/ricesearch/receval/internal/evaluation"
	"github.com/ricesearch/receval/internal/history"
	"github.com/ricesearch/receval/internal/pkg/logger"
	"github.com/ricesearch/receval/internal/topk"
)

func evalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate recommendations against held-out interactions",
		Long: `Evaluate either a score matrix or a recommendation table.

Score matrices are headerless CSV files with one row per user and one
column per item. Recommendation and holdout tables are CSV files with a
header row; column names come from the configuration.

Examples:
  receval eval --scores scores.csv --users users.txt --holdout test.csv
  receval eval --recs recs.csv --holdout test.csv --metrics ndcg,map --cutoffs 5,10
  receval eval --recs recs.csv --holdout test.csv --format json --history
  receval eval --recs recs.csv --holdout test.csv --per-user --format csv`,
		RunE: runEval,
	}

	cmd.Flags().String("scores", "", "score matrix CSV (users x items)")
	cmd.Flags().String("users", "", "user ids of the score matrix rows, one per line")
	cmd.Flags().String("recs", "", "recommendation table CSV")
	cmd.Flags().String("holdout", "", "held-out interactions CSV")
	cmd.Flags().StringSlice("metrics", nil, "metrics to compute (default from config)")
	cmd.Flags().IntSlice("cutoffs", nil, "cutoffs to evaluate at (default from config)")
	cmd.Flags().String("format", "text", "output format (text, json, csv)")
	cmd.Flags().Bool("per-user", false, "also report every metric for every user")
	cmd.Flags().Bool("history", false, "record results in the configured history store")

	cmd.MarkFlagsMutuallyExclusive("scores", "recs")
	cmd.MarkFlagsOneRequired("scores", "recs")
	_ = cmd.MarkFlagRequired("holdout")

	return cmd
}

func runEval(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json", "csv":
	default:
		return fmt.Errorf("invalid format %q (must be text, json, or csv)", format)
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Eval.Metrics, _ = cmd.Flags().GetStringSlice("metrics")
	}
	if cmd.Flags().Changed("cutoffs") {
		cfg.Eval.Cutoffs, _ = cmd.Flags().GetIntSlice("cutoffs")
	}

	perUser, _ := cmd.Flags().GetBool("per-user")
	opts := append(cfg.EvaluatorOptions(cmd.ErrOrStderr()),
		evaluation.WithPerUser(perUser),
		evaluation.WithLogger(log),
		evaluation.WithSelector(topk.New(cfg.TopKSelectorConfig(), log)),
	)
	ev, err := evaluation.NewEvaluator(cfg.Eval.Metrics, cfg.Eval.Cutoffs, opts...)
	if err != nil {
		return err
	}

	cols := cfg.DatasetColumns()
	holdoutPath, _ := cmd.Flags().GetString("holdout")
	holdout, err := readFile(holdoutPath, func(r io.Reader) (dataset.Holdout, error) {
		return dataset.ReadInteractions(r, cols)
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var report *evaluation.Report
	if scoresPath, _ := cmd.Flags().GetString("scores"); scoresPath != "" {
		report, err = evalScores(ctx, cmd, ev, scoresPath, holdout)
	} else {
		recsPath, _ := cmd.Flags().GetString("recs")
		var recs dataset.Recommendations
		recs, err = readFile(recsPath, func(r io.Reader) (dataset.Recommendations, error) {
			return dataset.ReadRecommendations(r, cols)
		})
		if err != nil {
			return err
		}
		report, err = ev.EvaluateFromRecommendations(ctx, recs, holdout)
	}
	if err != nil {
		return err
	}

	if record, _ := cmd.Flags().GetBool("history"); record {
		if err := recordHistory(ctx, cfg, log, report); err != nil {
			return err
		}
	}

	return writeReport(cmd.OutOrStdout(), report, format, cfg.Eval.DecimalPrecision)
}

func evalScores(ctx context.Context, cmd *cobra.Command, ev *evaluation.Evaluator, path string, holdout dataset.Holdout) (*evaluation.Report, error) {
	scores, err := readFile(path, dataset.ReadScores)
	if err != nil {
		return nil, err
	}

	var userIDs []int64
	if usersPath, _ := cmd.Flags().GetString("users"); usersPath != "" {
		userIDs, err = readFile(usersPath, dataset.ReadUserIDs)
		if err != nil {
			return nil, err
		}
	}

	return ev.EvaluateFromScores(ctx, scores, holdout, userIDs)
}

func recordHistory(ctx context.Context, cfg *config.Config, log *logger.Logger, report *evaluation.Report) error {
	if cfg.History.RedisURL == "" {
		return fmt.Errorf("--history requires history.redis_url or RECEVAL_REDIS_URL")
	}

	store, err := history.New(ctx, cfg.History.RedisURL, cfg.History.Prefix,
		time.Duration(cfg.History.TTLHours)*time.Hour)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Record(ctx, report); err != nil {
		return err
	}
	log.Info("Recorded evaluation", "run_id", report.RunID, "results", len(report.Results))
	return nil
}

func writeReport(w io.Writer, report *evaluation.Report, format string, precision int) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "csv":
		header, rows := []string{"metric", "cutoff", "value"}, report.Table(precision)
		if report.PerUser != nil {
			header, rows = []string{"metric", "cutoff", "user_id", "value"}, report.UserTable(precision)
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		return cw.WriteAll(rows)
	}

	if err := report.WriteText(w, precision); err != nil {
		return err
	}
	return report.WriteUserText(w, precision)
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	v, err := read(f)
	if err != nil {
		return zero, fmt.Errorf("reading %s: %w", path, err)
	}
	return v, nil
}
