package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/receval/internal/evaluation"
	"github.com/ricesearch/receval/internal/history"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded evaluation results",
		Long: `Show results recorded with 'receval eval --history' or by the server.

Without --metric the recorded metric@cutoff series are listed.
With --delete the selected series is removed.

Examples:
  receval history
  receval history --metric ndcg --cutoff 10 --since 168h
  receval history --metric ndcg --cutoff 10 --delete`,
		RunE: runHistory,
	}

	cmd.Flags().String("metric", "", "metric to show")
	cmd.Flags().Int("cutoff", 10, "cutoff to show")
	cmd.Flags().Duration("since", 0, "only show entries newer than this (0 shows all)")
	cmd.Flags().Bool("delete", false, "delete the selected series")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("metric")
	del, _ := cmd.Flags().GetBool("delete")
	if del && name == "" {
		return fmt.Errorf("--delete requires --metric")
	}

	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.History.RedisURL == "" {
		return fmt.Errorf("history requires history.redis_url or RECEVAL_REDIS_URL")
	}

	ctx := cmd.Context()
	store, err := history.New(ctx, cfg.History.RedisURL, cfg.History.Prefix,
		time.Duration(cfg.History.TTLHours)*time.Hour)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if name == "" {
		series, err := store.Series(ctx)
		if err != nil {
			return err
		}
		for _, s := range series {
			fmt.Fprintln(out, s)
		}
		return nil
	}

	metric, err := evaluation.ParseMetric(name)
	if err != nil {
		return err
	}
	cutoff, _ := cmd.Flags().GetInt("cutoff")
	if del {
		if err := store.Delete(ctx, string(metric), cutoff); err != nil {
			return err
		}
		log.Info("Deleted history series", "metric", metric, "cutoff", cutoff)
		fmt.Fprintf(out, "deleted %s@%d\n", metric, cutoff)
		return nil
	}

	var since time.Time
	if d, _ := cmd.Flags().GetDuration("since"); d > 0 {
		since = time.Now().Add(-d)
	}

	entries, err := store.Load(ctx, string(metric), cutoff, since)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s  %s@%d: %v\n",
			e.Timestamp.Format(time.RFC3339), e.RunID, e.Metric, e.Cutoff, e.Value)
	}
	return nil
}
