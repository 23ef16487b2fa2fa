package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	nsync "github.com/wesm/noticevault/internal/sync"
)

var (
	syncFrom string
	syncTo   string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync notices for a date range",
	Long: `Fetch every configured stage for each day of a date range and store the
new notices. Days run oldest first; within a day the stages run in config
order. A failing stage is reported and the sync continues with the next one.

The range is inclusive and must be shorter than max_range_days (default 92).
Without flags, today is synced.

Examples:
  noticevault sync
  noticevault sync --from 2026-01-05 --to 2026-01-09`,
	RunE: func(cmd *cobra.Command, args []string) error {
		today := time.Now()
		start, err := parseDayFlag(syncFrom, today)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		end, err := parseDayFlag(syncTo, start)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		events := make(chan nsync.Event)
		type result struct {
			summary *nsync.Summary
			err     error
		}
		done := make(chan result, 1)
		go func() {
			s, err := a.runner.Run(cmd.Context(), start, end, events)
			done <- result{s, err}
		}()

		for ev := range events {
			if ev.Err != nil {
				fmt.Printf("[%d/%d] %s %-12s error: %v\n", ev.Step, ev.Total, ev.Date, ev.Stage, ev.Err)
				continue
			}
			fmt.Printf("[%d/%d] %s %-12s %d new, %d duplicates\n",
				ev.Step, ev.Total, ev.Date, ev.Stage, ev.Inserted, ev.Duplicates)
		}

		res := <-done
		if res.err != nil {
			if errors.Is(res.err, nsync.ErrSyncInProgress) {
				return fmt.Errorf("another sync is running, try again later")
			}
			return res.err
		}

		s := res.summary
		fmt.Println()
		if s.Stopped {
			fmt.Printf("Sync stopped after %d of %d steps.\n", s.Steps, s.Total)
		} else {
			fmt.Printf("Sync complete: %s to %s.\n", s.Start, s.End)
		}
		fmt.Printf("  New notices: %d\n", s.Inserted)
		fmt.Printf("  Duplicates:  %d\n", s.Duplicates)
		fmt.Printf("  Failures:    %d\n", s.Failures)
		return nil
	},
}

// parseDayFlag parses a YYYY-MM-DD flag value in local time, returning def
// when the flag is empty.
func parseDayFlag(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return time.Date(def.Year(), def.Month(), def.Day(), 0, 0, 0, 0, time.Local), nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", v)
	}
	return d, nil
}

func init() {
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "first day to sync (YYYY-MM-DD, default today)")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "last day to sync (YYYY-MM-DD, default --from)")
	rootCmd.AddCommand(syncCmd)
}
