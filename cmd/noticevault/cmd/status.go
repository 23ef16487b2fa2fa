package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/noticevault/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database statistics and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		fmt.Printf("Database: %s\n", cfg.DatabaseDSN())
		printStats(stats)
		fmt.Println()

		last, err := a.store.LastSyncAt(cmd.Context())
		if err != nil {
			return fmt.Errorf("last sync: %w", err)
		}
		fmt.Printf("Sync schedule: %s\n", cfg.Sync.Schedule)
		if last.IsZero() {
			fmt.Println("  Last sync:   never")
		} else {
			fmt.Printf("  Last sync:   %s\n", last.Local().Format("2006-01-02 15:04:05"))
		}

		sched, err := scheduler.New(cfg.Sync.Schedule, a.pipeline, a.gate)
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		fmt.Printf("  Next sync:   %s\n", sched.Status().NextRun.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
