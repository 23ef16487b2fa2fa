package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/noticevault/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the noticevault database with the required schema.

This command creates the notice, mail recipient, mail history and sync
metadata tables. It is safe to run multiple times - tables are only
created if they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := cfg.DatabaseDSN()
		logger.Info("initializing database", "path", dsn)

		s, err := store.Open(dsn)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		logger.Info("database initialized successfully")

		stats, err := s.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", dsn)
		printStats(stats)
		return nil
	},
}

func printStats(stats *store.Stats) {
	fmt.Printf("  Notices:     %d\n", stats.NoticeCount)
	fmt.Printf("  Favorites:   %d\n", stats.FavoriteCount)
	fmt.Printf("  Recipients:  %d\n", stats.RecipientCount)
	fmt.Printf("  Mails sent:  %d\n", stats.MailCount)
	fmt.Printf("  Size:        %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
