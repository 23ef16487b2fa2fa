package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/noticevault/internal/notice"
)

var countsJSON bool

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show new-notice counts per office",
	Long: `Show how many notices from the two most recent business days each branch
office has, split by source system. A notice assigned to several offices
is split evenly between them. The ALL row holds the totals.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		counts := a.notices.NewCounts(cmd.Context())
		if countsJSON {
			return printJSON(counts)
		}

		offices := make([]string, 0, len(counts))
		for office := range counts {
			if office != notice.All {
				offices = append(offices, office)
			}
		}
		sort.Strings(offices)
		if _, ok := counts[notice.All]; ok {
			offices = append([]string{notice.All}, offices...)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "OFFICE\tG2B\tK-APT")
		fmt.Fprintln(w, "──────\t───\t─────")
		for _, office := range offices {
			m := counts[office]
			fmt.Fprintf(w, "%s\t%d\t%d\n", office, m[notice.SourceG2B], m[notice.SourceKAPT])
		}
		w.Flush()
		return nil
	},
}

var datesOffice string

var datesCmd = &cobra.Command{
	Use:   "dates",
	Short: "List the dates that have notices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		dates := a.notices.NoticeDates(cmd.Context(), datesOffice)
		for _, d := range dates {
			fmt.Println(d.Format(notice.DateLayout))
		}
		if len(dates) == 0 {
			fmt.Println("No notice dates.")
		}
		return nil
	},
}

func init() {
	countsCmd.Flags().BoolVar(&countsJSON, "json", false, "Output as JSON")
	datesCmd.Flags().StringVar(&datesOffice, "office", "", "branch office (default: all)")
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(datesCmd)
}
