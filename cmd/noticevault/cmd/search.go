package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/noticevault/internal/notice"
)

var (
	searchOffice         string
	searchSource         string
	searchFrom           string
	searchTo             string
	searchCertified      bool
	searchIncludeUnknown bool
	searchPage           int
	searchJSON           bool
)

var searchCmd = &cobra.Command{
	Use:   "search [keyword...]",
	Short: "Search notices",
	Long: `Search stored notices, newest first, 100 per page.

Each keyword word must match the project name, client or model name.
Words starting with "-" are ignored. A delivery-request number (ten or
more letters and digits, dashes ignored) matches the notice detail link
instead.

Examples:
  noticevault search --office 경주지사 --from 2026-01-01
  noticevault search 냉난방기 교체 --source G2B
  noticevault search R25TA-0123-4567
  noticevault search --certified --page 2 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := notice.Filter{
			Office:         searchOffice,
			Source:         searchSource,
			OnlyCertified:  searchCertified,
			IncludeUnknown: searchIncludeUnknown,
			Page:           searchPage,
		}
		for i, a := range args {
			if i > 0 {
				f.Keyword += " "
			}
			f.Keyword += a
		}
		var err error
		if f.StartDate, err = parseOptionalDay(searchFrom); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		if f.EndDate, err = parseOptionalDay(searchTo); err != nil {
			return fmt.Errorf("--to: %w", err)
		}

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		page := a.notices.Query(cmd.Context(), f)
		if page.Degraded {
			return fmt.Errorf("search failed; see log for details")
		}
		if searchJSON {
			return printJSON(page)
		}
		return outputNoticeTable(page)
	},
}

func parseOptionalDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return parseDayFlag(v, time.Time{})
}

func outputNoticeTable(page *notice.Page) error {
	if len(page.Rows) == 0 {
		fmt.Println("No notices found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tSOURCE\tOFFICE\tSTAGE\tPROJECT\tCLIENT\tNEW")
	fmt.Fprintln(w, "──\t────\t──────\t──────\t─────\t───────\t──────\t───")

	for _, r := range page.Rows {
		id := fmt.Sprintf("%d", r.ID)
		if r.Favorite {
			id += "*"
		}
		office := truncate(r.Offices.String(), 20)
		if r.Unresolved {
			office += " ?"
		}
		isNew := ""
		if r.IsNew {
			isNew = "N"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id, r.NoticeDate, r.SourceLabel, office,
			r.Stage, truncate(r.ProjectName, 40), truncate(r.Client, 20), isNew)
	}

	w.Flush()
	fmt.Printf("\nPage %d of %d (%d notices)\n", page.Page, page.TotalPages(), page.Total)
	return nil
}

func init() {
	searchCmd.Flags().StringVar(&searchOffice, "office", "", "branch office (default: all)")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "source system: G2B or K-APT (default: all)")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "earliest notice date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "latest notice date (YYYY-MM-DD)")
	searchCmd.Flags().BoolVar(&searchCertified, "certified", false, "only high-efficiency certified notices")
	searchCmd.Flags().BoolVar(&searchIncludeUnknown, "include-unknown", true, "include notices without a resolved office")
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "page number")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(searchCmd)
}
