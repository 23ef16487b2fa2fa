package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/noticevault/internal/notice"
)

var favoriteCmd = &cobra.Command{
	Use:   "favorite",
	Short: "Manage favorite notices",
}

var favoriteToggleCmd = &cobra.Command{
	Use:   "toggle <notice-id>",
	Short: "Add a notice to favorites or remove it",
	Long: `Flip the favorite flag of a notice. Removing a notice from favorites
clears its tracking status and memo.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		fav, err := a.mutations.ToggleFavorite(userContext(cmd.Context()), id)
		if err != nil {
			return fmt.Errorf("toggle favorite: %w", err)
		}
		if fav {
			fmt.Printf("Notice %d added to favorites.\n", id)
		} else {
			fmt.Printf("Notice %d removed from favorites.\n", id)
		}
		return nil
	},
}

var favoriteListOffice string

var favoriteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorite notices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		favs, err := a.store.ListFavorites(cmd.Context(), notice.NormalizeOffice(favoriteListOffice))
		if err != nil {
			return fmt.Errorf("list favorites: %w", err)
		}
		if len(favs) == 0 {
			fmt.Println("No favorites.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDATE\tOFFICE\tPROJECT\tSTATUS\tMEMO")
		fmt.Fprintln(w, "──\t────\t──────\t───────\t──────\t────")
		for _, n := range favs {
			memo := strings.ReplaceAll(n.Memo, "\n", " ")
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				n.ID, n.NoticeDate, truncate(n.AssignedOffice, 20),
				truncate(n.ProjectName, 40), n.Status, truncate(memo, 30))
		}
		w.Flush()
		fmt.Printf("\n%d favorites\n", len(favs))
		return nil
	},
}

var (
	memoStatus string
	memoText   string
)

var memoCmd = &cobra.Command{
	Use:   "memo <notice-id>",
	Short: "Set the tracking status and memo of a notice",
	Long: `Set the tracking status and memo of a notice. Both values are replaced.

Valid statuses: 미접촉, 전화, 메일안내, 접수, 지급, 보류, 취소 (or empty).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.mutations.SaveStatusMemo(userContext(cmd.Context()), id, memoStatus, memoText); err != nil {
			return fmt.Errorf("save memo: %w", err)
		}
		fmt.Printf("Notice %d updated.\n", id)
		return nil
	},
}

var backfillPhoneCmd = &cobra.Command{
	Use:   "backfill-phone <notice-id>",
	Short: "Fill a K-APT notice's phone number from the complex detail",
	Long: `Look up the management office phone number of a K-APT notice that has
none and store it. Requires [feed].secondary_url.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		phone, err := a.mutations.BackfillPhone(userContext(cmd.Context()), id)
		if err != nil {
			return fmt.Errorf("backfill phone: %w", err)
		}
		if phone == "" {
			fmt.Printf("Notice %d was not updated.\n", id)
			return nil
		}
		fmt.Printf("Notice %d phone set to %s.\n", id, notice.FormatPhone(phone))
		return nil
	},
}

func init() {
	favoriteListCmd.Flags().StringVar(&favoriteListOffice, "office", "", "branch office (default: all)")
	favoriteCmd.AddCommand(favoriteToggleCmd)
	favoriteCmd.AddCommand(favoriteListCmd)
	rootCmd.AddCommand(favoriteCmd)

	memoCmd.Flags().StringVar(&memoStatus, "status", "", "tracking status")
	memoCmd.Flags().StringVar(&memoText, "memo", "", "memo text")
	rootCmd.AddCommand(memoCmd)

	rootCmd.AddCommand(backfillPhoneCmd)
}
