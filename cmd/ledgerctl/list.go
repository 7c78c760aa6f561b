package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

var (
	listGuild  string
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List confirmation records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, store, closeFn, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		records, err := store.List(ctx, domain.ConfirmationFilter{
			GuildID:            listGuild,
			ConfirmationStatus: domain.ConfirmationStatus(listStatus),
			Limit:              listLimit,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no records")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tGUILD\tACTION\tCONFIRMATION\tSTATUS\tCREATED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.GuildID, r.Action, r.ConfirmationStatus, paintStatus(r.Status),
				r.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listGuild, "guild", "", "filter by guild id")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by confirmation status (none, pending, approved, rejected)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum records to print")
}

func paintStatus(s domain.RecordStatus) string {
	switch s {
	case domain.RecordSuccess:
		return color.GreenString(string(s))
	case domain.RecordFailure:
		return color.RedString(string(s))
	}
	return color.YellowString(string(s))
}
