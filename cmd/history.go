package cmd

import (
	"errors"
	"fmt"

	"Boombot/db"
	"Boombot/model"
	"Boombot/repository"

	"github.com/spf13/cobra"
)

var (
	historyLimit     int
	historyRequester string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent song requests from the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.DBEnabled() {
			return errors.New("history database is not configured (BOOMBOT_DB_HOST)")
		}
		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()

		repo := repository.NewGormHistoryRepository(db.GormDB)
		var (
			records []model.RequestRecord
			err     error
		)
		if historyRequester != "" {
			records, err = repo.ByRequester(cmd.Context(), historyRequester, historyLimit)
		} else {
			records, err = repo.Recent(cmd.Context(), historyLimit)
		}
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No requests recorded")
			return nil
		}
		for _, r := range records {
			fmt.Println(formatRecord(r))
		}
		return nil
	},
}

func formatRecord(r model.RequestRecord) string {
	line := fmt.Sprintf("%s  %-16s %-15s %q", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Requester, r.Outcome, r.Query)
	if r.Outcome == model.OutcomeQueued {
		line += fmt.Sprintf(" -> %s - %s (#%d)", r.Artist, r.Title, r.Position)
	}
	return line
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "number of records to print")
	historyCmd.Flags().StringVarP(&historyRequester, "requester", "r", "", "only show requests from this nickname")
}
