package cmd

import (
	"github.com/spf13/cobra"
)

func newStatsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [user_id]",
		Short: "Print the dashboard counters of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, open, func(b Backend) error {
				st, err := b.Stats(cmd.Context(), userID)
				if err != nil {
					return err
				}
				cmd.Printf("total_analyses:  %d\n", st.TotalAnalyses)
				cmd.Printf("high_potentials: %d\n", st.HighPotentials)
				cmd.Printf("pending:         %d\n", st.PendingCount)
				cmd.Printf("total_tokens:    %d\n", st.TotalTokens)
				return nil
			})
		},
	}
}
