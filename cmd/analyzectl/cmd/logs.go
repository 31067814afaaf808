package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "logs [analysis_id]",
		Short: "Print the attempt history of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("analysis id", args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, open, func(b Backend) error {
				entries, err := b.Logs(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					cmd.Printf("analysis %d has no attempts\n", id)
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ATTEMPT\tSTATUS\tTOKENS\tAT\tERROR")
				for _, e := range entries {
					_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
						e.Attempt, e.Status, intOrDash(e.TotalTokens), e.CreatedAt.UTC().Format(time.RFC3339), strOrDash(e.ErrorMessage))
				}
				return tw.Flush()
			})
		},
	}
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func strOrDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
