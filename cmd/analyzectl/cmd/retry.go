package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

func newRetryCmd(open Opener) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "retry [analysis_id]",
		Short: "Restart an analysis as a new queue lineage",
		Long: `Restart an analysis as a new queue lineage.

Only failed analyses are retried unless --force is given. The current
state is snapshotted into the attempt log before the record is reset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("analysis id", args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, open, func(b Backend) error {
				rec, err := b.Retry(cmd.Context(), id, force)
				var pe *domain.PreconditionError
				if errors.As(err, &pe) {
					cmd.PrintErrf("analysis %d is %s; use --force to retry it anyway\n", pe.AnalysisID, pe.Status)
					return err
				}
				if err != nil {
					return err
				}
				cmd.Printf("analysis %d re-queued (status %s)\n", rec.ID, rec.Status)
				return nil
			})
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "retry even if the analysis is not failed")
	return c
}
