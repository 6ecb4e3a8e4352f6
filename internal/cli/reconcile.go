package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/t-koma/knowledge/pkg/reconcile"
)

// newReconcileCmd builds `komaknowledge reconcile`: a single reconcile pass
// over every corpus root, bringing the index back in sync with the
// filesystem.
func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the index against the corpus on disk",
		Long:  "Walks every corpus root, re-ingesting changed files and deleting notes whose backing file has disappeared. Idempotent over an unchanged corpus.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, flagConfigPath, flagDataRoot)
			if err != nil {
				return err
			}
			defer a.Close()

			roots, err := a.Roots.DiscoverAll()
			if err != nil {
				return err
			}

			r := &reconcile.Reconciler{Pipeline: a.Pipeline, Roots: roots, Log: a.Log.WithField("component", "reconcile")}
			result, err := r.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ingested=%d skipped=%d deleted=%d errors=%d\n",
				result.Ingested, result.Skipped, result.Deleted, len(result.Errors))
			if len(result.Errors) > 0 {
				return fmt.Errorf("reconcile: %d error(s) during pass", len(result.Errors))
			}
			return nil
		},
	}
	return cmd
}
