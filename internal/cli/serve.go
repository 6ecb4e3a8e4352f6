package cli

import (
	"github.com/spf13/cobra"

	"github.com/t-koma/knowledge/pkg/reconcile"
	"github.com/t-koma/knowledge/pkg/watch"
)

// newServeCmd builds `komaknowledge serve`: the production long-running
// mode. It runs one reconcile pass to bring the index up to date with
// whatever changed while the process was down, then hands off to the
// watcher for the rest of its life.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a startup reconcile followed by the live watcher",
		Long:  "Brings the index up to date with one reconcile pass, then watches the corpus until interrupted. This is the mode a long-running deployment should run.",
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

			startup := &reconcile.Reconciler{Pipeline: a.Pipeline, Roots: roots, Log: a.Log.WithField("component", "reconcile")}
			result, err := startup.Run(ctx)
			if err != nil {
				return err
			}
			a.Log.WithFields(map[string]interface{}{
				"ingested": result.Ingested,
				"skipped":  result.Skipped,
				"deleted":  result.Deleted,
			}).Info("serve: startup reconcile complete")

			w := &watch.Watcher{
				Pipeline:         a.Pipeline,
				Roots:            roots,
				ReconcileSeconds: a.Settings.ReconcileSeconds,
				Log:              a.Log.WithField("component", "watch"),
			}
			return w.Run(ctx)
		},
	}
	return cmd
}
