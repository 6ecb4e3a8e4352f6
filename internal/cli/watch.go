package cli

import (
	"github.com/spf13/cobra"

	"github.com/t-koma/knowledge/pkg/watch"
)

// newWatchCmd builds `komaknowledge watch`: a long-running process that
// debounces filesystem changes into reconcile passes until interrupted.
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the corpus and keep the index synchronized",
		Long:  "Watches every corpus root for filesystem changes, debouncing bursts of activity into a single reconcile pass, with a periodic fallback reconcile for changes the watcher misses. Runs until the process receives an interrupt.",
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
