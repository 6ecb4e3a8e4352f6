// Package cli implements the komaknowledge command tree: one bootstrap step
// wiring the engine's shared dependencies, then thin subcommands that each
// drive one piece of it (ingest, reconcile, watch, search, serve).
package cli

import (
	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagDataRoot   string
)

// NewRootCommand constructs the komaknowledge root command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "komaknowledge",
		Short:         "T-KOMA knowledge & memory engine",
		Long:          "komaknowledge drives the knowledge corpus: ingesting markdown notes into a searchable index, reconciling the index against the filesystem, watching for live changes, and running hybrid search queries.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "directory to search for koma.toml (default: current directory)")
	root.PersistentFlags().StringVar(&flagDataRoot, "data-root", "", "override the corpus data root (default: $T_KOMA_DATA_DIR or t-koma under the OS user config dir)")

	root.AddCommand(
		newIngestCmd(),
		newReconcileCmd(),
		newWatchCmd(),
		newSearchCmd(),
		newServeCmd(),
	)

	return root
}
