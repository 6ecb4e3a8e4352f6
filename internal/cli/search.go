package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newSearchCmd builds `komaknowledge search <query>`: a one-shot hybrid
// search over the index, for inspecting ranking without a host
// process driving the engine API.
func newSearchCmd() *cobra.Command {
	var agent string
	var scope string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search query against the index",
		Long:  "Runs the lexical+dense hybrid search pipeline (BM25 ∪ vector ANN, fused with RRF, trust/doc-role boosted, graph-expanded) and prints the ranked results.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, flagConfigPath, flagDataRoot)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			results, err := a.Engine.MemorySearch(ctx, agent, query, scope)
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.4f] %s (%s, trust=%d)\n   %s\n",
					i+1, r.Score, r.Title, r.Archetype, r.TrustScore, r.SnippetText)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "ghost identity the query runs as (determines access policy)")
	cmd.Flags().StringVar(&scope, "scope", "all", "search scope: all, shared, or private")

	return cmd
}
