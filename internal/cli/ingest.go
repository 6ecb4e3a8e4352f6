package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newIngestCmd builds `komaknowledge ingest [path...]`: ingests specific
// files directly, or every indexable file under the corpus roots (markdown
// notes, plus reference files of any extension) when no paths are given.
func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [path...]",
		Short: "Ingest one or more note files into the index",
		Long:  "Runs the single-file ingest pipeline (hash-gate, parse, chunk, embed, upsert) against the given paths. With no paths, ingests every markdown file under the corpus roots, plus reference files of any extension.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, flagConfigPath, flagDataRoot)
			if err != nil {
				return err
			}
			defer a.Close()

			paths := args
			if len(paths) == 0 {
				roots, err := a.Roots.DiscoverAll()
				if err != nil {
					return err
				}
				paths, err = discoverNoteFiles(a.Roots, roots)
				if err != nil {
					return err
				}
			}

			var ingested, skipped, failed int
			for _, p := range paths {
				res, err := a.Pipeline.IngestFile(ctx, p)
				if err != nil {
					a.Log.WithError(err).WithField("path", p).Warn("ingest failed")
					failed++
					continue
				}
				if res.Skipped {
					skipped++
				} else {
					ingested++
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ingested=%d skipped=%d failed=%d\n", ingested, skipped, failed)
			if failed > 0 {
				return fmt.Errorf("ingest: %d file(s) failed", failed)
			}
			return nil
		},
	}
	return cmd
}
