package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMerge creates the "merge" command.
func NewMerge() *cobra.Command {
	var dbPath string
	var all bool

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Compact active segments",
		Long:  "Merge every active segment (--all) into one, reclaiming deleted documents' space.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			if !all {
				return fmt.Errorf("merge: pass --all (selective merge is not exposed by this CLI)")
			}
			sources := s.ActiveSegments()
			if len(sources) < 2 {
				fmt.Fprintln(cmd.OutOrStdout(), "fewer than 2 active segments, nothing to merge")
				return nil
			}
			dest, err := s.Merge(sources)
			if err != nil {
				return fmt.Errorf("merge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d segments into segment %d\n", len(sources), dest)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the index file (required)")
	cmd.Flags().BoolVar(&all, "all", false, "merge every active segment")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
