package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStats creates the "stats" command.
func NewStats() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print segment statistics",
		Long:  "List every active segment id for the index at --db.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			segs := s.ActiveSegments()
			fmt.Fprintf(cmd.OutOrStdout(), "%d active segments\n", len(segs))
			for _, id := range segs {
				fmt.Fprintf(cmd.OutOrStdout(), "  segment %d\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the index file (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
