package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCreate creates the "create" command.
func NewCreate() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new index",
		Long:  "Create a new corefts index at --db, registering the default text field.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "created index at %s\n", dbPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the index file (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
