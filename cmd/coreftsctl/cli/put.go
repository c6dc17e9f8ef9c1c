package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-mizu/corefts/store"
)

// NewPut creates the "put" command.
func NewPut() *cobra.Command {
	var dbPath, pk, text string

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Index one document",
		Long:  "Insert or replace one document, identified by --pk, with --text as its body.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			doc := store.Document{PK: []byte(pk), Fields: map[string]any{textField: text}}
			if err := s.InsertOrUpdateDocument(doc); err != nil {
				return fmt.Errorf("put %q: %w", pk, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %q\n", pk)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the index file (required)")
	cmd.Flags().StringVar(&pk, "pk", "", "primary key (required)")
	cmd.Flags().StringVar(&text, "text", "", "document body text")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("pk")
	return cmd
}
