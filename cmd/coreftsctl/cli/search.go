package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-mizu/corefts/query"
)

// NewSearch creates the "search" command.
func NewSearch() *cobra.Command {
	var dbPath, q string
	var k int

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the index",
		Long:  "Analyze --query the same way indexing does and return the top --k matches.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			analyzer, err := s.Analyzers().Get("standard")
			if err != nil {
				return err
			}
			vec := analyzer.Analyze([]byte(q))
			if len(vec) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no query terms")
				return nil
			}

			var clauses []query.Query
			for _, tok := range vec {
				clauses = append(clauses, s.TermQuery(textField, tok.Term))
			}
			queryTree := query.Disjunction(clauses...)

			hits, explain, err := s.Search(cmd.Context(), queryTree, k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d hits, %d segments visited\n", len(hits), explain.SegmentsVisited)
			for _, h := range hits {
				fv, ok, err := s.GetStored(h.Ref, textField)
				if err != nil {
					return err
				}
				body := ""
				if ok {
					body = fv.Str
				}
				fmt.Fprintf(out, "  %s  score=%.3f  %q\n", h.Ref, h.Score, body)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the index file (required)")
	cmd.Flags().StringVar(&q, "query", "", "query text (required)")
	cmd.Flags().IntVar(&k, "k", 10, "maximum number of results")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}
