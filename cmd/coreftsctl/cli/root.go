// Package cli implements coreftsctl's cobra command tree.
package cli

import (
	"context"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     "coreftsctl",
		Short:   "Operate a corefts index",
		Long:    "coreftsctl creates, populates, searches and compacts a corefts index from the command line.",
		Version: Version,
	}

	root.AddCommand(NewCreate())
	root.AddCommand(NewPut())
	root.AddCommand(NewSearch())
	root.AddCommand(NewMerge())
	root.AddCommand(NewStats())

	return fang.Execute(ctx, root)
}

func openStore(path string) (*storeHandle, error) {
	return newStoreHandle(path)
}
