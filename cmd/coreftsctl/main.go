// Command coreftsctl is the operator CLI exercising the Store facade
// directly: create a store, put documents, search, trigger a merge, and
// print segment statistics. Built with github.com/spf13/cobra and
// github.com/charmbracelet/fang the way the idiomatic Go blueprint
// CLIs are, one subcommand per file under cli/.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-mizu/corefts/cmd/coreftsctl/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
