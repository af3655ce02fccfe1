// Command docsearch ingests PDF, Word, spreadsheet and text documents into a
// vector store and answers similarity searches over them, from the CLI or
// through an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docsearch-go/cmd/docsearch/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
