/*
main.go - Application entry point

PURPOSE:
  Runs the prg command line. All commands, flags and the HTTP server
  startup live in the cli package.

EXAMPLES:
  # Write a default configuration, then serve a workbook
  prg config init
  prg serve --workbook ПРГ.xlsx

  # Recalculate loads and save them
  prg calculate --save

SEE ALSO:
  - cli/root.go: command tree
  - cli/serve.go: HTTP server with graceful shutdown
*/
package main

import (
	"os"

	"github.com/warp/prg-engine/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
