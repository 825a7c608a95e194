// cmd/trios is the command-line interface to TRIOS, a small multitasking kernel simulated as a
// host process.
package main

import (
	"context"
	"os"

	"github.com/triosdev/trios/internal/cli"
	"github.com/triosdev/trios/internal/cli/cmd"
)

var (
	commands = []cli.Command{
		cmd.Boot(),
	}
)

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
