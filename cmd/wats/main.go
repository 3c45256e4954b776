// Command wats runs the Concourse dashboard web acceptance tests.
package main

import (
	"fmt"
	"os"

	"github.com/Dicklesworthstone/wats/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
