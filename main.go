// The main package for the polla executable.
package main

import (
	"os"

	"github.com/JakeFAU/polla-consensus/cmd"
)

// main defers all execution to the Cobra CLI and exits with its status.
func main() {
	os.Exit(cmd.Execute())
}
