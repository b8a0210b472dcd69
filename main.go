// The main package for the pricedb executable.
package main

import (
	"github.com/JakeFAU/vm-pricedb/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
