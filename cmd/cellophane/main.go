// Command cellophane runs a modular sample-processing pipeline: it binds
// the schema-derived configuration, loads the registered modules, and
// dispatches the session.
package main

import (
	"os"

	"github.com/ClinicalGenomicsGBG/cellophane/cmd/cellophane/commands"
)

func main() {
	os.Exit(commands.Execute())
}
