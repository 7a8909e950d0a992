// Command embedchat serves the embeddable assistant chat widget and manages
// its assistant configurations.
package main

import (
	"os"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		os.Exit(1)
	}
}
