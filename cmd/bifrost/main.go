// Bifrost is a multi-tenant reverse proxy that fronts multiple LLM providers
// behind their native wire formats, translating between dialects when the
// caller's format differs from the upstream's.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	for _, a := range os.Args[1:] {
		if a == "-version" || a == "--version" {
			fmt.Println("bifrost", version)
			os.Exit(0)
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
