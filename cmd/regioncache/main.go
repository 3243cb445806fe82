// Command regioncache operates a region cache deployment: it runs the domain
// event consumer and evicts, clears or dispatches by hand.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
