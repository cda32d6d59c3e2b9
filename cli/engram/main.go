// Command engram is the tiered conversational memory CLI and API server.
package main

import (
	"os"

	engramcmder "github.com/papercomputeco/engram/cmd/engram"
)

func main() {
	if err := engramcmder.NewEngramCmd().Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
