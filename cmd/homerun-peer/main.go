// Command homerun-peer runs one headless HomeRun peer: it resolves the local
// identity, matchmakes over the configured transports and simulates matches
// at a fixed rate. The admin listener drives it.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}
