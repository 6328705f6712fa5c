// Command fallbackctl maintains the verified-identity store, prints the
// effective configuration and load-tests the verification engine with
// simulated clients.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
