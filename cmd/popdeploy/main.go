// Package main provides the popdeploy CLI for deploying a compiled contract to an
// EVM network.
package main

import (
	"os"
)

func main() {
	os.Exit(run())
}
