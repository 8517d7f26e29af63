// Package main provides medtrackctl, the operator CLI for schema
// migrations, schedule queries, compliance reports and broker setup.
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
