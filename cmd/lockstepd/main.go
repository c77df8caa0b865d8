package main

import (
	"fmt"
	"os"

	"github.com/danmuck/lockstep/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lockstepd: %v\n", err)
		os.Exit(1)
	}
}
