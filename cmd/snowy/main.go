package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/turtacn/Snowy/internal/cli"
	"github.com/turtacn/Snowy/pkg/logger"
)

func main() {
	// A panic outside the engine's own recovery still leaves a trace in the
	// daemon log before the process exits.
	defer func() {
		if r := recover(); r != nil {
			if logger.Log != nil {
				logger.Log.Error("Snowy crashed", "panic", r, "stack", string(debug.Stack()))
			} else {
				fmt.Fprintf(os.Stderr, "snowy: panic: %v\n%s", r, debug.Stack())
			}
			os.Exit(1)
		}
	}()

	cli.Execute()
}

// Personal.AI order the ending
