// Command chai tokenizes text for a chosen model from the terminal or over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	err := NewRootCmd().Execute()

	if shutdownErr := shutdownTelemetry(); shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
