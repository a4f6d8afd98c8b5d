// Package main provides the entry point for the snowclass CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/raphaelgruber/snowclass/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
