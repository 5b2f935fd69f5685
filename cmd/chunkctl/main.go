package main

import (
	"context"
	"fmt"
	"os"

	"github.com/skypro1111/chunkrec/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
