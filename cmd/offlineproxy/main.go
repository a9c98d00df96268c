package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "offlineproxy",
		Short:   "Offline-first caching proxy for web applications",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newActivateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
