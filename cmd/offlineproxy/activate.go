package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newActivateCmd() *cobra.Command {
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Tell a waiting proxy to take over immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post("http://"+adminAddr+"/-/skip-waiting", "", nil)
			if err != nil {
				return fmt.Errorf("send skip-waiting: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			fmt.Println("skip-waiting accepted")
			return nil
		},
	}

	cmd.Flags().StringVar(&adminAddr, "admin", "127.0.0.1:8081", "admin address of the running proxy")
	return cmd
}
