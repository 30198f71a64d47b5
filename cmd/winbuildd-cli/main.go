// Command winbuildd-cli is a thin companion CLI: banner/help/status only,
// per spec.md §1's explicit scoping of "the CLI that prints banners" as
// out of core. Structure (cobra root command, persistent flags) is
// adapted from the teacher's internal/cli/commands/root.go, reduced to a
// fraction of its surface since this module implements no profile/registry
// management commands.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:   "winbuildd-cli",
		Short: "Companion CLI for the winbuildd remote build daemon",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "winbuildd base URL")

	root.AddCommand(versionCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI's identification line",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("winbuildd-cli (companion client)")
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the daemon's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("contacting %s: %w", serverURL, err)
			}
			defer resp.Body.Close()

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			fmt.Printf("status: %v  server: %v  version: %v\n", body["status"], body["server"], body["version"])
			return nil
		},
	}
}
