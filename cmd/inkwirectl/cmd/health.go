package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the Inkwire api service",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			OK       bool   `json:"ok"`
			Message  string `json:"message"`
			Database bool   `json:"database"`
		}
		if err := makeRequest("GET", "/healthz", nil, &resp); err != nil {
			fmt.Printf("✗ Service is unhealthy: %v\n", err)
			return nil
		}
		if outputJSON {
			return nil
		}

		if resp.OK {
			fmt.Println("✓ Service is healthy")
		} else {
			fmt.Printf("✗ Service is unhealthy: %s (database ok: %t)\n", resp.Message, resp.Database)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
