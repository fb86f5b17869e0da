package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// idempotencyCmd represents the idempotency command
var idempotencyCmd = &cobra.Command{
	Use:   "idempotency <key>",
	Short: "Look up an idempotency record for the authenticated actor",
	Long: `Look up an idempotency record. A present record means the command with
that key has already executed and retries will replay its saved response.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Key        string `json:"key"`
			StatusCode int    `json:"status_code"`
			CreatedAt  string `json:"created_at"`
		}
		if err := makeRequest("GET", "/admin/idempotency/"+args[0], nil, &resp); err != nil {
			return err
		}
		if outputJSON {
			return nil
		}

		fmt.Println("✓ Key already processed")
		fmt.Println("  Status:   ", resp.StatusCode)
		fmt.Println("  Created:  ", resp.CreatedAt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(idempotencyCmd)
}
