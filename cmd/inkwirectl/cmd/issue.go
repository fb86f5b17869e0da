package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// issueCmd groups issue operations
var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Inspect and manage newsletter issues",
}

// issueProgressCmd represents the issue progress command
var issueProgressCmd = &cobra.Command{
	Use:   "progress <issue-id>",
	Short: "Show delivery progress for an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			IssueID  string `json:"issue_id"`
			Pending  int64  `json:"pending"`
			Complete bool   `json:"complete"`
		}
		if err := makeRequest("GET", "/admin/issues/"+args[0]+"/progress", nil, &resp); err != nil {
			return err
		}
		if outputJSON {
			return nil
		}

		if resp.Complete {
			fmt.Println("✓ Delivery complete")
		} else {
			fmt.Printf("… %d deliveries pending\n", resp.Pending)
		}
		return nil
	},
}

// issuePurgeCmd represents the issue purge command
var issuePurgeCmd = &cobra.Command{
	Use:   "purge <issue-id>",
	Short: "Cancel the still-pending deliveries of an issue",
	Long: `Cancel the pending deliveries of an issue. Deliveries currently held
by a worker are not interrupted; run progress afterwards to confirm drain.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			IssueID string `json:"issue_id"`
			Removed int64  `json:"removed"`
		}
		if err := makeRequest("DELETE", "/admin/issues/"+args[0]+"/pending", nil, &resp); err != nil {
			return err
		}
		if outputJSON {
			return nil
		}

		fmt.Printf("✓ Removed %d pending deliveries\n", resp.Removed)
		return nil
	},
}

func init() {
	issueCmd.AddCommand(issueProgressCmd)
	issueCmd.AddCommand(issuePurgeCmd)
	rootCmd.AddCommand(issueCmd)
}
