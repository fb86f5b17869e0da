package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	publishTitle   string
	publishText    string
	publishHTML    string
	publishKey     string
	publishTextFil string
	publishHTMLFil string
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a newsletter issue to all confirmed subscribers",
	Long: `Publish a newsletter issue. The command generates an idempotency key
when one is not supplied, so re-running a failed invocation with the printed
key can never double-send.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := contentArg(publishText, publishTextFil)
		if err != nil {
			return err
		}
		html, err := contentArg(publishHTML, publishHTMLFil)
		if err != nil {
			return err
		}
		if publishKey == "" {
			publishKey = uuid.NewString()
			fmt.Fprintln(os.Stderr, "idempotency key:", publishKey)
		}

		var resp struct {
			IssueID            string `json:"issue_id"`
			RecipientsEnqueued int    `json:"recipients_enqueued"`
		}
		err = makeRequest("POST", "/admin/newsletters", map[string]string{
			"title":           publishTitle,
			"text_content":    text,
			"html_content":    html,
			"idempotency_key": publishKey,
		}, &resp)
		if err != nil {
			return err
		}
		if outputJSON {
			return nil
		}

		fmt.Println("✓ Issue accepted")
		fmt.Println("  Issue ID:  ", resp.IssueID)
		fmt.Println("  Recipients:", resp.RecipientsEnqueued)
		return nil
	},
}

func contentArg(inline, file string) (string, error) {
	if file == "" {
		return inline, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read content file: %w", err)
	}
	return string(b), nil
}

func init() {
	publishCmd.Flags().StringVar(&publishTitle, "title", "", "issue title (required)")
	publishCmd.Flags().StringVar(&publishText, "text", "", "plain text content")
	publishCmd.Flags().StringVar(&publishHTML, "html", "", "HTML content")
	publishCmd.Flags().StringVar(&publishTextFil, "text-file", "", "read plain text content from file")
	publishCmd.Flags().StringVar(&publishHTMLFil, "html-file", "", "read HTML content from file")
	publishCmd.Flags().StringVar(&publishKey, "key", "", "idempotency key (generated when empty)")
	publishCmd.MarkFlagRequired("title")

	rootCmd.AddCommand(publishCmd)
}
