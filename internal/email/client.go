package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const serverTokenHeader = "X-Server-Token"

// Sender is the outbound mail capability consumed by the delivery worker.
// Failures are tagged SendErrors; anything else is treated as transient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// Client talks to an HTTP mail provider (Postmark-style JSON API).
type Client struct {
	httpClient  *http.Client
	baseURL     string
	sender      string
	serverToken string
}

type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// NewClient builds a provider client. timeout bounds each send attempt;
// a stuck provider call surfaces as a transient failure, not a hung worker.
func NewClient(baseURL, sender, serverToken string, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		sender:      sender,
		serverToken: serverToken,
	}
}

// Send submits one email to the provider.
func (c *Client) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	body, err := json.Marshal(sendRequest{
		From:     c.sender,
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return &SendError{Kind: KindPermanent, Err: fmt.Errorf("encode send request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return &SendError{Kind: KindPermanent, Err: fmt.Errorf("build send request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(serverTokenHeader, c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts: the provider may never have seen
		// the request, so retrying is the right call.
		return &SendError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	reason := readReason(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &SendError{Kind: KindTransient, Status: resp.StatusCode, Reason: reason}
	}
	return &SendError{Kind: KindPermanent, Status: resp.StatusCode, Reason: reason}
}

func readReason(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
