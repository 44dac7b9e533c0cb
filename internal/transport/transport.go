// Package transport wraps the external email provider's batch-send API.
// The engine treats the provider as a black box: one call per batch, a
// per-recipient accept/fail breakdown in the response.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulsepost/delivery-engine/internal/pkg/httpretry"
)

// SendResult is the per-batch outcome reported by the provider.
type SendResult struct {
	Sent             int      `json:"sent"`
	Failed           int      `json:"failed"`
	FailedRecipients []string `json:"failed_recipients,omitempty"`
}

// BatchSender is the contract the batch processor depends on.
// Implementations must be safe for concurrent use.
type BatchSender interface {
	// SendBatch submits one batch of recipients for a campaign. A non-nil
	// error means the call itself failed; per-recipient failures are
	// reported inside the result and do not produce an error.
	SendBatch(ctx context.Context, campaignID, tenantID, subject string, recipients []string) (*SendResult, error)

	// Ping checks provider reachability for health reporting.
	Ping(ctx context.Context) error
}

// Client is the HTTP implementation of BatchSender, with retry/backoff on
// transient provider errors.
type Client struct {
	baseURL string
	apiKey  string
	http    httpretry.HTTPDoer
}

// NewClient creates a provider client. maxRetries applies to transient
// failures (429/5xx, network errors) per request.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries),
	}
}

type batchSendRequest struct {
	CampaignID string   `json:"campaign_id"`
	TenantID   string   `json:"tenant_id"`
	Subject    string   `json:"subject"`
	Recipients []string `json:"recipients"`
}

// SendBatch submits one batch via POST /v1/batch-send.
func (c *Client) SendBatch(ctx context.Context, campaignID, tenantID, subject string, recipients []string) (*SendResult, error) {
	body, err := json.Marshal(batchSendRequest{
		CampaignID: campaignID,
		TenantID:   tenantID,
		Subject:    subject,
		Recipients: recipients,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/batch-send", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(msg))
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return &result, nil
}

// Ping checks the provider health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider health returned %d", resp.StatusCode)
	}
	return nil
}
