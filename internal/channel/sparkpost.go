// Package channel implements the engine's delivery channel over real email
// providers. Providers push status callbacks for everything sent here; the
// webhook receiver turns those into engagement events for the ingestor.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seplitza/backend-rejuvena/internal/engine"
)

// SparkPostChannel sends through the SparkPost Transmissions API.
type SparkPostChannel struct {
	apiKey    string
	baseURL   string
	fromName  string
	fromEmail string
	client    *http.Client
}

// NewSparkPostChannel creates a channel targeting the SparkPost v1 API.
func NewSparkPostChannel(apiKey, baseURL, fromName, fromEmail string, timeout time.Duration) *SparkPostChannel {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	return &SparkPostChannel{
		apiKey:    apiKey,
		baseURL:   baseURL,
		fromName:  fromName,
		fromEmail: fromEmail,
		client:    &http.Client{Timeout: timeout},
	}
}

// Send submits one transmission and returns SparkPost's transmission id as
// the external delivery identifier. A 4xx response is a permanent rejection
// of this message; 5xx and transport errors are transient.
func (c *SparkPostChannel) Send(ctx context.Context, to, subject, html string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("sparkpost api key not configured")
	}

	transmission := map[string]any{
		"recipients": []map[string]any{
			{"address": map[string]string{"email": to}},
		},
		"content": map[string]any{
			"from":    map[string]string{"email": c.fromEmail, "name": c.fromName},
			"subject": subject,
			"html":    html,
		},
	}
	payload, err := json.Marshal(transmission)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transmissions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sparkpost request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("sparkpost response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", &engine.SendRejectedError{Reason: rejectionReason(body, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sparkpost returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode sparkpost response: %w", err)
	}
	if result.Results.ID == "" {
		return "", fmt.Errorf("sparkpost response missing transmission id")
	}
	return result.Results.ID, nil
}

func rejectionReason(body []byte, status int) string {
	var parsed struct {
		Errors []struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		if parsed.Errors[0].Description != "" {
			return parsed.Errors[0].Description
		}
		return parsed.Errors[0].Message
	}
	return fmt.Sprintf("sparkpost rejected with status %d", status)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
