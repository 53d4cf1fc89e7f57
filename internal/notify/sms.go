package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSMSProvider posts messages to a JSON SMS gateway.
type HTTPSMSProvider struct {
	endpoint   string
	apiKey     string
	fromNumber string
	httpClient *http.Client
}

func NewHTTPSMSProvider(endpoint, apiKey, fromNumber string) *HTTPSMSProvider {
	return &HTTPSMSProvider{
		endpoint:   endpoint,
		apiKey:     apiKey,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type smsRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Reference string `json:"reference,omitempty"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// SendSMS posts one message and returns the gateway message id. The
// enrollment id rides along as the reference so gateway callbacks can be
// matched.
func (p *HTTPSMSProvider) SendSMS(ctx context.Context, phone, body string, corr Correlation) (string, error) {
	payload, err := json.Marshal(smsRequest{
		From:      p.fromNumber,
		To:        phone,
		Body:      body,
		Reference: corr.EnrollmentID.String(),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	var out smsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode sms response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("sms gateway error: %s", out.Error)
	}
	return out.MessageID, nil
}
