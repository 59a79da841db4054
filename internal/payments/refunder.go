// Package payments is the thin client for the external payment provider.
// The booking core only needs refund execution; everything else about the
// provider (intents, payouts) lives outside this service.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

var ErrRefundFailed = errors.New("refund request failed")

// Refunder executes a full refund against a payment reference. A failure
// never rolls back the cancellation that requested it; callers log and
// surface it on the result instead.
type Refunder interface {
	Refund(ctx context.Context, paymentRef string) error
}

// HTTPRefunder posts refunds to the provider's refund endpoint.
type HTTPRefunder struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zerolog.Logger
}

func NewHTTPRefunder(baseURL, apiKey string, logger *zerolog.Logger) *HTTPRefunder {
	return &HTTPRefunder{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type refundRequest struct {
	PaymentRef string `json:"payment_ref"`
}

func (r *HTTPRefunder) Refund(ctx context.Context, paymentRef string) error {
	body, err := json.Marshal(refundRequest{PaymentRef: paymentRef})
	if err != nil {
		return fmt.Errorf("marshal refund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: provider returned %d", ErrRefundFailed, resp.StatusCode)
	}

	r.logger.Info().Str("payment_ref", paymentRef).Msg("refund executed")
	return nil
}

// DisabledRefunder is used when no provider is configured, e.g. in dev
// environments. Refunds are logged and treated as successful.
type DisabledRefunder struct {
	logger *zerolog.Logger
}

func NewDisabledRefunder(logger *zerolog.Logger) *DisabledRefunder {
	return &DisabledRefunder{logger: logger}
}

func (d *DisabledRefunder) Refund(_ context.Context, paymentRef string) error {
	d.logger.Warn().Str("payment_ref", paymentRef).Msg("payment provider not configured, skipping refund")
	return nil
}
