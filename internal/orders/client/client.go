// Package client reads record status from a running fulfillment service
// over its REST API. It satisfies admission.StatusSource so the same wait
// protocol can run on the buyer's side.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/middleware"
)

// StatusClient fetches /api/v1/{orders|bookings}/{id}/status
type StatusClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. token is sent as a bearer token.
func New(baseURL, token string, timeout time.Duration) *StatusClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type statusEnvelope struct {
	Data struct {
		Kind   string `json:"kind"`
		Reason string `json:"reason"`
	} `json:"data"`
}

// Status implements admission.StatusSource
func (c *StatusClient) Status(ctx context.Context, ref domain.Ref) (domain.Status, error) {
	url := fmt.Sprintf("%s/api/v1/%ss/%d/status", c.baseURL, ref.Entity, ref.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Status{}, errors.NewValidation("invalid status url", err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(middleware.TraceIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Status{}, errors.NewInternal("status request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Status{}, errors.NewInternal("failed to read status response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Status{}, decodeError(resp.StatusCode, body)
	}

	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Status{}, errors.NewInternal("malformed status response", err)
	}
	return domain.ParseStatus(env.Data.Kind, env.Data.Reason)
}

// decodeError restores the service's error code so callers can tell a
// missing record from a transient failure
func decodeError(status int, body []byte) error {
	var er errors.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Code != "" {
		return &errors.AppError{Code: er.Error.Code, Message: er.Error.Message, Details: er.Error.Details}
	}
	switch status {
	case http.StatusNotFound:
		return errors.NewNotFound("record", "")
	case http.StatusUnauthorized:
		return errors.NewUnauthorized(http.StatusText(status))
	default:
		return errors.NewInternal(fmt.Sprintf("unexpected status %d", status), nil)
	}
}
