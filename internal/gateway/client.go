// SPDX-License-Identifier: MIT

// Package gateway queries the payment gateway for transaction status.
// The query is idempotent and safe to call repeatedly; the poll loop
// relies on that.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kinoseat/paywatch/internal/status"
)

// ErrMalformedResponse marks a gateway reply that decoded but does not
// carry a usable status. It is not retryable in a way that would help,
// but the poll loop treats it like any other failure.
var ErrMalformedResponse = errors.New("malformed gateway response")

// Client is an HTTP client for the gateway's status endpoint.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client; used by tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a gateway client for the given base URL.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryStatus fetches the current status of one transaction.
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (status.Event, error) {
	u := c.base + "/api/v1/transactions/" + url.PathEscape(transactionID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return status.Event{}, fmt.Errorf("build status request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return status.Event{}, fmt.Errorf("gateway request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return status.Event{}, fmt.Errorf("gateway returned status %d", res.StatusCode)
	}

	var p struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
		Amount        int64  `json:"amount"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return status.Event{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	st := status.Status(p.Status)
	if !st.Valid() {
		return status.Event{}, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, p.Status)
	}

	ev := status.Event{
		TransactionID: p.TransactionID,
		Status:        st,
		Amount:        p.Amount,
		Reason:        p.Reason,
		Source:        status.SourcePoll,
	}
	if ev.TransactionID == "" {
		ev.TransactionID = transactionID
	}
	return ev, nil
}
