// Package escrowclient is a Go client for the escrowd settlement API.
//
// The client authenticates by forwarding the actor identity headers that the
// platform's auth gateway would set; point it at a gateway in production.
package escrowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/ledger"
)

// Client calls the settlement service.
type Client struct {
	httpClient *http.Client
	baseURL    string

	actorID string
	admin   bool
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// AsAdmin marks every request as coming from an operator.
func AsAdmin() Option {
	return func(c *Client) { c.admin = true }
}

// New creates a client acting as the given user.
func New(baseURL, actorID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		actorID:    actorID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("escrowd: %s (%d): %s", e.Code, e.Status, e.Message)
}

type escrowEnvelope struct {
	Escrow    *escrow.Escrow `json:"escrow"`
	Unchanged bool           `json:"unchanged"`
}

// Initiate opens a new escrow.
func (c *Client) Initiate(ctx context.Context, req escrow.InitiateRequest) (*escrow.Escrow, error) {
	var out escrowEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/escrows", req, &out); err != nil {
		return nil, err
	}
	return out.Escrow, nil
}

// Get fetches one escrow the actor is a party to.
func (c *Client) Get(ctx context.Context, escrowID string) (*escrow.Escrow, error) {
	var out escrowEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/escrows/"+escrowID, nil, &out); err != nil {
		return nil, err
	}
	return out.Escrow, nil
}

// List returns the actor's escrows, newest first.
func (c *Client) List(ctx context.Context) ([]*escrow.Escrow, error) {
	var out struct {
		Escrows []*escrow.Escrow `json:"escrows"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/escrows", nil, &out); err != nil {
		return nil, err
	}
	return out.Escrows, nil
}

// Balances returns the escrow's full balance audit trail.
func (c *Client) Balances(ctx context.Context, escrowID string) ([]*ledger.Balance, error) {
	var out struct {
		Balances []*ledger.Balance `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/escrows/"+escrowID+"/balances", nil, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

// SubmitFunding reports a deposit on the actor's leg. The returned balance
// row stays unconfirmed until an operator attests it.
func (c *Client) SubmitFunding(ctx context.Context, escrowID string, req escrow.FundRequest) (*ledger.Balance, error) {
	var out struct {
		Balance *ledger.Balance `json:"balance"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/fund", req, &out); err != nil {
		return nil, err
	}
	return out.Balance, nil
}

// MarkPaymentSent records that the actor initiated their payment.
func (c *Client) MarkPaymentSent(ctx context.Context, escrowID string) (*escrow.Escrow, error) {
	return c.postTransition(ctx, "/v1/escrows/"+escrowID+"/payment-sent", nil)
}

// Release records the actor's release confirmation; the escrow releases once
// both parties have confirmed.
func (c *Client) Release(ctx context.Context, escrowID string) (*escrow.Escrow, error) {
	return c.postTransition(ctx, "/v1/escrows/"+escrowID+"/release", nil)
}

// Dispute freezes the escrow pending operator resolution.
func (c *Client) Dispute(ctx context.Context, escrowID, reason string) (*escrow.Escrow, error) {
	return c.postTransition(ctx, "/v1/escrows/"+escrowID+"/dispute",
		map[string]string{"reason": reason})
}

// Cancel withdraws the trade; only the initiator may cancel, and only while
// the counterparty has no confirmed funds.
func (c *Client) Cancel(ctx context.Context, escrowID string) (*escrow.Escrow, error) {
	return c.postTransition(ctx, "/v1/escrows/"+escrowID+"/cancel", nil)
}

// Resolve closes a disputed escrow. Admin only.
func (c *Client) Resolve(ctx context.Context, escrowID, resolution, reason string) (*escrow.Escrow, error) {
	return c.postTransition(ctx, "/v1/escrows/"+escrowID+"/resolve",
		map[string]string{"resolution": resolution, "reason": reason})
}

// ConfirmBalance attests a balance row. Admin only.
func (c *Client) ConfirmBalance(ctx context.Context, balanceID string) (*escrow.Escrow, error) {
	var out escrowEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/balances/"+balanceID+"/confirm", nil, &out); err != nil {
		return nil, err
	}
	return out.Escrow, nil
}

// CorrectBalance supersedes an attested row with a corrected amount. Admin only.
func (c *Client) CorrectBalance(ctx context.Context, balanceID, amount string) (*ledger.Balance, error) {
	var out struct {
		Balance *ledger.Balance `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/balances/"+balanceID+"/correct",
		map[string]string{"amount": amount}, &out)
	if err != nil {
		return nil, err
	}
	return out.Balance, nil
}

func (c *Client) postTransition(ctx context.Context, path string, body any) (*escrow.Escrow, error) {
	var out escrowEnvelope
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.Escrow, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", c.actorID)
	if c.admin {
		req.Header.Set("X-Actor-Role", "admin")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "unexpected_response"
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
