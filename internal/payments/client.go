package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bidpool/bidpool-api/internal/config"
	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"
)

// Gateway is the payment/escrow collaborator contract. Initiate returns an
// opaque pending reference immediately; the outcome arrives later on the
// webhook. Reverse is the compensating action for refunds and cancellations.
type Gateway interface {
	Initiate(ctx context.Context, memberID, bidID uuid.UUID, amountCents int64) (string, error)
	Reverse(ctx context.Context, pendingRef string) error
}

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Client talks to the escrow service over HTTP, authenticating with OAuth2
// client credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.PaymentConfig) *Client {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: creds.Client(context.Background()),
	}
}

type initiateRequest struct {
	MemberID    uuid.UUID `json:"member_id"`
	GroupBidID  uuid.UUID `json:"group_bid_id"`
	AmountCents int64     `json:"amount_cents"`
}

type initiateResponse struct {
	PendingRef string `json:"pending_ref"`
}

func (c *Client) Initiate(ctx context.Context, memberID, bidID uuid.UUID, amountCents int64) (string, error) {
	body, err := json.Marshal(initiateRequest{
		MemberID:    memberID,
		GroupBidID:  bidID,
		AmountCents: amountCents,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/escrow/initiate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("escrow initiate returned status %d", resp.StatusCode)
	}

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode initiate response: %w", err)
	}
	if out.PendingRef == "" {
		return "", fmt.Errorf("escrow initiate returned empty pending ref")
	}

	return out.PendingRef, nil
}

func (c *Client) Reverse(ctx context.Context, pendingRef string) error {
	body, err := json.Marshal(map[string]string{"pending_ref": pendingRef})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/escrow/reverse", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	// 404 means the gateway never saw the ref or already unwound it; both are
	// terminal for a compensation.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("escrow reverse returned status %d", resp.StatusCode)
	}

	return nil
}
