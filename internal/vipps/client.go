package vipps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const dateOnly = "2006-01-02"

// Config holds Vipps merchant credentials.
type Config struct {
	BaseURL              string
	ClientID             string
	ClientSecret         string
	SubscriptionKey      string
	MerchantSerialNumber string
}

// APIError is a non-2xx response from the Vipps API, with the provider's
// detail body preserved for the caller.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vipps: status %d: %s", e.StatusCode, e.Body)
}

// ClientError reports whether the provider rejected the request itself, as
// opposed to being unavailable.
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client talks to the Vipps recurring payments API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAgreement drafts a new recurring agreement. The idempotency key
// dedupes retried creation requests on the provider side.
func (c *Client) CreateAgreement(ctx context.Context, req DraftAgreementRequest, idempotencyKey string) (CreatedAgreement, error) {
	var created CreatedAgreement
	err := c.do(ctx, http.MethodPost, "/recurring/v3/agreements", idempotencyKey, req, &created)
	if err != nil {
		return CreatedAgreement{}, fmt.Errorf("create agreement: %w", err)
	}
	return created, nil
}

// GetAgreement fetches the provider's current view of an agreement.
func (c *Client) GetAgreement(ctx context.Context, agreementID string) (Agreement, error) {
	var agreement Agreement
	err := c.do(ctx, http.MethodGet, "/recurring/v3/agreements/"+agreementID, "", nil, &agreement)
	if err != nil {
		return Agreement{}, fmt.Errorf("get agreement %s: %w", agreementID, err)
	}
	return agreement, nil
}

// CancelAgreement stops billing on an agreement by cancelling every charge
// that has not yet been captured. Cancelling an agreement with no pending
// charges is a no-op, which makes the operation safe to repeat.
func (c *Client) CancelAgreement(ctx context.Context, agreementID string) error {
	charges, err := c.listCharges(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("cancel agreement %s: %w", agreementID, err)
	}

	for _, charge := range charges {
		if !charge.cancellable() {
			continue
		}
		path := fmt.Sprintf("/recurring/v3/agreements/%s/charges/%s", agreementID, charge.ID)
		key := fmt.Sprintf("cancel-%s-%s", agreementID, charge.ID)
		if err := c.do(ctx, http.MethodDelete, path, key, nil, nil); err != nil {
			return fmt.Errorf("cancel charge %s on agreement %s: %w", charge.ID, agreementID, err)
		}
	}
	return nil
}

// RenewCharge creates the agreement's next charge. The idempotency key is
// derived from the agreement and due date, so a duplicate sweep cannot
// create a second charge for the same period.
func (c *Client) RenewCharge(ctx context.Context, agreementID string, amount int, description string, due time.Time) (Charge, error) {
	req := createChargeRequest{
		Amount:          amount,
		Description:     description,
		Due:             due.Format(dateOnly),
		RetryDays:       5,
		TransactionType: "DIRECT_CAPTURE",
	}
	key := fmt.Sprintf("charge-%s-%s", agreementID, req.Due)

	var resp createChargeResponse
	path := fmt.Sprintf("/recurring/v3/agreements/%s/charges", agreementID)
	if err := c.do(ctx, http.MethodPost, path, key, req, &resp); err != nil {
		return Charge{}, fmt.Errorf("renew charge on agreement %s: %w", agreementID, err)
	}

	return Charge{ID: resp.ChargeID, Status: chargePending, Due: req.Due, Amount: amount}, nil
}

func (c *Client) listCharges(ctx context.Context, agreementID string) ([]Charge, error) {
	var charges []Charge
	path := fmt.Sprintf("/recurring/v3/agreements/%s/charges", agreementID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &charges); err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	return charges, nil
}

// do performs an authenticated request against the Vipps API. Network errors
// and 5xx responses are retried a few times with backoff; 4xx responses are
// returned as *APIError without retrying.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(250*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
		req.Header.Set("Merchant-Serial-Number", c.cfg.MerchantSerialNumber)
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("vipps request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.RetryableError(&APIError{StatusCode: resp.StatusCode, Body: string(detail)})
		}
		if resp.StatusCode >= 400 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &APIError{StatusCode: resp.StatusCode, Body: string(detail)}
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}

// accessToken returns a cached bearer token, fetching a fresh one when the
// cached token is within a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/accesstoken/get", nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("client_id", c.cfg.ClientID)
	req.Header.Set("client_secret", c.cfg.ClientSecret)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(detail)}
	}

	var tokenResp accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	expiresIn, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	c.token = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return c.token, nil
}
