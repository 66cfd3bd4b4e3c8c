package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithAPIURL(url string) Option {
	return func(cl *Client) {
		cl.apiURL = url
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      postmarkURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendMagicLink sends a login link for the given session token.
func (c *Client) SendMagicLink(toEmail, token string) error {
	link := fmt.Sprintf("%s/auth/verify?token=%s", c.baseURL, token)
	textBody := fmt.Sprintf("Click the link below to sign in to Skredvarsel:\n\n%s\n\nThis link expires in 15 minutes.", link)
	htmlBody := fmt.Sprintf(
		`<p>Click the link below to sign in to Skredvarsel:</p><p><a href="%s">Sign in</a></p><p>This link expires in 15 minutes.</p>`,
		link,
	)
	return c.send(postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Sign in to Skredvarsel",
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

// SendChargeFailure tells a subscriber that their renewal charge could not
// be created.
func (c *Client) SendChargeFailure(toEmail, agreementID string) error {
	link := c.baseURL + "/minSide"
	textBody := fmt.Sprintf(
		"We could not renew your Skredvarsel subscription (agreement %s).\n\nPlease check your payment method at %s.",
		agreementID, link,
	)
	htmlBody := fmt.Sprintf(
		`<p>We could not renew your Skredvarsel subscription (agreement %s).</p><p>Please check your payment method on <a href="%s">your account page</a>.</p>`,
		agreementID, link,
	)
	return c.send(postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Your Skredvarsel subscription could not be renewed",
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

func (c *Client) send(payload postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
