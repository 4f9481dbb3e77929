package trmnl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client posts payloads to a display webhook.
type Client interface {
	Send(ctx context.Context, p Payload) error
}

type webhookClient struct {
	httpClient *http.Client
	url        string
	secret     string
	now        func() time.Time
}

// NewClient creates a webhook client. When secret is non-empty every request carries a
// short-lived HS256 bearer token signed with it.
func NewClient(url, secret string) Client {
	return &webhookClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		secret:     secret,
		now:        time.Now,
	}
}

func (c *webhookClient) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.secret != "" {
		token, err := c.createToken()
		if err != nil {
			return fmt.Errorf("failed to create webhook token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("TRMNL API error: %d - %s", resp.StatusCode, text)
	}
	return nil
}

// createToken generates a five minute JWT for the webhook.
func (c *webhookClient) createToken() (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Issuer:    "mealboard",
	})
	return token.SignedString([]byte(c.secret))
}
