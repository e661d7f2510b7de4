// Package transport implements the HTTP client for the two collector
// endpoints: the authentication exchange and the event batch upload.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Endpoint paths under the collector base URL.
const (
	AuthenticatePath = "authentication"
	EventPath        = "event"
)

// Doer executes a single HTTP request. The tracker treats it as a black box;
// any *http.Client satisfies it, as does a test double.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config locates and authenticates against the collector.
type Config struct {
	BaseURL  string
	Username string
	Password string
}

type authRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type authResponse struct {
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

// CollectorClient talks to the remote collector. It implements
// usecase.Transport.
type CollectorClient struct {
	client Doer
	cfg    Config
	logger *slog.Logger
}

// NewCollectorClient builds a client on the given executor. client may be nil,
// in which case http.DefaultClient is used.
func NewCollectorClient(cfg Config, client Doer, logger *slog.Logger) *CollectorClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &CollectorClient{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "collector_client"),
	}
}

// Authenticate exchanges the configured credentials for a bearer token.
func (c *CollectorClient) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(authRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return "", fmt.Errorf("encode authentication request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(AuthenticatePath), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build authentication request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("authentication call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read authentication response: %w", err)
	}

	var parsed authResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode authentication response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication rejected (%d): %s", resp.StatusCode, parsed.Message)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("authentication response carried no token")
	}

	c.logger.Debug("authenticated against collector")
	return parsed.Token, nil
}

// UploadBatch posts a serialized event batch and returns the status code.
// Non-2xx codes are not errors here; the pipeline interprets them.
func (c *CollectorClient) UploadBatch(ctx context.Context, token string, batch []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(EventPath), bytes.NewReader(batch))
	if err != nil {
		return 0, fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("event call: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (c *CollectorClient) url(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + path
}
