package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonwraymond/flowguard/resilience"
)

// maxErrorBody bounds how much of a failed response is kept as the
// error message.
const maxErrorBody = 4 << 10

// Config configures an HTTP provider.
type Config struct {
	Name    string
	BaseURL string

	// APIKey is sent as "<AuthScheme> <APIKey>" in AuthHeader.
	APIKey string

	// AuthHeader carries the key.
	// Default: Authorization
	AuthHeader string

	// AuthScheme prefixes the key. Set to "-" to send the bare key.
	// Default: Bearer
	AuthScheme string

	// Headers are added to every request.
	Headers map[string]string

	// Client performs requests.
	// Default: a client with a 3 minute timeout
	Client *http.Client
}

// HTTP posts JSON to an upstream API and reports failures as
// *resilience.ProviderError so they classify by status code.
type HTTP struct {
	name    string
	baseURL string
	header  http.Header
	client  *http.Client
}

// New creates an HTTP provider.
func New(cfg Config) (*HTTP, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("provider: name required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider: %s: base URL required", cfg.Name)
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 3 * time.Minute}
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	if cfg.APIKey != "" {
		if cfg.AuthScheme == "-" {
			header.Set(cfg.AuthHeader, cfg.APIKey)
		} else {
			header.Set(cfg.AuthHeader, cfg.AuthScheme+" "+cfg.APIKey)
		}
	}

	return &HTTP{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		header:  header,
		client:  cfg.Client,
	}, nil
}

// Name returns the provider name.
func (h *HTTP) Name() string { return h.name }

// Post sends body as JSON to path and decodes the response into out.
func (h *HTTP) Post(ctx context.Context, path string, body, out any) error {
	raw, err := h.PostRaw(ctx, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resilience.Terminal(&resilience.ProviderError{
			Provider: h.name,
			Message:  "malformed response",
			Err:      err,
		})
	}
	return nil
}

// PostRaw sends body as JSON to path and returns the raw response body.
//
// Non-2xx responses become a *resilience.ProviderError carrying the
// status. Transport failures are transient; ctx errors are returned
// unchanged.
func (h *HTTP) PostRaw(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, resilience.Terminal(fmt.Errorf("provider: %s: encode request: %w", h.name, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/"+strings.TrimLeft(path, "/"), bytes.NewReader(payload))
	if err != nil {
		return nil, resilience.Terminal(fmt.Errorf("provider: %s: build request: %w", h.name, err))
	}
	req.Header = h.header.Clone()

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, resilience.Transient(&resilience.ProviderError{Provider: h.name, Err: err})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &resilience.ProviderError{
			Provider:   h.name,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(snippet, resp.Status),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(&resilience.ProviderError{
			Provider:   h.name,
			StatusCode: resp.StatusCode,
			Message:    "read response",
			Err:        err,
		})
	}
	return raw, nil
}

// errorMessage extracts the message of common JSON error envelopes
// ({"error":{"message":..}}, {"error":".."}, {"message":".."}) and
// falls back to the trimmed body or the status line.
func errorMessage(body []byte, status string) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "":
			return nested.Message
		case json.Unmarshal(envelope.Error, &flat) == nil && flat != "":
			return flat
		case envelope.Message != "":
			return envelope.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return status
}
