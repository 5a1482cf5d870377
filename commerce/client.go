// Package commerce talks to the commerce platform's Admin REST API.
package commerce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/oberliner3/jhnyc-sub000/metrics"
)

// ErrNotConfigured is returned when the shop domain or access token is missing.
var ErrNotConfigured = errors.New("commerce platform is not configured")

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce api: status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	ShopDomain  string
	AccessToken string
	ShopName    string
	APIVersion  string
}

type Client struct {
	baseURL  string
	token    string
	shopName string
	http     *http.Client
	cb       *gobreaker.CircuitBreaker[[]byte]
}

type Option func(*Client)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL points the client at a different API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ShopDomain == "" || cfg.AccessToken == "" {
		return nil, ErrNotConfigured
	}
	version := cfg.APIVersion
	if version == "" {
		version = "2024-01"
	}
	domain := strings.TrimPrefix(strings.TrimPrefix(cfg.ShopDomain, "https://"), "http://")
	domain = strings.TrimRight(domain, "/")

	c := &Client{
		baseURL:  fmt.Sprintf("https://%s/admin/api/%s", domain, version),
		token:    cfg.AccessToken,
		shopName: cfg.ShopName,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	metrics.CommerceBreakerState.Set(0)
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "commerce-api",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors are the caller's fault, not an outage.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("commerce circuit breaker state change")
			metrics.CommerceBreakerState.Set(stateToFloat(to))
		},
	})

	log.Info().Str("shop", domain).Str("api_version", version).Msg("commerce client configured")
	return c, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// do sends a JSON request through the circuit breaker and decodes the
// response into out when it is not nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	respBody, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", op, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
		}
		return data, nil
	})
	if err != nil {
		status := "failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "rejected"
		}
		metrics.CommerceRequests.WithLabelValues(op, status).Inc()
		return err
	}
	metrics.CommerceRequests.WithLabelValues(op, "success").Inc()

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}

// errorMessage pulls the "errors" field out of an error body. The platform
// sends either a string or an object of field -> messages.
func errorMessage(body []byte, fallback string) string {
	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 {
		return fallback
	}

	var s string
	if err := json.Unmarshal(envelope.Errors, &s); err == nil {
		return s
	}
	var fields map[string][]string
	if err := json.Unmarshal(envelope.Errors, &fields); err == nil {
		keys := make([]string, 0, len(fields))
		for field := range fields {
			keys = append(keys, field)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, field := range keys {
			parts = append(parts, field+" "+strings.Join(fields[field], ", "))
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	return string(envelope.Errors)
}
