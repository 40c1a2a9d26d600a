// Package client is a small JSON client for the engage server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/recrutai/engage-server-go/internal/httputil"
)

const (
	DefaultServerURL = "http://localhost:8080"
	ServerURLEnv     = "ENGAGE_SERVER_URL"
	requestTimeout   = 5 * time.Minute
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status   int
	Response httputil.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Code != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Response.Code, e.Response.Error, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Response.Error)
}

// Factory returns the client for the current invocation.
type Factory func() *Client

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// ServerURL resolves the server address from the flag value, then the
// environment, then the default.
func ServerURL(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(ServerURLEnv); env != "" {
		return env
	}
	return DefaultServerURL
}

// Do sends body as JSON and decodes the response into out when it is not nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Response); err != nil {
			apiErr.Response.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PrintJSON writes v indented to w.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
