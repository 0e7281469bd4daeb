// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serializer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
)

// RespondJSON writes a JSON response with the given status code and data.
// It buffers the encoding before writing headers to prevent partial responses.
func RespondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("json encoding failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Connection is broken, log but can't recover
		slog.Warn("response write failed", "error", err)
	}
}

const (
	// DefaultUserAgent identifies bridge HTTP clients.
	DefaultUserAgent = "sbridge/1.0"

	maxErrorBody = 4096
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// Client is a small JSON-over-HTTP client shared by the CLI and the webhook
// accountant.
type Client struct {
	UserAgent string
	Headers   map[string]string
	HTTP      *http.Client
}

// WithTimeout bounds every request end to end.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.HTTP.Timeout = timeout
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.UserAgent = userAgent
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		c.Headers[key] = value
	}
}

// WithHTTPClient replaces the underlying client, e.g. with httptest's.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTP = hc
	}
}

// NewClient creates a Client with pooled connections and TLS 1.2+.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		UserAgent: DefaultUserAgent,
		HTTP: &http.Client{
			Timeout:   defaults.HTTPClientTimeout,
			Transport: newDefaultHTTPTransport(),
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func newDefaultHTTPTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Get fetches url and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	data, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return decodeJSON(data, out)
}

// PostJSON sends in as JSON and decodes the response into out when out is
// non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	data, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(data, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("url is empty")
	}
	if c.HTTP == nil {
		return nil, fmt.Errorf("http client is nil")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for url %s: %w", url, err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable,
			fmt.Sprintf("%s %s failed", method, url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, data)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

func decodeJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}

// statusError turns a non-2xx response into a StructuredError. The body's
// code and message are used when it is a bridge error response.
func statusError(status int, body []byte) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Code != "" {
		return apperrors.NewWithContext(apperrors.ErrorCode(payload.Code), payload.Message,
			map[string]any{"status": status})
	}

	code := apperrors.ErrCodeInternal
	switch {
	case status == http.StatusNotFound:
		code = apperrors.ErrCodeNotFound
	case status == http.StatusConflict:
		code = apperrors.ErrCodeConflict
	case status == http.StatusTooManyRequests:
		code = apperrors.ErrCodeRateLimitExceeded
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		code = apperrors.ErrCodeUnauthorized
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		code = apperrors.ErrCodeTimeout
	case status >= 500:
		code = apperrors.ErrCodeUnavailable
	case status >= 400:
		code = apperrors.ErrCodeInvalidRequest
	}
	return apperrors.NewWithContext(code, fmt.Sprintf("unexpected status %d", status),
		map[string]any{"status": status, "body": string(body)})
}
