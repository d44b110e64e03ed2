package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/frahmantamala/payment-orchestration/internal"
)

const maxResponseBody = 1 << 20

// StatusError is a non-2xx answer from a provider API. Its message holds the
// status code only; the body is kept for plugin inspection and never printed.
type StatusError struct {
	Provider   string
	StatusCode int
	body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Provider, e.StatusCode)
}

func (e *StatusError) Body() []byte {
	return e.body
}

// AsStatusError unwraps a StatusError from err.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Gateway performs the synchronous outbound calls of one provider.
type Gateway struct {
	provider string
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

func NewGateway(provider, baseURL string, client *http.Client, logger *slog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		timeout:  client.Timeout,
		logger:   logger,
	}
}

func (g *Gateway) BaseURL() string {
	return g.baseURL
}

func (g *Gateway) Client() *http.Client {
	return g.client
}

// JSON sends in as a JSON body (when non-nil) and decodes a 2xx answer into out.
func (g *Gateway) JSON(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.NewInternalError("failed to encode provider request", err)
		}
		body = bytes.NewReader(payload)
	}
	if header == nil {
		header = http.Header{}
	}
	if in != nil {
		header.Set("Content-Type", "application/json")
	}
	header.Set("Accept", "application/json")
	return g.do(ctx, method, path, header, body, out)
}

// Form posts url-encoded values and decodes a 2xx JSON answer into out.
func (g *Gateway) Form(ctx context.Context, path string, header http.Header, values url.Values, out any) error {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Accept", "application/json")
	return g.do(ctx, http.MethodPost, path, header, strings.NewReader(values.Encode()), out)
}

func (g *Gateway) do(ctx context.Context, method, path string, header http.Header, body io.Reader, out any) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, g.url(path), body)
	if err != nil {
		return errors.NewInternalError("failed to build provider request", err)
	}
	req.Header = header

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("provider request failed",
			"provider", g.provider,
			"method", method,
			"path", path,
			"duration_ms", time.Since(start).Milliseconds())
		return errors.NewProviderCommunicationError(g.provider+" is unreachable", errors.ErrCodeProviderUnavailable, scrubURLError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return errors.NewProviderCommunicationError(g.provider+" response could not be read", errors.ErrCodeProviderUnavailable, err)
	}

	g.logger.Debug("provider request completed",
		"provider", g.provider,
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewProviderCommunicationError(
			fmt.Sprintf("%s rejected the request with status %d", g.provider, resp.StatusCode),
			errors.ErrCodeProviderRejected,
			&StatusError{Provider: g.provider, StatusCode: resp.StatusCode, body: raw},
		)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewProviderCommunicationError(g.provider+" returned an unexpected response", errors.ErrCodeProviderRejected, err)
	}
	return nil
}

func (g *Gateway) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return g.baseURL + "/" + strings.TrimLeft(path, "/")
}

// scrubURLError drops the request url, which may carry credentials in its query.
func scrubURLError(err error) error {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
