// Package api is the typed HTTP client for the chat backend.
//
// Every call runs the CSRF handshake first, carries cookies, and sends the
// anti-forgery token from the XSRF-TOKEN cookie back in a header. Failures are
// normalized into the small taxonomy in errors.go.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/verdantchat/chatsync/internal/config"
	"github.com/verdantchat/chatsync/pkg/logger"
	"github.com/verdantchat/chatsync/pkg/metrics"
)

const (
	csrfInitPath   = "/sanctum/csrf-cookie"
	csrfCookieName = "XSRF-TOKEN"
	csrfHeaderName = "X-XSRF-TOKEN"

	// maxResponseSize bounds response bodies read into memory.
	maxResponseSize = 10 * 1024 * 1024
)

// Client talks to one backend base URL on behalf of one session.
type Client struct {
	baseURL string
	jar     http.CookieJar
	httpc   *http.Client
	streamc *http.Client
	logger  *logger.Logger
	tracer  trace.Tracer

	maxRetries  uint64
	backoffBase time.Duration
	backoffMax  time.Duration
}

// New creates a client from configuration. Both the request client and the
// streaming client share one cookie jar so the CSRF cookie set by the
// handshake is visible to every call.
func New(cfg *config.Config, log *logger.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		jar:     jar,
		httpc: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		// No timeout on the streaming client; sends are bounded by context.
		streamc: &http.Client{
			Jar:       jar,
			Transport: transport,
		},
		logger:      log,
		tracer:      otel.Tracer("chatsync/api"),
		maxRetries:  uint64(cfg.MaxRetries),
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
	}, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ensureCSRF performs the anti-forgery handshake. It is idempotent and cheap,
// and is re-run per call so a rotated cookie is always picked up.
func (c *Client) ensureCSRF(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+csrfInitPath, nil)
	if err != nil {
		return fmt.Errorf("create csrf request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("csrf handshake: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Status: resp.StatusCode, Body: "csrf handshake failed"}
	}
	return nil
}

// csrfToken reads the anti-forgery token from the cookie jar. The backend
// URL-encodes the cookie value, so it is decoded before use.
func (c *Client) csrfToken() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == csrfCookieName {
			if v, err := url.QueryUnescape(ck.Value); err == nil {
				return v
			}
			return ck.Value
		}
	}
	return ""
}

func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.csrfToken(); token != "" {
		req.Header.Set(csrfHeaderName, token)
	}
}

// do performs one request and normalizes the outcome: 404 becomes a
// NotFoundError, other non-2xx a RequestError with the raw body preserved.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, contentType string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "api."+op,
		trace.WithAttributes(attribute.String("chatsync.op", op)))
	defer span.End()

	if err := c.ensureCSRF(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, contentType)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordAPIRequest(op, "transport_error", duration)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	metrics.RecordAPIRequest(op, status, duration)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := readResponse(resp)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		span.SetStatus(codes.Error, "not found")
		return nil, &NotFoundError{Resource: "conversation"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, status)
		c.logger.Warn("request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &RequestError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// doRead wraps do with the capped exponential backoff policy for reads.
// 404 and other 4xx classifications are permanent; transport failures and 5xx
// are retried up to the configured attempt count.
func (c *Client) doRead(ctx context.Context, op, path string) ([]byte, error) {
	var body []byte

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.MaxInterval = c.backoffMax

	err := backoff.Retry(func() error {
		b, err := c.do(ctx, op, http.MethodGet, path, nil, "")
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("retrying read", zap.String("op", op), zap.Error(err))
			return err
		}
		body = b
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// readResponse reads a body with the size limit applied.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) == maxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", int64(maxResponseSize))
	}
	return body, nil
}
