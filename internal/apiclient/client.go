// Package apiclient is the HTTP implementation of core.RunsAPI.
//
// Requests are JSON over HTTP. Network errors, 429 and 5xx responses are
// retried with exponential backoff; every other failure is returned at once.
// Each call runs inside one trace span.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leapstack-labs/runboard/pkg/core"
)

const tracerName = "github.com/leapstack-labs/runboard/internal/apiclient"

// Retry defaults.
const (
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = 1 * time.Second
	DefaultMaxElapsed      = 10 * time.Second
	DefaultTimeout         = 30 * time.Second
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 1 << 16

// RetryConfig bounds the exponential backoff between attempts.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retry   RetryConfig

	HTTPClient *http.Client
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Client talks to the evaluation backend.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	newBackoff func() backoff.BackOff
	tracer     trace.Tracer
	logger     *slog.Logger
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is maps 404 responses to core.ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == core.ErrNotFound && e.StatusCode == http.StatusNotFound
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// New returns a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("parse base URL: unsupported scheme %q", base.Scheme)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	r := cfg.Retry
	if r.InitialInterval <= 0 {
		r.InitialInterval = DefaultInitialInterval
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = DefaultMaxInterval
	}
	if r.MaxElapsed <= 0 {
		r.MaxElapsed = DefaultMaxElapsed
	}

	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: cfg.HTTPClient,
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(r.InitialInterval),
				backoff.WithMaxInterval(r.MaxInterval),
				backoff.WithMaxElapsedTime(r.MaxElapsed),
			)
		},
		tracer: cfg.Tracer,
		logger: cfg.Logger,
	}, nil
}

// call describes one request.
type call struct {
	method string
	// route is the path template used as span name, e.g. /evaluations/runs/{id}.
	route string
	path  string
	query url.Values
	body  any
	out   any
}

// do performs c with retries and returns the final status code. A 204
// response leaves out untouched.
func (cl *Client) do(ctx context.Context, c call) (int, error) {
	ctx, span := cl.tracer.Start(ctx, c.method+" "+c.route, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", c.method),
			attribute.String("url.path", c.path),
		))
	defer span.End()

	var payload []byte
	if c.body != nil {
		var err error
		if payload, err = json.Marshal(c.body); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encode request")
			return 0, fmt.Errorf("encode %s request: %w", c.route, err)
		}
	}

	u := cl.baseURL.JoinPath(c.path)
	if len(c.query) > 0 {
		u.RawQuery = c.query.Encode()
	}

	attempts := 0
	attempt := func() (int, error) {
		attempts++
		req, err := http.NewRequestWithContext(ctx, c.method, u.String(), bytes.NewReader(payload))
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if cl.token != "" {
			req.Header.Set("Authorization", "Bearer "+cl.token)
		}

		resp, err := cl.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, backoff.Permanent(ctx.Err())
			}
			cl.logger.Debug("retrying request after network error",
				slog.String("route", c.route),
				slog.String("error", err.Error()))
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			serr := &StatusError{Method: c.method, Path: c.path, StatusCode: resp.StatusCode, Body: string(body)}
			if retryable(resp.StatusCode) {
				cl.logger.Debug("retrying request after server error",
					slog.String("route", c.route),
					slog.Int("status", resp.StatusCode))
				return resp.StatusCode, serr
			}
			return resp.StatusCode, backoff.Permanent(serr)
		}

		if c.out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(c.out); err != nil && !errors.Is(err, io.EOF) {
				return resp.StatusCode, backoff.Permanent(fmt.Errorf("decode %s response: %w", c.route, err))
			}
		}
		return resp.StatusCode, nil
	}

	status, err := backoff.RetryWithData(attempt, backoff.WithContext(cl.newBackoff(), ctx))
	span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.Int("runboard.attempts", attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return status, err
	}
	return status, nil
}
