// Package httpretry executes outbound HTTP calls with automatic retries,
// exponential backoff with jitter and a policy of retryable status codes.
//
// Transport failures and retryable responses are treated differently once
// attempts run out: a transport failure is returned as a *TransportError,
// while the last retryable response is returned as a normal response so the
// caller can tell "could not reach" from "reached but rejected".
package httpretry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetries   = 3
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxJitter = 100 * time.Millisecond
	defaultTimeout   = 30 * time.Second
	maxBodyBytes     = 1 << 20
)

// Policy controls retries for a single call
type Policy struct {
	// Retries is the number of retries after the first attempt
	Retries int
	// BaseDelay is doubled for every retry
	BaseDelay time.Duration
	// MaxJitter bounds the random delay added to each backoff
	MaxJitter time.Duration
	// RetryableStatus lists response codes that are retried
	RetryableStatus []int
	// AttemptTimeout bounds each attempt when the request sets no Timeout
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 retries, 500ms base delay, up to 100ms jitter and
// retries on 408, 409, 425, 429, 500, 502, 503 and 504.
func DefaultPolicy() Policy {
	return Policy{
		Retries:   defaultRetries,
		BaseDelay: defaultBaseDelay,
		MaxJitter: defaultMaxJitter,
		RetryableStatus: []int{
			http.StatusRequestTimeout,
			http.StatusConflict,
			http.StatusTooEarly,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func (p Policy) retryable(code int) bool {
	for _, c := range p.RetryableStatus {
		if c == code {
			return true
		}
	}
	return false
}

// WithRetries overrides the retry count of a call
func WithRetries(n int) func(*Policy) {
	return func(p *Policy) { p.Retries = n }
}

// WithBaseDelay overrides the base backoff of a call
func WithBaseDelay(d time.Duration) func(*Policy) {
	return func(p *Policy) { p.BaseDelay = d }
}

// WithAttemptTimeout bounds each attempt of a call
func WithAttemptTimeout(d time.Duration) func(*Policy) {
	return func(p *Policy) { p.AttemptTimeout = d }
}

// WithRetryableStatus replaces the retryable status codes of a call
func WithRetryableStatus(codes ...int) func(*Policy) {
	return func(p *Policy) { p.RetryableStatus = codes }
}

// Request describes one outbound call. Timeout bounds each attempt separately.
type Request struct {
	Method  string
	URL     string
	Header  map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TransportError is returned when the final attempt never got a response
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrInvalidRequest is returned when a request can't be built; it is never retried
var ErrInvalidRequest = errors.New("invalid request")

// Doer sends an HTTP request; *http.Client satisfies it
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client runs requests under a retry policy
type Client struct {
	doer     Doer
	policy   Policy
	newTimer func() backoff.Timer
	jitter   func(max time.Duration) time.Duration
	logger   *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithDoer sets the underlying transport
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithPolicy sets the default policy of the client
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the client logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimer sets the timer factory used to wait between attempts
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.newTimer = newTimer }
}

// WithJitter replaces the jitter source
func WithJitter(jitter func(max time.Duration) time.Duration) Option {
	return func(c *Client) { c.jitter = jitter }
}

// NewClient creates a Client with DefaultPolicy and a 30s http.Client
func NewClient(opts ...Option) *Client {
	c := &Client{
		doer:   &http.Client{Timeout: defaultTimeout},
		policy: DefaultPolicy(),
		jitter: func(max time.Duration) time.Duration { return rand.N(max) },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("module", "httpretry")
	return c
}

// statusError marks a retryable response inside the retry loop
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.code)
}

// Call executes req, retrying transport failures and retryable statuses.
// Backoff before retry n (starting at 0) is BaseDelay*2^n plus jitter.
func (c *Client) Call(ctx context.Context, req Request, optFns ...func(*Policy)) (*Response, error) {
	policy := c.policy
	for _, fn := range optFns {
		fn(&policy)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Timeout <= 0 {
		req.Timeout = policy.AttemptTimeout
	}
	if _, err := c.build(ctx, req); err != nil {
		return nil, err
	}

	var (
		last     *Response
		attempts int
	)
	operation := func() error {
		attempts++
		last = nil
		resp, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		last = resp
		if policy.retryable(resp.StatusCode) {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	}

	var schedule backoff.BackOff = &backoff.StopBackOff{}
	if policy.Retries > 0 {
		schedule = backoff.WithMaxRetries(&exponentialJitter{
			base:      policy.BaseDelay,
			maxJitter: policy.MaxJitter,
			jitter:    c.jitter,
		}, uint64(policy.Retries))
	}

	notify := func(err error, delay time.Duration) {
		c.logger.DebugContext(ctx, "retrying request",
			"method", req.Method, "url", req.URL, "attempt", attempts, "delay", delay, "error", err)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(schedule, ctx), notify, timer)
	if err == nil {
		return last, nil
	}

	var se *statusError
	if errors.As(err, &se) {
		c.logger.WarnContext(ctx, "retries exhausted with retryable status",
			"method", req.Method, "url", req.URL, "attempts", attempts, "status", se.code)
		return last, nil
	}
	if last != nil {
		// the context ended while waiting to retry a retryable status
		c.logger.WarnContext(ctx, "retries abandoned with retryable status",
			"method", req.Method, "url", req.URL, "attempts", attempts, "status", last.StatusCode, "error", err)
		return last, nil
	}
	return nil, &TransportError{URL: req.URL, Attempts: attempts, Err: err}
}

// PostJSON posts body as JSON. headers are applied over Content-Type.
func (c *Client) PostJSON(ctx context.Context, url string, body any, headers map[string]string, optFns ...func(*Policy)) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode body: %v", ErrInvalidRequest, err)
	}
	merged := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		merged[k] = v
	}
	return c.Call(ctx, Request{
		Method: http.MethodPost,
		URL:    url,
		Header: merged,
		Body:   data,
	}, optFns...)
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// exponentialJitter yields base*2^n + jitter for the n-th retry
type exponentialJitter struct {
	base      time.Duration
	maxJitter time.Duration
	jitter    func(max time.Duration) time.Duration
	n         int
}

func (b *exponentialJitter) NextBackOff() time.Duration {
	shift := b.n
	if shift > 30 {
		shift = 30
	}
	d := b.base * time.Duration(1<<shift)
	if b.maxJitter > 0 && b.jitter != nil {
		d += b.jitter(b.maxJitter)
	}
	b.n++
	return d
}

func (b *exponentialJitter) Reset() {
	b.n = 0
}
