package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrRateLimited is the cause of a TerminalFailure whose retries ran out.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExhausted is reported for a 429 that signals a billing quota
	// rather than throttling. Waiting does not help, so it is not retried.
	ErrQuotaExhausted = errors.New("insufficient quota")
	// ErrUnexpectedStatus is the cause of a TerminalFailure for any non-2xx
	// status other than throttling.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrMalformedResponse is returned when a response body cannot be decoded
	// into the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// FailureReason classifies how a request ended without success.
type FailureReason string

const (
	// FailureExhausted means every attempt was throttled.
	FailureExhausted FailureReason = "exhausted"
	// FailureNonRetryable means the first non-throttle error ended the request.
	FailureNonRetryable FailureReason = "non_retryable"
	// FailureCanceled means the caller's context ended while sending or waiting.
	FailureCanceled FailureReason = "canceled"
)

const maxExcerpt = 200

// TerminalFailure is returned by Transport.Send when a request will not be
// retried any further.
type TerminalFailure struct {
	Reason      FailureReason
	StatusCode  int
	BodyExcerpt string
	Attempts    int
	Err         error
}

func (f *TerminalFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s after %d attempt(s)", f.Reason, f.Attempts)
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", f.StatusCode)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	if f.BodyExcerpt != "" {
		fmt.Fprintf(&b, ": %s", f.BodyExcerpt)
	}
	return b.String()
}

func (f *TerminalFailure) Unwrap() error {
	return f.Err
}

// RetryPolicy bounds the retry loop for throttled requests.
type RetryPolicy struct {
	// MaxAttempts is the total number of sends, including the first one.
	MaxAttempts int
	// BaseDelay is the wait before the first retry; each later retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps computed delays. Server hints are never capped.
	MaxDelay time.Duration
}

// DefaultRetryPolicy sends up to six times with waits of 1s, 2s, 4s, 8s, 16s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 6,
	BaseDelay:   time.Second,
	MaxDelay:    45 * time.Second,
}

// Delay returns the computed backoff before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFunc builds a fresh request for each attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		t.client = client
	}
}

// WithSleep replaces the wait between retries. Tests use it to simulate time.
func WithSleep(sleep SleepFunc) TransportOption {
	return func(t *Transport) {
		t.sleep = sleep
	}
}

// Transport sends a single logical request, retrying only when the server
// throttles. Every in-flight request keeps its own retry state, so a wait
// suspends only the goroutine that owns it.
type Transport struct {
	client *http.Client
	policy RetryPolicy
	sleep  SleepFunc
	logger *logrus.Logger
}

// NewTransport creates a Transport. A zero MaxAttempts selects DefaultRetryPolicy.
func NewTransport(policy RetryPolicy, logger *logrus.Logger, options ...TransportOption) *Transport {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	if logger == nil {
		logger = logrus.New()
	}

	t := &Transport{
		client: http.DefaultClient,
		policy: policy,
		sleep:  sleepContext,
		logger: logger,
	}

	for _, option := range options {
		option(t)
	}

	return t
}

// Policy returns the retry policy in use.
func (t *Transport) Policy() RetryPolicy {
	return t.policy
}

// retryState is scoped to one Send call.
type retryState struct {
	attempt   int
	lastErr   error
	nextDelay time.Duration
}

// Send performs the request built by newRequest. It returns the response for
// any 2xx status. Throttled responses (429) are retried after the server's
// Retry-After hint, or after the policy's exponential delay when no hint is
// present. Anything else ends the request with a *TerminalFailure.
func (t *Transport) Send(ctx context.Context, provider string, newRequest RequestFunc) (*Response, error) {
	metrics := NewMetricsCollector(provider)
	state := retryState{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, t.fail(metrics, &TerminalFailure{Reason: FailureCanceled, Attempts: state.attempt, Err: err})
		}

		req, err := newRequest(ctx)
		if err != nil {
			return nil, t.fail(metrics, &TerminalFailure{Reason: FailureNonRetryable, Attempts: state.attempt, Err: fmt.Errorf("create request: %w", err)})
		}

		state.attempt++
		startTime := time.Now()

		resp, err := t.client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, t.fail(metrics, &TerminalFailure{Reason: FailureCanceled, Attempts: state.attempt, Err: ctxErr})
			}
			return nil, t.fail(metrics, &TerminalFailure{Reason: FailureNonRetryable, Attempts: state.attempt, Err: fmt.Errorf("request failed: %w", err)})
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, t.fail(metrics, &TerminalFailure{Reason: FailureNonRetryable, StatusCode: resp.StatusCode, Attempts: state.attempt, Err: fmt.Errorf("read response: %w", err)})
		}

		t.logger.WithFields(logrus.Fields{
			"provider":    provider,
			"attempt":     state.attempt,
			"status_code": resp.StatusCode,
			"duration_ms": time.Since(startTime).Milliseconds(),
		}).Debug("Provider request completed")

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil

		case resp.StatusCode == http.StatusTooManyRequests && bytes.Contains(body, []byte("insufficient_quota")):
			return nil, t.fail(metrics, &TerminalFailure{
				Reason:      FailureNonRetryable,
				StatusCode:  resp.StatusCode,
				BodyExcerpt: excerpt(body),
				Attempts:    state.attempt,
				Err:         ErrQuotaExhausted,
			})

		case resp.StatusCode == http.StatusTooManyRequests:
			state.lastErr = ErrRateLimited

			if state.attempt >= t.policy.MaxAttempts {
				return nil, t.fail(metrics, &TerminalFailure{
					Reason:      FailureExhausted,
					StatusCode:  resp.StatusCode,
					BodyExcerpt: excerpt(body),
					Attempts:    state.attempt,
					Err:         state.lastErr,
				})
			}

			if hint, ok := retryHint(resp.Header, body); ok {
				state.nextDelay = hint
			} else {
				state.nextDelay = t.policy.Delay(state.attempt - 1)
			}

			t.logger.WithFields(logrus.Fields{
				"provider": provider,
				"attempt":  state.attempt,
				"max":      t.policy.MaxAttempts,
				"wait":     state.nextDelay.String(),
			}).Warn("Provider rate limited, backing off")
			metrics.RecordRetry()

			if err := t.sleep(ctx, state.nextDelay); err != nil {
				return nil, t.fail(metrics, &TerminalFailure{Reason: FailureCanceled, StatusCode: resp.StatusCode, Attempts: state.attempt, Err: err})
			}

		default:
			return nil, t.fail(metrics, &TerminalFailure{
				Reason:      FailureNonRetryable,
				StatusCode:  resp.StatusCode,
				BodyExcerpt: excerpt(body),
				Attempts:    state.attempt,
				Err:         ErrUnexpectedStatus,
			})
		}
	}
}

func (t *Transport) fail(metrics *MetricsCollector, f *TerminalFailure) error {
	metrics.RecordTerminalFailure(f.Reason)

	entry := t.logger.WithFields(logrus.Fields{
		"reason":      f.Reason,
		"attempts":    f.Attempts,
		"status_code": f.StatusCode,
	})
	if f.Reason == FailureCanceled {
		entry.Debug("Provider request canceled")
	} else {
		entry.WithError(f.Err).Error("Provider request failed")
	}

	return f
}

// PostJSON encodes in as the request body, sends it through Send, and decodes
// a successful response into out. Decode failures wrap ErrMalformedResponse.
func (t *Transport) PostJSON(ctx context.Context, provider, url string, header http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return t.doJSON(ctx, http.MethodPost, provider, url, header, payload, out)
}

// GetJSON is the GET counterpart of PostJSON.
func (t *Transport) GetJSON(ctx context.Context, provider, url string, header http.Header, out any) error {
	return t.doJSON(ctx, http.MethodGet, provider, url, header, nil, out)
}

// doJSON sends payload (if any) as a JSON body and decodes the response into
// out. A nil out discards the response body.
func (t *Transport) doJSON(ctx context.Context, method, provider, url string, header http.Header, payload []byte, out any) error {
	resp, err := t.Send(ctx, provider, func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		for key, values := range header {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrMalformedResponse, err, excerpt(resp.Body))
	}

	return nil
}

// retryHint reads the server's wait hint in seconds, from the Retry-After
// header or a top-level "retry_after" body field.
func retryHint(header http.Header, body []byte) (time.Duration, bool) {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
		if at, err := http.ParseTime(v); err == nil {
			return max(time.Until(at), 0), true
		}
	}

	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.RetryAfter != nil && *payload.RetryAfter >= 0 {
		return time.Duration(*payload.RetryAfter * float64(time.Second)), true
	}

	return 0, false
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxExcerpt {
		s = strings.ToValidUTF8(s[:maxExcerpt], "") + "..."
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
