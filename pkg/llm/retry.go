package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// RetryPolicy retries calls that failed with one of StatusCodes, waiting
// InitialDelay * ExpBase^(n-1) before the n-th retry, capped at MaxDelay.
// Attempts counts every call including the first one.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	ExpBase      float64
	MaxDelay     time.Duration
	StatusCodes  []int

	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     5,
		InitialDelay: time.Second,
		ExpBase:      7,
		MaxDelay:     60 * time.Second,
		StatusCodes:  []int{429, 500, 503, 504},
	}
}

// StatusError is an error that carries the HTTP status of a failed request.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	base := p.ExpBase
	if base < 1 {
		base = 1
	}
	d := float64(p.InitialDelay) * math.Pow(base, float64(retry-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Retryable reports whether err maps to one of the policy's status codes.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	code := StatusFromError(err)
	if code == 0 {
		return false
	}
	for _, c := range p.StatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, p.Delay(attempt-1)); serr != nil {
				return fmt.Errorf("retry interrupted after %d attempts: %w", attempt-1, err)
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	reStatusPrefixed = regexp.MustCompile(`(?i)\b(?:error|status(?: code)?|http|code)[:= ]+(\d{3})\b`)
	reStatusText     = regexp.MustCompile(`\b(\d{3}) (?:Too Many Requests|Internal Server Error|Service Unavailable|Gateway Timeout|Bad Gateway)`)
	grpcStatusCodes  = map[string]int{
		"ResourceExhausted":  429,
		"RESOURCE_EXHAUSTED": 429,
		"Internal":           500,
		"INTERNAL":           500,
		"Unavailable":        503,
		"UNAVAILABLE":        503,
		"DeadlineExceeded":   504,
		"DEADLINE_EXCEEDED":  504,
	}
	reGRPCCode = regexp.MustCompile(`code = (\w+)|"status":\s*"(\w+)"`)
)

// StatusFromError extracts an HTTP status from err. Provider SDKs surface
// status codes in different shapes, so typed errors are checked first and
// the message text second. It returns 0 when no status can be found.
func StatusFromError(err error) int {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}

	msg := err.Error()
	if m := reStatusPrefixed.FindStringSubmatch(msg); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil && code >= 100 && code <= 599 {
			return code
		}
	}
	if m := reStatusText.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	if m := reGRPCCode.FindStringSubmatch(msg); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if code, ok := grpcStatusCodes[name]; ok {
			return code
		}
	}
	return 0
}
