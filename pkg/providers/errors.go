package providers

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FailoverReason classifies why a provider call failed, so the fallback
// chain and the reply loop's user-facing error strings can react
// differently to an expired token than to a rate limit.
type FailoverReason string

const (
	FailoverAuth          FailoverReason = "auth"
	FailoverRateLimit     FailoverReason = "rate_limit"
	FailoverBilling       FailoverReason = "billing"
	FailoverTimeout       FailoverReason = "timeout"
	FailoverOverloaded    FailoverReason = "overloaded"
	FailoverFormat        FailoverReason = "format"
	FailoverContextLength FailoverReason = "context_length"
	FailoverModelInvalid  FailoverReason = "model_invalid"
	FailoverUnknown       FailoverReason = "unknown"
)

// FailoverError wraps a provider call failure with its classified reason.
type FailoverError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Wrapped  error
}

func (e *FailoverError) Error() string {
	if e.Wrapped != nil {
		return e.Wrapped.Error()
	}
	return string(e.Reason)
}

func (e *FailoverError) Unwrap() error { return e.Wrapped }

// IsRetriable reports whether the fallback chain should try the next
// candidate. Format (malformed request/tool-call shape) and context-length
// errors are not: the same failure would recur against any model given the
// same oversized/malformed input. A bad model name, on the other hand, is
// exactly the case fallback exists for.
func (e *FailoverError) IsRetriable() bool {
	switch e.Reason {
	case FailoverContextLength, FailoverFormat:
		return false
	default:
		return true
	}
}

// IsModelInvalid reports whether the provider rejected the request because
// the requested model name doesn't exist or isn't available to the caller.
func (e *FailoverError) IsModelInvalid() bool {
	return e.Reason == FailoverModelInvalid
}

// ClassifyError pattern-matches an error's message against the substrings
// providers commonly use for these conditions. It is deliberately
// string-based rather than tied to one vendor's error type, since the
// fallback chain runs across heterogeneous LLMProvider implementations.
func ClassifyError(err error, provider, model string) *FailoverError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FailoverError{Reason: FailoverTimeout, Provider: provider, Model: model, Wrapped: err}
	}

	msg := strings.ToLower(err.Error())
	status := extractHTTPStatus(msg)

	reason, ok := classifyMessage(msg)
	if !ok {
		if mapped, known := statusReason(status); known {
			reason, ok = mapped, true
		}
	}
	if !ok {
		return nil
	}
	return &FailoverError{Reason: reason, Provider: provider, Model: model, Status: status, Wrapped: err}
}

// classifyMessage matches text patterns first: a model-invalid or format
// message takes precedence over whatever HTTP status code happens to be
// embedded in the same error (e.g. a 400 that actually names a bad model).
func classifyMessage(msg string) (FailoverReason, bool) {
	switch {
	case containsAny(msg,
		"is not a valid model id", "model not found", "model_not_found",
		"model not available", "model does not exist", "no such model",
		"invalid model specified", "is not supported", "is unavailable", "is deprecated"):
		return FailoverModelInvalid, true
	case containsAny(msg, "tool_use.id is required", "invalid tool_use_id", "tool_use.id must be valid",
		"string should match pattern", "invalid request format"):
		return FailoverFormat, true
	case IsImageDimensionError(msg) || IsImageSizeError(msg):
		return FailoverFormat, true
	case containsAny(msg, "context_length", "context length", "maximum context", "too many tokens"):
		return FailoverContextLength, true
	case containsAny(msg,
		"rate limit", "rate_limit", "too many requests", "exceeded your current quota",
		"resource has been exhausted", "resource_exhausted", "quota exceeded", "usage limit reached"):
		return FailoverRateLimit, true
	case containsAny(msg, "overloaded"):
		return FailoverRateLimit, true
	case containsAny(msg,
		"payment required", "insufficient credits", "credit balance too low",
		"plans & billing page", "insufficient balance", "billing"):
		return FailoverBilling, true
	case containsAny(msg, "request timeout", "connection timed out", "deadline exceeded", "timed out", "timeout"):
		return FailoverTimeout, true
	case containsAny(msg,
		"invalid api key", "invalid_api_key", "incorrect api key", "invalid token",
		"authentication failed", "re-authenticate", "oauth token refresh failed",
		"unauthorized access", "unauthorized", "forbidden", "access denied",
		"expired", "no credentials found", "no api key found"):
		return FailoverAuth, true
	default:
		return FailoverUnknown, false
	}
}

// statusReason maps a bare HTTP status code to a reason when the message
// text itself didn't match anything more specific.
func statusReason(status int) (FailoverReason, bool) {
	switch status {
	case 401, 403:
		return FailoverAuth, true
	case 402:
		return FailoverBilling, true
	case 408:
		return FailoverTimeout, true
	case 429:
		return FailoverRateLimit, true
	case 400:
		return FailoverModelInvalid, true
	case 500, 502, 503, 521, 522, 523, 524, 529:
		return FailoverTimeout, true
	default:
		return "", false
	}
}

var (
	statusPrefixPattern = regexp.MustCompile(`status:?\s*(\d{3})`)
	httpStatusPattern   = regexp.MustCompile(`http/\d(?:\.\d)?\s+(\d{3})`)
)

// extractHTTPStatus pulls a 3-digit HTTP status code out of a lowercased
// error message, recognizing "status: 429" / "status 401" and
// "HTTP/1.1 502" shapes. Returns 0 if none is found.
func extractHTTPStatus(msg string) int {
	if m := statusPrefixPattern.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	if m := httpStatusPattern.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// IsImageDimensionError reports whether msg describes an image rejected for
// its width/height (as opposed to byte size).
func IsImageDimensionError(msg string) bool {
	return containsAny(msg, "image dimension", "dimensions too large") ||
		(containsAny(msg, "width", "height") && containsAny(msg, "invalid", "exceed", "too large", "unsupported"))
}

// IsImageSizeError reports whether msg describes an image rejected for its
// byte size.
func IsImageSizeError(msg string) bool {
	if containsAny(msg, "image size", "file size", "payload too large", "413") {
		return true
	}
	return strings.Contains(msg, "image") && strings.Contains(msg, "mb")
}

func containsAny(msg string, substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// cooldownEntry tracks one candidate's failure streak and current
// back-off window.
type cooldownEntry struct {
	failures int
	until    time.Time
}

// CooldownTracker records recent failures per provider/model key and backs
// candidates off with exponential delay (capped) so the fallback chain
// stops hammering a provider that just rate-limited or rejected a request.
type CooldownTracker struct {
	mu      sync.Mutex
	entries map[string]*cooldownEntry
}

// NewCooldownTracker returns an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{entries: make(map[string]*cooldownEntry)}
}

const (
	cooldownBase = 2 * time.Second
	cooldownMax  = 5 * time.Minute
)

// IsAvailable reports whether key is past its cooldown window (or has never
// failed).
func (t *CooldownTracker) IsAvailable(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return true
	}
	return !time.Now().Before(e.until)
}

// CooldownRemaining returns how long key must still wait, or zero if
// available now.
func (t *CooldownTracker) CooldownRemaining(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return 0
	}
	remaining := time.Until(e.until)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarkSuccess clears key's failure streak.
func (t *CooldownTracker) MarkSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// MarkFailure records a failure for key and extends its cooldown window
// exponentially, capped at cooldownMax. Non-retriable reasons still get a
// cooldown so a rapid retry loop elsewhere doesn't immediately re-select
// the same broken candidate.
func (t *CooldownTracker) MarkFailure(key string, reason FailoverReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &cooldownEntry{}
		t.entries[key] = e
	}
	e.failures++
	backoff := cooldownBase * time.Duration(1<<uint(min(e.failures-1, 10)))
	if backoff > cooldownMax {
		backoff = cooldownMax
	}
	e.until = time.Now().Add(backoff)
}
