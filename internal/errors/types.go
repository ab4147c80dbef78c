package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Code classifies a tool or oracle failure.
type Code string

const (
	// CodeToolError - generic tool failure, retry-able
	CodeToolError Code = "TOOL_ERROR"
	// CodeValidation - arguments or output rejected, permanent
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeAuthRequired - credentials missing or expired, retry-able
	CodeAuthRequired Code = "AUTH_REQUIRED"
	// CodeRateLimited - upstream throttling, retry-able
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeNotFound - target does not exist, permanent
	CodeNotFound Code = "NOT_FOUND"
	// CodeTimeout - call exceeded its deadline, retry-able
	CodeTimeout Code = "TIMEOUT"
	// CodeConflict - state conflict, permanent
	CodeConflict Code = "CONFLICT"
)

// Retryable reports whether failures with this code should be retried.
func (c Code) Retryable() bool {
	switch c {
	case CodeToolError, CodeAuthRequired, CodeRateLimited, CodeTimeout:
		return true
	}
	return false
}

func (c Code) String() string {
	return string(c)
}

// ToolError is the failure payload carried by tool results and returned by
// tool handlers. It is the only error kind the retry policy treats as
// retry-able.
type ToolError struct {
	Code       Code          `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"` // Server-suggested minimum wait
	Err        error         `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error's code is retry-able.
func (e *ToolError) Retryable() bool {
	return e != nil && e.Code.Retryable()
}

// New creates a ToolError with a formatted message.
func New(code Code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(code Code, err error, message string) *ToolError {
	if err == nil {
		return nil
	}
	if message == "" {
		message = err.Error()
	}
	return &ToolError{Code: code, Message: message, Err: err}
}

// Timeout creates a TIMEOUT error for a call that ran past its deadline.
func Timeout(what string, after time.Duration) *ToolError {
	return &ToolError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s timed out after %v", what, after),
		Err:     context.DeadlineExceeded,
	}
}

// StatusError is returned by HTTP adapters for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, body)
}

// IsRetryable reports whether err is a ToolError with a retry-able code.
func IsRetryable(err error) bool {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Retryable()
	}
	return false
}

// AsToolError returns the ToolError in err's chain, if any.
func AsToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, classifying untyped errors.
func CodeOf(err error) Code {
	if toolErr, ok := AsToolError(err); ok {
		return toolErr.Code
	}
	return Classify(err)
}

// FromError converts any error into a ToolError, classifying it when it
// does not already carry a code.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	if toolErr, ok := AsToolError(err); ok {
		return toolErr
	}
	toolErr := Wrap(Classify(err), err, "")
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		toolErr.RetryAfter = statusErr.RetryAfter
	}
	return toolErr
}

// Classify maps an untyped error onto the taxonomy.
func Classify(err error) Code {
	if err == nil {
		return CodeToolError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, fs.ErrNotExist) {
		return CodeNotFound
	}
	if errors.Is(err, fs.ErrExist) {
		return CodeConflict
	}
	if errors.Is(err, fs.ErrPermission) {
		return CodeAuthRequired
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return codeForHTTPStatus(statusErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) && syscallErr == syscall.ETIMEDOUT {
		return CodeTimeout
	}

	if status := extractHTTPStatusCode(err); status > 0 {
		return codeForHTTPStatus(status)
	}

	lowerErr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErr, "rate limit"):
		return CodeRateLimited
	case strings.Contains(lowerErr, "timeout"), strings.Contains(lowerErr, "deadline exceeded"):
		return CodeTimeout
	case strings.Contains(lowerErr, "unauthorized"), strings.Contains(lowerErr, "forbidden"):
		return CodeAuthRequired
	case strings.Contains(lowerErr, "not found"), strings.Contains(lowerErr, "no such file"):
		return CodeNotFound
	case strings.Contains(lowerErr, "invalid"):
		return CodeValidation
	}

	return CodeToolError
}

func codeForHTTPStatus(status int) Code {
	switch status {
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeAuthRequired
	case http.StatusNotFound, http.StatusGone:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CodeTimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusMethodNotAllowed:
		return CodeValidation
	}
	return CodeToolError
}

var statusPattern = regexp.MustCompile(`(?i)(?:status|http|error)\s*:?\s*([1-5]\d\d)\b`)

// extractHTTPStatusCode finds a status code in messages like
// "API error 429: ..." or "HTTP 500".
func extractHTTPStatusCode(err error) int {
	match := statusPattern.FindStringSubmatch(err.Error())
	if len(match) < 2 {
		return 0
	}
	code, convErr := strconv.Atoi(match[1])
	if convErr != nil {
		return 0
	}
	return code
}

// ParseRetryAfter parses a Retry-After header (delta seconds or HTTP date).
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

// FormatForLLM converts an error into a short actionable message for the
// oracle's working memory.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}

	switch CodeOf(err) {
	case CodeRateLimited:
		return fmt.Sprintf("Rate limited (%v). Slow down or pick another approach.", err)
	case CodeTimeout:
		return fmt.Sprintf("Timed out (%v). Try a smaller step.", err)
	case CodeAuthRequired:
		return fmt.Sprintf("Authentication required (%v). This tool cannot be used without credentials.", err)
	case CodeNotFound:
		return fmt.Sprintf("Not found (%v). Verify the path or identifier.", err)
	case CodeValidation:
		return fmt.Sprintf("Invalid request (%v). Check the arguments against the tool schema.", err)
	case CodeConflict:
		return fmt.Sprintf("Conflict (%v). Re-read current state before retrying.", err)
	}
	return err.Error()
}
