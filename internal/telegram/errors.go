package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrConflict is returned by GetUpdates when another process polls with the
// same token.
var ErrConflict = errors.New("telegram: conflict with another getUpdates consumer")

// ErrFloodControl matches a RetryAfterError raised after the client spent its
// own flood retries. Callers treat it as fatal for the process.
var ErrFloodControl = errors.New("telegram flood control exceeded")

type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "telegram request failed"
	}
	prefix := "telegram"
	if e.Method != "" {
		prefix = "telegram " + e.Method
	}
	desc := strings.TrimSpace(e.Description)
	if desc != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("%s: http %d: %s", prefix, e.StatusCode, desc)
		}
		return prefix + ": " + desc
	}
	body := strings.TrimSpace(e.Body)
	if e.StatusCode > 0 {
		if body != "" {
			return fmt.Sprintf("%s: http %d: %s", prefix, e.StatusCode, body)
		}
		return fmt.Sprintf("%s: http %d", prefix, e.StatusCode)
	}
	if body != "" {
		return prefix + ": " + body
	}
	return prefix + ": request failed"
}

// RetryAfterError reports a 429 answer. Loop is set when the client already
// spent its own flood retries on the call and Telegram still refused it.
type RetryAfterError struct {
	Method     string
	RetryAfter time.Duration
	Loop       bool
}

func (e *RetryAfterError) Error() string {
	if e.Loop {
		return fmt.Sprintf("telegram %s: flood control exceeded in retry loop, retry after %s", e.Method, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: flood control exceeded, retry after %s", e.Method, e.RetryAfter)
}

// Is reports a retry-loop failure as ErrFloodControl.
func (e *RetryAfterError) Is(target error) bool {
	return e.Loop && target == ErrFloodControl
}

func IsNotModified(err error) bool {
	return descriptionContains(err, "message is not modified")
}

func IsParseError(err error) bool {
	return descriptionContains(err, "can't parse entities") || descriptionContains(err, "can't parse entity")
}

func descriptionContains(err error, needle string) bool {
	if err == nil {
		return false
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if strings.Contains(strings.ToLower(reqErr.Description), needle) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), needle)
}

// IsPollTimeout reports whether err is just an expired long poll.
func IsPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}
