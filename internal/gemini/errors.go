package gemini

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"google.golang.org/genai"
)

// AnswerError is returned by Ask. StatusCode is the HTTP status reported by
// the API, or 0 when none could be determined.
type AnswerError struct {
	StatusCode int
	Err        error
}

func (e *AnswerError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gemini answer failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gemini answer failed: %v", e.Err)
}

func (e *AnswerError) Unwrap() error { return e.Err }

var leadingCodeRe = regexp.MustCompile(`^\s*(?:Error\s+)?(\d{3})\b`)

func newAnswerError(err error) *AnswerError {
	return &AnswerError{StatusCode: statusCode(err), Err: err}
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code > 0 {
		return apiErrPtr.Code
	}
	m := leadingCodeRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}
