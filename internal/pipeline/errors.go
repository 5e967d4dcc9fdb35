package pipeline

import "fmt"

// ErrorCode classifies a pipeline failure. Codes decide retry behavior and map
// to the user-facing message; internal detail never crosses that boundary.
type ErrorCode string

const (
	CodeUnsupportedReference ErrorCode = "unsupported_reference"
	CodePrivateOrMissing     ErrorCode = "private_or_missing"
	CodeTransientProvider    ErrorCode = "transient_provider_error"
	CodeTimeout              ErrorCode = "timeout"
	CodeRateLimited          ErrorCode = "rate_limited"
	CodePublishFailed        ErrorCode = "publish_failed"
	CodeShortRound           ErrorCode = "short_round"
	CodeInternal             ErrorCode = "internal_error"
)

var userMessages = map[ErrorCode]string{
	CodeUnsupportedReference: "I can't work with that link. Try an Instagram or Pinterest post instead.",
	CodePrivateOrMissing:     "That post seems to be private or deleted. Can you try another one?",
	CodeTransientProvider:    "The generator hiccuped. Trying a different approach...",
	CodeTimeout:              "Generation is taking longer than usual. Please retry in a bit.",
	CodeRateLimited:          "We're being rate limited right now. I'll retry this shortly.",
	CodePublishFailed:        "Posting failed. Your post is saved; reply 'post now' to retry.",
	CodeShortRound:           "I produced fewer options than planned this round.",
	CodeInternal:             "Something unexpected happened. Please retry.",
}

// Error is a classified pipeline failure. Err carries the internal cause for
// logs; UserMessage is the only text allowed to reach the approval transport.
type Error struct {
	Code        ErrorCode
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the executor may attempt the stage once more with
// a fallback request. Terminal classifications and timeouts are not retried.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeTransientProvider, CodeShortRound:
		return true
	default:
		return false
	}
}

// NewError wraps err under a taxonomy code with its canonical user message.
func NewError(code ErrorCode, err error) *Error {
	msg, ok := userMessages[code]
	if !ok {
		msg = userMessages[CodeInternal]
	}
	return &Error{Code: code, UserMessage: msg, Err: err}
}

// classifyFailure coerces an arbitrary error into a pipeline Error, defaulting
// to a retryable provider failure so unknown provider conditions get one
// fallback attempt before escalating.
func classifyFailure(err error) *Error {
	if err == nil {
		return nil
	}
	if perr, ok := err.(*Error); ok {
		return perr
	}
	return NewError(CodeTransientProvider, err)
}
