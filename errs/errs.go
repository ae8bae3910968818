// Package errs provides structured error types and helpers for Foggle services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a failure category in the ingestion stack.
type Code string

const (
	// CodeNetwork indicates a transport-level connection failure.
	CodeNetwork Code = "network"
	// CodeDecode indicates a malformed frame or payload.
	CodeDecode Code = "decode"
	// CodeVenueClient indicates a 4xx response from the venue.
	CodeVenueClient Code = "venue_client"
	// CodeVenueServer indicates a 5xx response from the venue.
	CodeVenueServer Code = "venue_server"
	// CodeIdentity indicates an account or signing identity violation.
	CodeIdentity Code = "identity"
	// CodeExclusive indicates a second subscriber on an exclusive topic.
	CodeExclusive Code = "exclusive_subscription"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the component is not ready to serve.
	CodeUnavailable Code = "unavailable"
	// CodeStorage indicates a persistence failure other than a duplicate key.
	CodeStorage Code = "storage"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
)

// E captures structured error information produced across the Foggle stack.
type E struct {
	Venue   string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string
	Data    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue:   strings.TrimSpace(venue),
		Code:    code,
		HTTP:    0,
		RawCode: "",
		RawMsg:  "",
		Message: "",
		Data:    nil,
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message or body.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithData merges the provided venue error data into the envelope.
func WithData(data map[string]string) Option {
	return func(e *E) {
		if len(data) == 0 {
			return
		}
		if e.Data == nil {
			e.Data = make(map[string]string, len(data))
		}
		for k, v := range data {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Data[key] = strings.TrimSpace(v)
		}
	}
}

// WithField appends a single venue data key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Data == nil {
			e.Data = make(map[string]string, 1)
		}
		e.Data[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Data[k]))
		}
		parts = append(parts, "data="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err carries the given failure code.
func HasCode(err error, code Code) bool {
	var envelope *E
	if !errors.As(err, &envelope) {
		return false
	}
	return envelope.Code == code
}

// CodeOf extracts the failure code from err, or an empty code when absent.
func CodeOf(err error) Code {
	var envelope *E
	if !errors.As(err, &envelope) {
		return Code("")
	}
	return envelope.Code
}
