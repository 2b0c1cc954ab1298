package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	KindSDK            ErrorKind = "SDKError"
	KindAuthentication ErrorKind = "AuthenticationError"
	KindAuthorization  ErrorKind = "AuthorizationError"
	KindNotFound       ErrorKind = "NotFoundError"
	KindValidation     ErrorKind = "ValidationError"
	KindRateLimit      ErrorKind = "RateLimitError"
	KindServer         ErrorKind = "ServerError"
	KindTimeout        ErrorKind = "RequestTimeoutError"
	KindNetwork        ErrorKind = "NetworkError"
)

// Error is the single error type surfaced by the client. It is built once by
// Classify and never mutated afterwards.
type Error struct {
	Kind    ErrorKind
	Message string
	// StatusCode is the HTTP status, or 0 when the failure happened before a
	// response was received.
	StatusCode int
	// FieldErrors holds per-field validation messages for ValidationError.
	FieldErrors map[string][]string
	// RetryAfter is the server-requested delay in seconds for RateLimitError,
	// nil when the response carried no Retry-After header.
	RetryAfter *int
	Headers    http.Header
	Body       []byte
	// Err is the original cause, kept for diagnostics only.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Kind))

	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}

	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the original cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels such as ErrNotFound: a target *Error with only a
// Kind set matches any error of that kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}

	return sentinel.Message == "" && sentinel.StatusCode == 0 && sentinel.Kind == e.Kind
}

// Kind sentinels for use with errors.Is.
var (
	ErrSDK            = &Error{Kind: KindSDK}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrServer         = &Error{Kind: KindServer}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrNetwork        = &Error{Kind: KindNetwork}
)

// NewError builds an Error that did not come from an HTTP response.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// AsError extracts the *Error from err.
func AsError(err error) (*Error, bool) {
	apiErr := &Error{}
	if errors.As(err, &apiErr) {
		return apiErr, true
	}

	return nil, false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	if apiErr, ok := AsError(err); ok {
		return apiErr.Kind
	}

	return ""
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnauthorized checks if the error is an authentication error.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindAuthentication
}

// IsForbidden checks if the error is an authorization error.
func IsForbidden(err error) bool {
	return KindOf(err) == KindAuthorization
}

// IsRateLimited checks if the error is a rate limit error.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimit
}

// IsTimeout checks if the error is a request timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// Classify converts a failed exchange into an *Error. It is total: every
// combination of inputs, including two nils, yields exactly one *Error.
// resp is consulted when it carries a status of 400 or above; otherwise err
// is classified as a transport failure.
func Classify(resp *Response, err error) *Error {
	if existing, ok := AsError(err); ok {
		return existing
	}

	if resp != nil && resp.StatusCode >= http.StatusBadRequest {
		return classifyHTTP(resp, err, time.Now())
	}

	if err != nil {
		return classifyTransport(err)
	}

	return &Error{Kind: KindSDK, Message: constants.MessageUnknownFailure}
}

// KindForStatus maps an HTTP error status to its kind.
func KindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindAuthorization
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServer
	default:
		return KindSDK
	}
}

func classifyHTTP(resp *Response, cause error, now time.Time) *Error {
	body := parseErrorBody(resp.Body)
	kind := KindForStatus(resp.StatusCode)

	apiErr := &Error{
		Kind:       kind,
		Message:    resolveMessage(body, resp),
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers.Clone(),
		Body:       resp.Body,
		Err:        cause,
	}

	switch kind {
	case KindValidation:
		apiErr.FieldErrors = parseFieldErrors(body["errors"])
	case KindRateLimit:
		if resp.Headers != nil {
			apiErr.RetryAfter = ParseRetryAfter(resp.Headers.Get(constants.HeaderRetryAfter), now)
		}
	}

	return apiErr
}

func classifyTransport(err error) *Error {
	if isTimeout(err) {
		return &Error{Kind: KindTimeout, Message: constants.MessageTimeout, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindSDK, Message: constants.MessageCanceled, Err: err}
	}

	if isNetwork(err) {
		return &Error{Kind: KindNetwork, Message: constants.MessageNetwork, Err: err}
	}

	return &Error{Kind: KindSDK, Message: constants.MessageUnknownFailure, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetwork(err error) bool {
	var (
		urlErr *url.Error
		opErr  *net.OpError
		dnsErr *net.DNSError
		netErr net.Error
	)

	switch {
	case errors.As(err, &urlErr), errors.As(err, &opErr), errors.As(err, &dnsErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	default:
		return false
	}
}

// parseErrorBody decodes a JSON object body; anything else yields nil.
func parseErrorBody(data []byte) map[string]json.RawMessage {
	if len(data) == 0 {
		return nil
	}

	var body map[string]json.RawMessage

	err := json.Unmarshal(data, &body)
	if err != nil {
		return nil
	}

	return body
}

// resolveMessage applies the order: body "message", body "error", HTTP status
// text, then a literal fallback.
func resolveMessage(body map[string]json.RawMessage, resp *Response) string {
	if msg := stringField(body["message"]); msg != "" {
		return msg
	}

	if raw, ok := body["error"]; ok {
		if msg := stringField(raw); msg != "" {
			return msg
		}

		var nested map[string]json.RawMessage
		if json.Unmarshal(raw, &nested) == nil {
			if msg := stringField(nested["message"]); msg != "" {
				return msg
			}
		}
	}

	if text := statusText(resp); text != "" {
		return text
	}

	return constants.MessageUnknownError
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}

	return strings.TrimSpace(s)
}

// statusText prefers the reason phrase the server sent over the canonical one.
func statusText(resp *Response) string {
	status := strings.TrimSpace(resp.Status)
	if code, reason, found := strings.Cut(status, " "); found && code == strconv.Itoa(resp.StatusCode) {
		status = strings.TrimSpace(reason)
	} else if status == strconv.Itoa(resp.StatusCode) {
		status = ""
	}

	if status != "" {
		return status
	}

	return http.StatusText(resp.StatusCode)
}

// parseFieldErrors accepts {"field": "msg"}, {"field": ["msg", ...]} and
// [{"field": "f", "message": "msg"}, ...].
func parseFieldErrors(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 {
		return nil
	}

	var byField map[string]json.RawMessage
	if json.Unmarshal(raw, &byField) == nil {
		out := make(map[string][]string, len(byField))

		for field, value := range byField {
			if msgs := messages(value); len(msgs) > 0 {
				out[field] = msgs
			}
		}

		return nilIfEmpty(out)
	}

	var list []struct {
		Field   string `json:"field"`
		Path    string `json:"path"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &list) == nil {
		out := make(map[string][]string)

		for _, item := range list {
			field := item.Field
			if field == "" {
				field = item.Path
			}

			if field == "" || item.Message == "" {
				continue
			}

			out[field] = append(out[field], item.Message)
		}

		return nilIfEmpty(out)
	}

	return nil
}

func messages(raw json.RawMessage) []string {
	if msg := stringField(raw); msg != "" {
		return []string{msg}
	}

	var list []string
	if json.Unmarshal(raw, &list) != nil {
		return nil
	}

	out := list[:0]
	for _, msg := range list {
		if msg != "" {
			out = append(out, msg)
		}
	}

	return out
}

func nilIfEmpty(m map[string][]string) map[string][]string {
	if len(m) == 0 {
		return nil
	}

	return m
}

// ParseRetryAfter parses a Retry-After header value, either delta-seconds or
// an HTTP-date, into whole seconds. It returns nil for an empty or malformed
// value.
func ParseRetryAfter(value string, now time.Time) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return nil
		}

		return &seconds
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return nil
	}

	seconds := max(int(math.Ceil(when.Sub(now).Seconds())), 0)

	return &seconds
}

// FieldNames returns the sorted names of fields with validation errors.
func (e *Error) FieldNames() []string {
	names := make([]string, 0, len(e.FieldErrors))
	for name := range e.FieldErrors {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
