package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const (
	maxMessageLen = 512
	maxJSONBytes  = 32 * 1024
)

// Error is an error carrying a Code, so handlers can map it to the right
// HTTP status without re-classifying the underlying cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

type errorBody struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// WriteHTTP writes a bounded JSON error body for code/message at the
// status the code maps to.
func WriteHTTP(w http.ResponseWriter, code Code, message string) {
	meta, ok := Meta(code)
	if !ok {
		meta = CodeMeta{HTTPStatus: 500, Retryable: true, Kind: "server"}
		code = Internal
	}
	env := errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   sanitize(message, maxMessageLen),
		Retryable: meta.Retryable,
	}}
	b, err := json.Marshal(env)
	if err != nil || len(b) > maxJSONBytes {
		meta.HTTPStatus = 500
		b = []byte(`{"error":{"code":"internal","message":"internal error","retryable":true}}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(meta.HTTPStatus)
	_, _ = w.Write(b)
}

// WriteErr writes the HTTP representation of err: if it wraps an *Error,
// its code and message are used, otherwise it is reported as Internal.
func WriteErr(w http.ResponseWriter, err error) {
	if e, ok := As(err); ok {
		WriteHTTP(w, e.Code, e.Message)
		return
	}
	WriteHTTP(w, Internal, "internal error")
}

func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
