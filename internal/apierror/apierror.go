// Package apierror implements the error-kind taxonomy and response
// serialization. It is the idiomatic-Go analogue of
// the original Rust source's ApiError enum plus Context chain, shaped the
// way shared/api.StatusErrorf/StatusErrorCheck pattern is used
// throughout lxd/auth/oidc and lxd/auth/bearer.
package apierror

import (
	"encoding/json"
	"net/http"

	"github.com/oidcgateway/bff/internal/logger"
)

// Kind is the coarse error classification that determines the HTTP status
// class of a response. A Kind never leaks which specific condition occurred
// ("A 401 never distinguishes...").
type Kind int

const (
	// Unauthorized covers cookie/tamper/nonce/state class failures.
	Unauthorized Kind = iota
	// NotLoggedIn covers absent-session and refresh-expired class failures.
	NotLoggedIn
	// UnknownRedirect is returned when logout has no redirect source.
	UnknownRedirect
	// BadGateway covers upstream/IDP failures and malformed tokens.
	BadGateway
	// Internal covers CSPRNG/IO/logic-bug class failures.
	Internal
)

func (k Kind) status() int {
	switch k {
	case Unauthorized, NotLoggedIn, UnknownRedirect:
		return http.StatusUnauthorized
	case BadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "Unauthorized"
	case NotLoggedIn:
		return "NotLoggedIn"
	case UnknownRedirect:
		return "UnknownRedirect"
	case BadGateway:
		return "BadGateway"
	default:
		return "Internal"
	}
}

// Error is a chained, tagged error. The innermost Kind determines the HTTP
// status; each wrapping layer may add a context string without changing it.
type Error struct {
	kind    Kind
	context string
	inner   *Error
}

// New creates a root error of the given kind with no context.
func New(kind Kind) *Error {
	return &Error{kind: kind}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.context != "" {
		return e.context
	}

	return e.kind.String()
}

// Unwrap allows errors.Is/errors.As to walk the chain.
func (e *Error) Unwrap() error {
	if e.inner == nil {
		return nil
	}

	return e.inner
}

// Kind returns the innermost error kind, which determines the HTTP status.
func (e *Error) Kind() Kind {
	if e.inner != nil {
		return e.inner.Kind()
	}

	return e.kind
}

// Status returns the HTTP status class for this error.
func (e *Error) Status() int {
	return e.Kind().status()
}

// Wrap adds a context string around err without changing its effective kind.
// If err is not already an *Error, it is wrapped as Internal.
func Wrap(err error, context string) *Error {
	if err == nil {
		return nil
	}

	inner, ok := err.(*Error)
	if !ok {
		inner = &Error{kind: Internal, context: err.Error()}
	}

	return &Error{kind: inner.kind, context: context, inner: inner}
}

// chain walks outermost -> innermost, collecting each layer's message.
func (e *Error) chain() []string {
	var out []string
	for cur := e; cur != nil; cur = cur.inner {
		msg := cur.context
		if msg == "" {
			msg = cur.kind.String()
		}

		out = append(out, msg)
	}

	return out
}

// response is the JSON body shape.
type response struct {
	Status  int      `json:"status"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// Respond writes err as an HTTP response. When exposeErrors is
// false the body is the empty JSON object `{}` and the chain is only
// logged at debug level.
func Respond(w http.ResponseWriter, err *Error, exposeErrors bool) {
	chain := err.chain()

	status := err.Status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if !exposeErrors {
		logger.Debug("request failed", logger.Ctx{"chain": chain, "status": status})
		_, _ = w.Write([]byte("{}"))
		return
	}

	body := response{Status: status, Error: chain[0]}
	if len(chain) > 1 {
		body.Details = chain[1:]
	}

	enc, encErr := json.Marshal(body)
	if encErr != nil {
		_, _ = w.Write([]byte("{}"))
		return
	}

	_, _ = w.Write(enc)
}
