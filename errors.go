package kvrpc

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/juju/errors"
)

/* =========================
   Error taxonomy
   (transport vs protocol vs application)
   ========================= */

const (
	// ErrTransportClosed identifies a transport that is closed or unusable.
	ErrTransportClosed = errors.ConstError("transport closed")

	// ErrFunctionNotSpecified is returned when a method id has no bound route.
	ErrFunctionNotSpecified = errors.ConstError("Function not specified")

	// ErrGETWithParams is returned when binding a GET route that takes parameters.
	ErrGETWithParams = errors.ConstError("GET method is only supported for methods without parameters")

	ErrInvalidResponse   = errors.ConstError("Invalid response")
	ErrInvalidResponseID = errors.ConstError("Invalid response ID")

	ErrQueueClosed      = errors.ConstError("queue closed")
	ErrAlreadyConnected = errors.ConstError("socket already connected")
)

// TransportError identifies a transport level failure (possibly retryable).
type TransportError struct {
	Op        string // request / read / write / dial
	Err       error
	Temporary bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorKind discriminates the failures a call can produce.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindHTTP
	KindSecurity
	KindService
	KindRemote
	KindContentType
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindHTTP:
		return "http error"
	case KindSecurity:
		return "security error"
	case KindService:
		return "service error"
	case KindRemote:
		return "remote error"
	case KindContentType:
		return "invalid content type"
	case KindProtocol:
		return "protocol error"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// CallError is returned by every call made through a CallAgent.
type CallError struct {
	Kind    ErrorKind
	Message string
	// Status is the HTTP status, zero when no response was received.
	Status int

	ExceptionType string
	ExceptionJSON string

	// Err is the underlying cause: a *TransportError for network
	// failures, a protocol sentinel, or a typed service exception.
	Err error
}

func (e *CallError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + msg
}

func (e *CallError) Unwrap() error { return e.Err }

// UnmarshalException decodes the exception payload sent with a service
// error into the value pointed to by to.
func (e *CallError) UnmarshalException(to any) error {
	if reflect.ValueOf(to).Kind() != reflect.Ptr {
		return errors.New("UnmarshalException expects a pointer as an argument")
	}
	if e.ExceptionJSON == "" {
		return errors.NotFoundf("exception payload")
	}
	if err := json.Unmarshal([]byte(e.ExceptionJSON), to); err != nil {
		return errors.Annotatef(err, "cannot unmarshal %s payload", e.ExceptionType)
	}
	return nil
}

func hasKind(err error, kind ErrorKind) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsSecurityError reports whether err came from a 401 response. UI code
// uses it to start a re-authentication flow.
func IsSecurityError(err error) bool { return hasKind(err, KindSecurity) }

// IsServiceError reports whether err carries a business-rule failure
// that is safe to show to the user.
func IsServiceError(err error) bool { return hasKind(err, KindService) }

func IsContentTypeError(err error) bool { return hasKind(err, KindContentType) }

func IsProtocolError(err error) bool { return hasKind(err, KindProtocol) }

func IsNetworkError(err error) bool { return hasKind(err, KindNetwork) }

func newProtocolError(sentinel error, cause error) *CallError {
	ce := &CallError{Kind: KindProtocol, Message: sentinel.Error(), Err: sentinel}
	if cause != nil {
		ce.Err = fmt.Errorf("%w: %v", sentinel, cause)
	}
	return ce
}

/* =========================
   Socket close reasons
   ========================= */

const (
	CloseUnexpectedEvent = 4001
	CloseSendOnClosed    = 4002
	closeAbnormalClosure = 1006
	closeNormalClosure   = 1000
)

var closeReasons = map[int]string{
	1000: "Normal closure",
	1001: "Going away",
	1002: "Protocol error",
	1003: "Unsupported data",
	1004: "Reserved",
	1005: "No status received",
	1006: "Abnormal closure",
	1007: "Invalid frame payload data",
	1008: "Policy violation",
	1009: "Message too big",
	1010: "Missing extension",
	1011: "Internal error",
	1012: "Service restart",
	1013: "Try again later",
	1014: "Bad gateway",
	1015: "TLS handshake failure",

	CloseUnexpectedEvent: "Unexpected event",
	CloseSendOnClosed:    "Send on closed socket",
}

// CloseReason maps a websocket close code to a human-readable reason.
func CloseReason(code int) string {
	if r, ok := closeReasons[code]; ok {
		return r
	}
	return "Unknown reason"
}

// SocketClosedError reports that a socket is (or became) unusable.
type SocketClosedError struct {
	Code   int
	Reason string
	Err    error
}

func newSocketClosedError(code int, err error) *SocketClosedError {
	return &SocketClosedError{Code: code, Reason: CloseReason(code), Err: err}
}

func (e *SocketClosedError) Error() string {
	return fmt.Sprintf("socket closed: %s (%d)", e.Reason, e.Code)
}

func (e *SocketClosedError) Unwrap() error { return e.Err }

// IsSocketClosed reports whether err is a *SocketClosedError.
func IsSocketClosed(err error) bool {
	var sce *SocketClosedError
	return errors.As(err, &sce)
}
