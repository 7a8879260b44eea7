package gcunified

import "github.com/gcunified/client/internal/gcerr"

// Library-specific error codes. These never come from the device itself;
// they are synthesised by the transfer queue or connection supervisor.
const (
	CodeQueueTimeout = gcerr.CodeQueueTimeout
	CodeSendTimeout  = gcerr.CodeSendTimeout
	CodeQueueCleared = gcerr.CodeQueueCleared
	CodeBusyIR       = gcerr.CodeBusyIR
	CodeTimedOut     = gcerr.CodeTimedOut
	CodeConnLost     = gcerr.CodeConnLost
)

// GcError is the base of the library's error taxonomy. Every error the
// library returns carries a code, and optionally the address/port of the
// device it concerns.
type GcError = gcerr.Base

// ConnectionError reports a transport-level failure: a failed connect
// (CodeTimedOut), a drop after the connection was open (CodeConnLost), or
// any other net.Error surfaced by the supervisor.
type ConnectionError = gcerr.Connection

// ResponseError reports a device-emitted error line. Code is the device's
// own error code (e.g. "014", "SL001"); Message is the human-readable
// description when known.
type ResponseError = gcerr.Response

// NewConnectionError builds a ConnectionError with the given library code.
func NewConnectionError(code, address string, port int, cause error) *ConnectionError {
	return gcerr.NewConnection(code, address, port, cause)
}

// NewResponseError builds a ResponseError for a device error code.
func NewResponseError(code, message string) *ResponseError {
	return gcerr.NewResponse(code, message)
}
