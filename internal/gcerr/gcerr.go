// Package gcerr holds the library's error taxonomy at a level both the
// root package and the internal transfer/connection packages can import
// without creating a cycle. The root package re-exports these types under
// its own names so callers never see this package directly.
package gcerr

import "fmt"

// Library-specific codes. These never come from the device itself; they
// are synthesised by the transfer queue or the connection supervisor.
const (
	CodeQueueTimeout = "QUEUE_TIMEOUT"
	CodeSendTimeout  = "SEND_TIMEOUT"
	CodeQueueCleared = "QUEUE_CLEARED"
	CodeBusyIR       = "BUSY_IR"
	CodeTimedOut     = "ETIMEDOUT"
	CodeConnLost     = "ECONNLOST"
)

// Base is the root of the error taxonomy: every error the library returns
// carries a code, and optionally the address/port of the device it
// concerns.
type Base struct {
	Code    string
	Address string
	Port    int
}

func (e *Base) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("gcunified: %s: %s:%d", e.Code, e.Address, e.Port)
	}
	return fmt.Sprintf("gcunified: %s", e.Code)
}

// Connection reports a transport-level failure: a failed connect
// (CodeTimedOut), a drop after the connection was open (CodeConnLost), or
// any other net.Error surfaced by the supervisor.
type Connection struct {
	Base
	Cause error
}

func (e *Connection) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Base.Error(), e.Cause)
	}
	return e.Base.Error()
}

func (e *Connection) Unwrap() error { return e.Cause }

// NewConnection builds a Connection error with the given library code.
func NewConnection(code, address string, port int, cause error) *Connection {
	return &Connection{Base: Base{Code: code, Address: address, Port: port}, Cause: cause}
}

// Response reports a device-emitted error line. Code is the device's own
// error code (e.g. "014", "SL001"); Message is the human-readable
// description when known.
type Response struct {
	Base
	Message string
}

func (e *Response) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Base.Error(), e.Message)
	}
	return e.Base.Error()
}

// NewResponse builds a Response error for a device error code.
func NewResponse(code, message string) *Response {
	return &Response{Base: Base{Code: code}, Message: message}
}

// New builds a plain Base error for a library code raised by the transfer
// queue itself (queue timeout, send timeout, queue cleared, busy giving
// up) rather than by the device or the transport.
func New(code string) *Base {
	return &Base{Code: code}
}
