// Package protocol implements the stateless pieces of the Unified TCP API:
// classifying device responses, computing the expected-response prefix for
// a request, and framing the line-oriented wire format into complete
// responses. Nothing here touches the network or the transfer queue.
package protocol

import "strings"

// Kind identifies the shape of a classified response line.
type Kind int

const (
	// KindOK is an ordinary (non-error, non-busy, non-stop) response.
	KindOK Kind = iota
	// KindDeviceError is a device-reported error line.
	KindDeviceError
	// KindBusy is a busyIR/busyir signal.
	KindBusy
	// KindStopAck acknowledges a stopir request.
	KindStopAck
)

// Classification is the result of classifying one complete response line.
type Classification struct {
	Kind Kind

	// Populated for KindDeviceError.
	ErrorCode string

	// Populated for KindBusy and KindStopAck.
	Connector string
	// Populated for KindBusy when the device includes the module:port,id tail.
	BusyID string
}

// ErrorMessages maps a device error code to a human-readable message.
// gcunified uses its built-in DefaultMessages table unless a caller
// supplies another one, and leaves the message empty (so the error text
// shows only the code) when the code is unrecognised.
type ErrorMessages interface {
	Message(code string) (string, bool)
}

// Classify recognises the prefix rules of the Unified TCP API (bit-exact,
// see the iTach/Flex/GC-100 quirks below) and returns exactly one
// Classification for any non-empty line. Classify never returns an error:
// anything it doesn't recognise is KindOK, since the library is
// deliberately transparent to command semantics it doesn't own.
func Classify(line string) Classification {
	switch {
	case strings.HasPrefix(line, "ERR_"):
		// iTach: "ERR_<connector>,<code>" - code is the final three
		// characters before the terminator (already stripped by the framer).
		code := line
		if len(code) >= 3 {
			code = code[len(code)-3:]
		}
		return Classification{Kind: KindDeviceError, ErrorCode: code}

	case strings.HasPrefix(line, "ERR "):
		// Flex / Global Connect: the whole trimmed line is the code.
		return Classification{Kind: KindDeviceError, ErrorCode: line}

	case strings.HasPrefix(line, "unknowncommand"):
		// GC-100: code is the trailing comma-separated token.
		fields := strings.Split(line, ",")
		return Classification{Kind: KindDeviceError, ErrorCode: fields[len(fields)-1]}

	case strings.HasPrefix(line, "busyIR") || strings.HasPrefix(line, "busyir"):
		return classifyBusy(line)

	case strings.HasPrefix(line, "stopir,"):
		connector := strings.TrimPrefix(line, "stopir,")
		return Classification{Kind: KindStopAck, Connector: connector}

	default:
		return Classification{Kind: KindOK}
	}
}

// classifyBusy parses "busyIR[,<module:port>[,<id>]]", tolerating the
// busyir casing some firmware revisions emit (see spec Open Questions).
func classifyBusy(line string) Classification {
	rest := line
	switch {
	case strings.HasPrefix(line, "busyIR"):
		rest = strings.TrimPrefix(line, "busyIR")
	case strings.HasPrefix(line, "busyir"):
		rest = strings.TrimPrefix(line, "busyir")
	}
	rest = strings.TrimPrefix(rest, ",")
	if rest == "" {
		return Classification{Kind: KindBusy}
	}
	parts := strings.SplitN(rest, ",", 2)
	cls := Classification{Kind: KindBusy, Connector: parts[0]}
	if len(parts) == 2 {
		cls.BusyID = parts[1]
	}
	return cls
}

// Message resolves the human-readable text for code, using msgs if
// non-nil, and otherwise falling back to the bare code.
func Message(msgs ErrorMessages, code string) string {
	if msgs != nil {
		if text, ok := msgs.Message(code); ok {
			return text
		}
	}
	return code
}
