package protocol

import "strings"

// families maps a get_X/set_X command verb to the uppercase family name
// the device echoes back in its response (e.g. "get_IR"/"set_IR" -> "IR").
var families = map[string]string{
	"get_NET": "NET", "set_NET": "NET",
	"get_IR": "IR", "set_IR": "IR",
	"get_SERIAL": "SERIAL", "set_SERIAL": "SERIAL",
	"get_RELAY": "RELAY", "set_RELAY": "RELAY",
}

// ExpectedPrefix computes the prefix a well-formed response to raw must
// start with, so the transfer queue can correlate an arriving line with
// the request that is currently on the wire. raw is the exact string
// queued for send, without its trailing \r.
func ExpectedPrefix(raw string) string {
	verb, rest := splitVerb(raw)

	if family, ok := families[verb]; ok {
		return connectorPrefix(family, rest)
	}

	switch verb {
	case "getversion":
		return "version"
	case "getdevices":
		return "device"
	case "getstate", "setstate":
		return connectorPrefix("state", rest)
	case "sendir":
		return "completeir," + connectorOf(rest)
	case "stopir":
		return "stopir," + connectorOf(rest)
	case "get_IRL":
		return "IR Learner Enabled"
	case "stop_IRL":
		return "IR Learner Disabled"
	default:
		// An unrecognized command has no expected prefix: the transfer
		// queue never matches an ordinary response line to it, and has no
		// fallback match for such requests.
		return ""
	}
}

// connectorPrefix builds "<base>,<module>:<port>" when rest carries a
// connector, or just "<base>" when it doesn't.
func connectorPrefix(base, rest string) string {
	c := connectorOf(rest)
	if c == "" {
		return base
	}
	return base + "," + c
}

// connectorOf extracts the leading "<module>:<port>" token from a
// command's argument list (the part after the verb and its comma).
func connectorOf(rest string) string {
	rest = strings.TrimPrefix(rest, ",")
	if rest == "" {
		return ""
	}
	if i := strings.Index(rest, ","); i >= 0 {
		return rest[:i]
	}
	return rest
}

// splitVerb splits "verb,rest..." into its command name and the
// remainder, so callers can key off the verb without re-parsing.
func splitVerb(raw string) (verb, rest string) {
	if i := strings.Index(raw, ","); i >= 0 {
		return raw[:i], raw[i:]
	}
	return raw, ""
}

// FamilyFromCommand reports the module:port connector a command targets
// (the first field after its verb), used by the transfer queue to identify
// which connector a sendir/stopir addresses and to build the
// command,connector prefix for purging superseded requests.
// It returns "" when the command carries no connector.
func FamilyFromCommand(raw string) string {
	_, rest := splitVerb(raw)
	return connectorOf(rest)
}
