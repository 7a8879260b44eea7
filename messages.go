package gcunified

import "github.com/gcunified/client/internal/protocol"

// ErrorMessages maps a device error code to a human-readable message.
// Pass one to WithMessages to have ResponseError.Error() include the
// decoded text alongside the raw code.
type ErrorMessages = protocol.ErrorMessages

// defaultMessages covers the common numeric codes documented for the
// Unified TCP API's ERR_/ERR/unknowncommand lines. It is used whenever a
// Client isn't given its own table via WithMessages.
type defaultMessages struct{}

var knownCodes = map[string]string{
	"001": "Invalid command. See User Guide.",
	"002": "Invalid module address (does not exist).",
	"003": "Invalid connector address (does not exist).",
	"004": "Invalid ID value.",
	"005": "Invalid frequency value.",
	"006": "Invalid repeat value.",
	"007": "Invalid offset value.",
	"008": "Invalid pulse count.",
	"009": "Invalid pulse data.",
	"010": "Uneven amount of <on,off> statements.",
	"011": "No carriage return before buffer full.",
	"012": "No carriage return before buffer full (transmit).",
	"013": "Bad command syntax.",
	"014": "IR command sent to input-only connector.",
	"015": "Command sent to a connector not configured for the command type.",
	"016": "Command sent to input/serial-only connector (blaster cmd).",
	"017": "Maximum number of IR transmissions exceeded.",
	"018": "IR learner is currently active on that connector.",
	"019": "IR learner is not active on that connector.",
	"020": "Blaster command sent to non-blaster connector.",
	"021": "No carriage return before buffer full (learner).",
	"022": "Sensor-notify command sent to non-input connector.",
	"023": "Repeated IR transmission exceeds maximum count.",
	"024": "IR capture has failed due to an IR timeout.",
	"025": "Command not recognized.",
}

// Message implements ErrorMessages by looking code up in knownCodes.
func (defaultMessages) Message(code string) (string, bool) {
	text, ok := knownCodes[code]
	return text, ok
}

// DefaultMessages is the ErrorMessages implementation a Client uses when
// none is supplied via WithMessages.
var DefaultMessages ErrorMessages = defaultMessages{}
