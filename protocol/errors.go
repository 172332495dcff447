package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand    = errors.New("protocol: unknown command id")
	ErrMalformedResponse = errors.New("protocol: malformed response")
)

// ErrorCode is the status the device attaches to every reply.
// Codec failures are reported with the same codes, so ErrorCode implements error.
type ErrorCode uint8

const (
	OK ErrorCode = 0x00

	// Protocol layer
	BadHeader      ErrorCode = 0x10
	BadChecksum    ErrorCode = 0x11
	UnexpectedType ErrorCode = 0x12
	PayloadTooLong ErrorCode = 0x13
	BadVersion     ErrorCode = 0x14
	BadCommand     ErrorCode = 0x15

	// Parameter layer
	InvalidParam ErrorCode = 0x20
	OutOfRange   ErrorCode = 0x21
	MissingField ErrorCode = 0x22

	// Runtime layer
	Timeout        ErrorCode = 0x30
	BufferOverflow ErrorCode = 0x31
	UnknownError   ErrorCode = 0xFF
)

var errorNames = map[ErrorCode]string{
	OK:             "OK",
	BadHeader:      "BAD_HEADER",
	BadChecksum:    "BAD_CHECKSUM",
	UnexpectedType: "UNEXPECTED_TYPE",
	PayloadTooLong: "PAYLOAD_TOO_LONG",
	BadVersion:     "BAD_VERSION",
	BadCommand:     "BAD_COMMAND",
	InvalidParam:   "INVALID_PARAM",
	OutOfRange:     "OUT_OF_RANGE",
	MissingField:   "MISSING_FIELD",
	Timeout:        "TIMEOUT",
	BufferOverflow: "BUFFER_OVERFLOW",
	UnknownError:   "UNKNOWN_ERROR",
}

// Layer groups error codes by where they originate
type Layer uint8

const (
	LayerNone Layer = iota
	LayerProtocol
	LayerParameter
	LayerRuntime
)

func (l Layer) String() string {
	switch l {
	case LayerProtocol:
		return "protocol"
	case LayerParameter:
		return "parameter"
	case LayerRuntime:
		return "runtime"
	default:
		return "none"
	}
}

// ParseErrorCode validates a raw code against the closed set
func ParseErrorCode(v uint64) (ErrorCode, bool) {
	if v > 0xFF {
		return 0, false
	}
	code := ErrorCode(v)
	_, ok := errorNames[code]
	return code, ok
}

// Valid reports whether e is a member of the closed set
func (e ErrorCode) Valid() bool {
	_, ok := errorNames[e]
	return ok
}

// Layer classifies the code
func (e ErrorCode) Layer() Layer {
	switch {
	case e == OK:
		return LayerNone
	case e >= 0x10 && e < 0x20:
		return LayerProtocol
	case e >= 0x20 && e < 0x30:
		return LayerParameter
	default:
		return LayerRuntime
	}
}

func (e ErrorCode) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(0x%02X)", uint8(e))
}

func (e ErrorCode) Error() string {
	return "protocol: " + e.String()
}
