package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Response is one decoded reply line
type Response struct {
	// Value is only meaningful when HasValue is set
	Value    uint32
	HasValue bool
	Error    ErrorCode
}

// OK reports whether the device accepted the command
func (r Response) OK() bool {
	return r.Error == OK
}

func (r Response) String() string {
	if !r.HasValue {
		return fmt.Sprintf("{value: none, error: %s}", r.Error)
	}
	return fmt.Sprintf("{value: 0x%X, error: %s}", r.Value, r.Error)
}

var textResponse = regexp.MustCompile(`^Value:\s*([0-9A-Fa-f]+)\s*,\s*Error:\s*([0-9A-Fa-f]+)\s*$`)

type jsonResponse struct {
	Value *uint32 `json:"value"`
	Error *uint64 `json:"error"`
}

// DecodeResponse parses one line of device output. Both shapes are accepted:
//
//	Value: 00003456, Error: 00
//	{"value": 13398, "error": 0}
//
// Anything else, including an error code outside the known set, yields
// ErrMalformedResponse.
func DecodeResponse(line []byte) (Response, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Response{}, fmt.Errorf("%w: empty line", ErrMalformedResponse)
	}
	if line[0] == '{' {
		return decodeJSONResponse(line)
	}
	return decodeTextResponse(line)
}

func decodeTextResponse(line []byte) (Response, error) {
	m := textResponse.FindSubmatch(line)
	if m == nil {
		return Response{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
	}
	value, err := strconv.ParseUint(string(m[1]), 16, 32)
	if err != nil {
		return Response{}, fmt.Errorf("%w: value %q: %v", ErrMalformedResponse, m[1], err)
	}
	raw, err := strconv.ParseUint(string(m[2]), 16, 16)
	if err != nil {
		return Response{}, fmt.Errorf("%w: error %q: %v", ErrMalformedResponse, m[2], err)
	}
	code, ok := ParseErrorCode(raw)
	if !ok {
		return Response{}, fmt.Errorf("%w: unknown error code 0x%X", ErrMalformedResponse, raw)
	}
	return Response{Value: uint32(value), HasValue: true, Error: code}, nil
}

func decodeJSONResponse(line []byte) (Response, error) {
	var jr jsonResponse
	if err := json.Unmarshal(line, &jr); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if jr.Error == nil {
		return Response{}, fmt.Errorf("%w: missing error field", ErrMalformedResponse)
	}
	code, ok := ParseErrorCode(*jr.Error)
	if !ok {
		return Response{}, fmt.Errorf("%w: unknown error code 0x%X", ErrMalformedResponse, *jr.Error)
	}
	resp := Response{Error: code}
	if jr.Value != nil {
		resp.Value = *jr.Value
		resp.HasValue = true
	}
	return resp, nil
}
