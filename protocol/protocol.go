// Package protocol implements the Lights-MCU serial command protocol
package protocol

import (
	"fmt"
	"strings"
)

// Version is the protocol version byte carried by every frame
const Version = 0x01

// Wire frame constants
const (
	FrameStart = 0xAA // Start marker
	FrameEnd   = 0x55 // End marker

	FrameHeaderSize  = 4 // start, version, command id, payload length
	FrameTrailerSize = 2 // checksum, end
	FrameMin         = FrameHeaderSize + FrameTrailerSize

	FramePositionStart   = 0
	FramePositionVersion = 1
	FramePositionCommand = 2
	FramePositionLength  = 3

	WordSize        = 4   // Payload words are 32-bit big-endian
	MaxPayloadBytes = 255 // One-byte length field
	MaxPayloadWords = MaxPayloadBytes / WordSize

	FrameMax = FrameMin + MaxPayloadWords*WordSize

	// LineDelimiter terminates every reply line from the device
	LineDelimiter = '\n'
)

// CommandID identifies a device command
type CommandID uint8

const (
	CmdNoop          CommandID = 0x00
	CmdStart         CommandID = 0x01
	CmdStop          CommandID = 0x02
	CmdConfigSet     CommandID = 0x03
	CmdConfigGet     CommandID = 0x04
	CmdColorSet      CommandID = 0x05
	CmdColorGet      CommandID = 0x06
	CmdMultiColorSet CommandID = 0x07
	CmdFileSet       CommandID = 0x08
)

var commandNames = map[CommandID]string{
	CmdNoop:          "NOOP",
	CmdStart:         "START",
	CmdStop:          "STOP",
	CmdConfigSet:     "CONFIG_SET",
	CmdConfigGet:     "CONFIG_GET",
	CmdColorSet:      "COLOR_SET",
	CmdColorGet:      "COLOR_GET",
	CmdMultiColorSet: "MULTI_COLOR_SET",
	CmdFileSet:       "FILE_SET",
}

// Valid reports whether id is a known command
func (id CommandID) Valid() bool {
	_, ok := commandNames[id]
	return ok
}

func (id CommandID) String() string {
	if name, ok := commandNames[id]; ok {
		return name
	}
	return fmt.Sprintf("CommandID(0x%02X)", uint8(id))
}

// ConfigIndex addresses a device configuration register
type ConfigIndex uint8

const (
	ConfigEcho         ConfigIndex = 0x00
	ConfigFPSMillis    ConfigIndex = 0x01
	ConfigRunning      ConfigIndex = 0x02
	ConfigLEDCount     ConfigIndex = 0x03
	ConfigFrameCount   ConfigIndex = 0x04
	ConfigDebugR       ConfigIndex = 0x05
	ConfigDebugG       ConfigIndex = 0x06
	ConfigDebugB       ConfigIndex = 0x07
	ConfigDebugCmd     ConfigIndex = 0x08
	ConfigStatusReport ConfigIndex = 0x09
	ConfigCurrentFile  ConfigIndex = 0x0A
)

// ConfigIndexes lists every register in wire order
var ConfigIndexes = []ConfigIndex{
	ConfigEcho, ConfigFPSMillis, ConfigRunning, ConfigLEDCount, ConfigFrameCount,
	ConfigDebugR, ConfigDebugG, ConfigDebugB, ConfigDebugCmd, ConfigStatusReport,
	ConfigCurrentFile,
}

var configNames = map[ConfigIndex]string{
	ConfigEcho:         "echo",
	ConfigFPSMillis:    "fps_ms",
	ConfigRunning:      "running",
	ConfigLEDCount:     "led_count",
	ConfigFrameCount:   "frame_count",
	ConfigDebugR:       "debug_r",
	ConfigDebugG:       "debug_g",
	ConfigDebugB:       "debug_b",
	ConfigDebugCmd:     "debug_cmd",
	ConfigStatusReport: "status_report",
	ConfigCurrentFile:  "current_file",
}

func (c ConfigIndex) String() string {
	if name, ok := configNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ConfigIndex(0x%02X)", uint8(c))
}

// Word returns the wire representation of the register index
func (c ConfigIndex) Word() uint32 { return uint32(c) }

// ParseConfigIndex resolves a register by name ("led_count") or number ("3", "0x03")
func ParseConfigIndex(s string) (ConfigIndex, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for idx, n := range configNames {
		if n == name {
			return idx, nil
		}
	}
	v, err := parseUint(name, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown config index %q", s)
	}
	return ConfigIndex(v), nil
}

// UpdateFlag tells the device whether a file upload replaces or extends stored data
type UpdateFlag uint32

const (
	FlagReplace UpdateFlag = 0
	FlagUpdate  UpdateFlag = 1
)

// Word returns the wire representation of the flag
func (f UpdateFlag) Word() uint32 { return uint32(f) }

// Arg is any value that can be carried as one payload word
type Arg interface {
	Word() uint32
}

// U32 is a raw payload word
type U32 uint32

// Word returns v unchanged
func (v U32) Word() uint32 { return uint32(v) }

// Command is one outbound request
type Command struct {
	ID      CommandID
	Payload []uint32
}

// NewCommand builds a command from typed arguments
func NewCommand(id CommandID, args ...Arg) Command {
	payload := make([]uint32, len(args))
	for i, a := range args {
		payload[i] = a.Word()
	}
	return Command{ID: id, Payload: payload}
}

// NewCommandWords builds a command whose trailing payload is a block of raw words
func NewCommandWords(id CommandID, words []uint32, args ...Arg) Command {
	cmd := NewCommand(id, args...)
	cmd.Payload = append(cmd.Payload, words...)
	return cmd
}

func (c Command) String() string {
	return fmt.Sprintf("%s%v", c.ID, c.Payload)
}
