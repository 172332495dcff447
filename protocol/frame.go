package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrame serializes cmd into its wire frame:
//
//	[AA][01][id][len][payload words, big-endian][crc8][55]
//
// The checksum covers id, len and payload.
func EncodeFrame(cmd Command) ([]byte, error) {
	output := NewScratchOutput()
	if err := WriteFrame(output, cmd); err != nil {
		return nil, err
	}
	return output.Result(), nil
}

// WriteFrame encodes cmd into output. Nothing is written when cmd is rejected.
func WriteFrame(output OutputBuffer, cmd Command) error {
	if !cmd.ID.Valid() {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, uint8(cmd.ID))
	}
	payloadLen := len(cmd.Payload) * WordSize
	if payloadLen > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", PayloadTooLong, payloadLen, MaxPayloadBytes)
	}

	output.Output([]byte{FrameStart, Version})
	cursor := output.CurPosition()
	// Length is patched once the payload is written
	output.Output([]byte{byte(cmd.ID), 0})
	lengthPos := output.CurPosition() - 1
	payloadStart := output.CurPosition()

	var word [WordSize]byte
	for _, w := range cmd.Payload {
		binary.BigEndian.PutUint32(word[:], w)
		output.Output(word[:])
	}
	output.Update(lengthPos, byte(output.CurPosition()-payloadStart))

	crc := CRC8(output.DataSince(cursor))
	output.Output([]byte{crc, FrameEnd})
	return nil
}

// DecodeFrame parses one complete wire frame back into a Command.
// Failures are reported as the ErrorCode the device would answer with.
func DecodeFrame(data []byte) (Command, error) {
	if len(data) < FrameMin {
		return Command{}, fmt.Errorf("%w: frame too short (%d bytes)", BadHeader, len(data))
	}
	if data[FramePositionStart] != FrameStart {
		return Command{}, fmt.Errorf("%w: start marker 0x%02X", BadHeader, data[FramePositionStart])
	}
	if data[FramePositionVersion] != Version {
		return Command{}, fmt.Errorf("%w: 0x%02X", BadVersion, data[FramePositionVersion])
	}

	payloadLen := int(data[FramePositionLength])
	if payloadLen%WordSize != 0 {
		return Command{}, fmt.Errorf("%w: payload length %d is not word aligned", UnexpectedType, payloadLen)
	}
	frameLen := FrameHeaderSize + payloadLen + FrameTrailerSize
	if len(data) != frameLen {
		return Command{}, fmt.Errorf("%w: length field says %d bytes, frame has %d", BadHeader, frameLen, len(data))
	}
	if data[frameLen-1] != FrameEnd {
		return Command{}, fmt.Errorf("%w: end marker 0x%02X", BadHeader, data[frameLen-1])
	}
	if err := VerifyCRC8(data[FramePositionCommand : frameLen-1]); err != nil {
		return Command{}, err
	}

	id := CommandID(data[FramePositionCommand])
	if !id.Valid() {
		return Command{}, fmt.Errorf("%w: 0x%02X", BadCommand, uint8(id))
	}

	payload := make([]uint32, payloadLen/WordSize)
	body := data[FrameHeaderSize : FrameHeaderSize+payloadLen]
	for i := range payload {
		payload[i] = binary.BigEndian.Uint32(body[i*WordSize:])
	}
	return Command{ID: id, Payload: payload}, nil
}
