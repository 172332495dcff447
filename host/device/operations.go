package device

import (
	"fmt"

	"lightlink/compact"
	"lightlink/protocol"
)

// Send issues cmd with the client's timeout and retry policy
func (c *Client) Send(cmd protocol.Command) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchangeWithRetry(cmd, nil)
}

// Noop checks that the device is answering
func (c *Client) Noop() (protocol.Response, error) {
	return c.Send(protocol.NewCommand(protocol.CmdNoop))
}

// Start resumes animation playback
func (c *Client) Start() (protocol.Response, error) {
	return c.Send(protocol.NewCommand(protocol.CmdStart))
}

// Stop halts animation playback
func (c *Client) Stop() (protocol.Response, error) {
	return c.Send(protocol.NewCommand(protocol.CmdStop))
}

// Echo writes value to the echo register and waits for it to come back
func (c *Client) Echo(value uint32) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := protocol.NewCommand(protocol.CmdConfigSet, protocol.ConfigEcho, protocol.U32(value))
	return c.exchangeWithRetry(cmd, &value)
}

// SetConfig writes a configuration register. A rejection by the device is
// not a local failure: it is returned in the response and reported to the
// observer. The device echoes the index for most registers and the value
// for the echo register, so the reply is not matched on its value.
func (c *Client) SetConfig(index protocol.ConfigIndex, value uint32) (protocol.Response, error) {
	return c.Send(protocol.NewCommand(protocol.CmdConfigSet, index, protocol.U32(value)))
}

// GetConfig reads a configuration register. ok is false when the reply
// carries no value. A device rejection is returned as a *DeviceError.
func (c *Client) GetConfig(index protocol.ConfigIndex) (value uint32, ok bool, err error) {
	cmd := protocol.NewCommand(protocol.CmdConfigGet, index)
	resp, err := c.Send(cmd)
	if err != nil {
		return 0, false, err
	}
	if !resp.OK() {
		return 0, false, &DeviceError{Command: cmd, Response: resp}
	}
	return resp.Value, resp.HasValue, nil
}

// SetPixel writes one LED of a stored frame
func (c *Client) SetPixel(frame, led uint32, color protocol.Color) (protocol.Response, error) {
	return c.Send(protocol.NewCommand(protocol.CmdColorSet, protocol.U32(frame), protocol.U32(led), color))
}

// GetPixel reads one LED of a stored frame
func (c *Client) GetPixel(frame, led uint32) (protocol.Color, error) {
	cmd := protocol.NewCommand(protocol.CmdColorGet, protocol.U32(frame), protocol.U32(led))
	resp, err := c.Send(cmd)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, &DeviceError{Command: cmd, Response: resp}
	}
	if !resp.HasValue {
		return 0, fmt.Errorf("%w: %s", ErrMissingValue, cmd.ID)
	}
	return protocol.Color(resp.Value), nil
}

// SetPixels writes consecutive LEDs of a stored frame without compaction,
// one MULTI_COLOR_SET per chunk
func (c *Client) SetPixels(frame, startLED uint32, colors []protocol.Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	words := protocol.ColorWords(colors)
	for i, chunk := range protocol.Split(words, protocol.MultiColorChunkWords) {
		offset := uint32(i * protocol.MultiColorChunkWords)
		cmd := protocol.NewCommandWords(protocol.CmdMultiColorSet, chunk,
			protocol.U32(frame), protocol.U32(startLED+offset))

		resp, err := c.exchangeWithRetry(cmd, nil)
		if err != nil {
			return fmt.Errorf("set pixels at %d: %w", startLED+offset, err)
		}
		if !resp.OK() {
			return &DeviceError{Command: cmd, Response: resp}
		}
	}
	return nil
}

// UploadResult summarizes a frame upload
type UploadResult struct {
	Pixels int // Length of the frame buffer
	Runs   int // Runs after compaction
	Words  int // Packed words sent
	Chunks int // FILE_SET commands sent
}

// UploadFrame compacts buffer and stores it in a device file starting at
// start. Only the first chunk carries flag; later chunks always update, so
// a Replace upload does not erase its own earlier chunks. A timed-out chunk
// is re-sent on its own; a rejected chunk aborts the upload.
func (c *Client) UploadFrame(fileID, start uint32, flag protocol.UpdateFlag, buffer []protocol.Color) (UploadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	runs := compact.Compact(protocol.ColorWords(buffer))
	words, err := compact.Pack(runs)
	if err != nil {
		return UploadResult{}, fmt.Errorf("compact frame: %w", err)
	}

	result := UploadResult{Pixels: len(buffer), Runs: len(runs), Words: len(words)}
	for i, chunk := range protocol.Split(words, protocol.FileChunkWords) {
		offset := uint32(i * protocol.FileChunkWords)
		cmd := protocol.NewCommandWords(protocol.CmdFileSet, chunk,
			protocol.U32(fileID), protocol.U32(start+offset), flag)

		resp, err := c.exchangeWithRetry(cmd, nil)
		if err != nil {
			return result, fmt.Errorf("upload file %d chunk %d: %w", fileID, i, err)
		}
		result.Chunks++
		if !resp.OK() {
			return result, &DeviceError{Command: cmd, Response: resp}
		}
		flag = protocol.FlagUpdate
	}
	return result, nil
}
