package serial

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPort returns one scripted chunk per Read and io.EOF once drained,
// like tarm/serial does on a read timeout
type scriptedPort struct {
	chunks  [][]byte
	written bytes.Buffer
	readErr error
	closed  bool
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	if n == len(p.chunks[0]) {
		p.chunks = p.chunks[1:]
	} else {
		p.chunks[0] = p.chunks[0][n:]
	}
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *scriptedPort) Flush() error                { return nil }
func (p *scriptedPort) Close() error                { p.closed = true; return nil }

func TestReadLineAssemblesChunks(t *testing.T) {
	port := &scriptedPort{chunks: [][]byte{
		[]byte("Core 1 Sta"),
		[]byte("rted\r\n{\"value\": 13398,"),
		[]byte(" \"error\": 0}\n"),
	}}
	ch := NewLineChannel(port)

	line, err := ch.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Core 1 Started", string(line))

	line, err = ch.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"value": 13398, "error": 0}`, string(line))
}

func TestReadLineTimeout(t *testing.T) {
	port := &scriptedPort{chunks: [][]byte{[]byte("partial")}}
	ch := NewLineChannel(port)

	start := time.Now()
	line, err := ch.ReadLine(30 * time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, line)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 30*time.Millisecond+10*idlePoll)

	// The partial line survives the timeout
	port.chunks = [][]byte{[]byte(" line\n")}
	line, err = ch.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "partial line", string(line))
}

func TestReadLineDropsOverlongLines(t *testing.T) {
	port := &scriptedPort{chunks: [][]byte{
		[]byte(strings.Repeat("x", LineBufferSize*2)),
		[]byte("\nValue: 00000001, Error: 00\n"),
	}}
	ch := NewLineChannel(port)

	line, err := ch.ReadLine(time.Second)
	require.NoError(t, err)
	// The tail of the over-long line is delivered as garbage, then the reply
	assert.NotEqual(t, "Value: 00000001, Error: 00", string(line))
	assert.GreaterOrEqual(t, ch.Dropped(), 1)

	line, err = ch.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Value: 00000001, Error: 00", string(line))
}

// noisyPort never runs dry and never sends a delimiter, like a port at the
// wrong baud rate
type noisyPort struct {
	scriptedPort
}

func (p *noisyPort) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 'x'
	}
	return len(b), nil
}

func TestReadLineDeadlineUnderContinuousNoise(t *testing.T) {
	ch := NewLineChannel(&noisyPort{})

	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		line, err := ch.ReadLine(20 * time.Millisecond)
		assert.NoError(t, err)
		assert.Nil(t, line)
		done <- time.Since(start)
	}()

	select {
	case elapsed := <-done:
		assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
		assert.Less(t, elapsed, 20*time.Millisecond+10*idlePoll)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine did not return after its timeout")
	}
	assert.Greater(t, ch.Dropped(), 0)
}

func TestReadLinePortError(t *testing.T) {
	boom := errors.New("device unplugged")
	ch := NewLineChannel(&scriptedPort{readErr: boom})

	_, err := ch.ReadLine(time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestWriteAndClose(t *testing.T) {
	port := &scriptedPort{}
	ch := NewLineChannel(port)

	n, err := ch.Write([]byte{0xAA, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xAA, 0x01}, port.written.Bytes())

	require.NoError(t, ch.Flush())
	require.NoError(t, ch.Close())
	assert.True(t, port.closed)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	assert.Equal(t, "/dev/ttyACM0", cfg.Device)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.ReadTimeout)

	_, err := Open(nil)
	assert.Error(t, err)
	_, err = Open(&Config{})
	assert.Error(t, err)
}
