package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightlink/protocol"
)

// stubChannel decodes every frame written to it and queues the reply lines
// produced by respond. With no queued line, ReadLine idles briefly and
// reports a timeout, the way a serial port with a short read timeout does.
type stubChannel struct {
	mu       sync.Mutex
	respond  func(n int, cmd protocol.Command) []string
	sent     []protocol.Command
	queue    []string
	writeErr error
	readErr  error
	shortBy  int
	inFlight bool
	overlap  bool
}

func (s *stubChannel) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return 0, s.writeErr
	}
	cmd, err := protocol.DecodeFrame(b)
	if err != nil {
		return 0, err
	}
	if s.inFlight {
		s.overlap = true
	}
	s.inFlight = true
	s.sent = append(s.sent, cmd)
	if s.respond != nil {
		s.queue = append(s.queue, s.respond(len(s.sent), cmd)...)
	}
	return len(b) - s.shortBy, nil
}

func (s *stubChannel) Flush() error { return nil }

func (s *stubChannel) ReadLine(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if s.readErr != nil {
		s.mu.Unlock()
		return nil, s.readErr
	}
	if len(s.queue) > 0 {
		line := s.queue[0]
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			s.inFlight = false
		}
		s.mu.Unlock()
		return []byte(line), nil
	}
	s.inFlight = false
	s.mu.Unlock()

	if timeout > 2*time.Millisecond {
		timeout = 2 * time.Millisecond
	}
	time.Sleep(timeout)
	return nil, nil
}

func (s *stubChannel) commands() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.sent...)
}

func reply(lines ...string) func(int, protocol.Command) []string {
	return func(int, protocol.Command) []string { return lines }
}

type recordingObserver struct {
	NopObserver
	mu      sync.Mutex
	skipped []string
	faults  []protocol.Response
	retries []int
	events  []ExchangeEvent
}

func (o *recordingObserver) LineSkipped(line []byte, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, string(line))
}

func (o *recordingObserver) DeviceFault(cmd protocol.Command, resp protocol.Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.faults = append(o.faults, resp)
}

func (o *recordingObserver) Retry(cmd protocol.Command, attempt int, delay time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, attempt)
}

func (o *recordingObserver) ExchangeDone(ev ExchangeEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func noBackoff(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts}
}

func TestExchangeConfigSetScenario(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 13398, "error": 0}`)}
	obs := &recordingObserver{}
	c := New(ch, WithObserver(obs))

	cmd := protocol.NewCommand(protocol.CmdConfigSet, protocol.ConfigFrameCount, protocol.U32(0x3456))
	resp, err := c.Exchange(cmd, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, protocol.Response{Value: 0x3456, HasValue: true, Error: protocol.OK}, resp)

	sent := ch.commands()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.CmdConfigSet, sent[0].ID)
	assert.Equal(t, []uint32{uint32(protocol.ConfigFrameCount), 0x3456}, sent[0].Payload)

	require.Len(t, obs.events, 1)
	assert.Equal(t, StateMatched, obs.events[0].State)
	assert.Empty(t, obs.retries)
}

func TestSetConfigScenarioNoRetry(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 13398, "error": 0}`)}
	obs := &recordingObserver{}
	c := New(ch, WithObserver(obs))

	resp, err := c.SetConfig(protocol.ConfigFrameCount, 0x3456)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x3456), resp.Value)
	assert.True(t, resp.OK())
	assert.Len(t, ch.commands(), 1)
	assert.Empty(t, obs.retries)
}

func TestExchangeSkipsUndecodableLines(t *testing.T) {
	ch := &stubChannel{respond: reply(
		"Core 1 Started",
		"VER: 01, CMD: 04, LEN: 04, PLD:[00,00,00,03,00]",
		"",
		"Value: 00000064, Error: 00 ",
	)}
	obs := &recordingObserver{}
	c := New(ch, WithObserver(obs))

	resp, err := c.Exchange(protocol.NewCommand(protocol.CmdConfigGet, protocol.ConfigLEDCount), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), resp.Value)
	assert.Len(t, obs.skipped, 3)
	require.Len(t, obs.events, 1)
	assert.Equal(t, 3, obs.events[0].Skipped)
}

func TestExchangeExpectWaitsForValue(t *testing.T) {
	ch := &stubChannel{respond: reply(
		`{"value": 1, "error": 0}`,
		`{"error": 0}`,
		`{"value": 42, "error": 0}`,
	)}
	c := New(ch)

	resp, err := c.ExchangeExpect(protocol.NewCommand(protocol.CmdNoop), 42, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), resp.Value)
}

func TestExchangeFaultShortCircuits(t *testing.T) {
	ch := &stubChannel{respond: reply(
		"Value: 00000002, Error: 21",
		`{"value": 42, "error": 0}`,
	)}
	obs := &recordingObserver{}
	c := New(ch, WithObserver(obs))

	start := time.Now()
	resp, err := c.ExchangeExpect(protocol.NewCommand(protocol.CmdConfigSet, protocol.ConfigRunning, protocol.U32(7)), 42, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, protocol.OutOfRange, resp.Error)
	assert.Equal(t, uint32(2), resp.Value)
	require.Len(t, obs.faults, 1)
	assert.Equal(t, StateFaulted, obs.events[0].State)
}

func TestExchangeTimeoutBounds(t *testing.T) {
	ch := &stubChannel{respond: reply("not a reply", `{"value": 1, "error": 0}`)}
	c := New(ch)

	const timeout = 60 * time.Millisecond
	start := time.Now()
	_, err := c.ExchangeExpect(protocol.NewCommand(protocol.CmdNoop), 99, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+40*time.Millisecond)
}

func TestSetConfigRetriesThenSucceeds(t *testing.T) {
	ch := &stubChannel{respond: func(n int, cmd protocol.Command) []string {
		if n < 3 {
			return nil
		}
		return []string{`{"value": 3, "error": 0}`}
	}}
	obs := &recordingObserver{}
	c := New(ch, WithObserver(obs), WithTimeout(20*time.Millisecond), WithRetryPolicy(noBackoff(5)))

	resp, err := c.SetConfig(protocol.ConfigLEDCount, 100)
	require.NoError(t, err)
	assert.True(t, resp.OK())

	sent := ch.commands()
	require.Len(t, sent, 3)
	assert.Equal(t, sent[0], sent[2])
	assert.Equal(t, []int{1, 2}, obs.retries)
}

func TestSetConfigRetriesExhausted(t *testing.T) {
	ch := &stubChannel{}
	c := New(ch, WithTimeout(10*time.Millisecond), WithRetryPolicy(noBackoff(3)))

	_, err := c.SetConfig(protocol.ConfigFPSMillis, 100)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, ch.commands(), 3)
}

func TestRetryUsesBackoff(t *testing.T) {
	ch := &stubChannel{}
	policy := RetryPolicy{
		MaxAttempts: 4,
		Backoff:     BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 25 * time.Millisecond},
	}
	c := New(ch, WithTimeout(5*time.Millisecond), WithRetryPolicy(policy))

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := c.Send(protocol.NewCommand(protocol.CmdNoop))
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, slept)
}

func TestSetConfigDeviceRejection(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 2, "error": 33}`)}
	obs := &recordingObserver{}
	c := New(ch, WithObserver(obs))

	resp, err := c.SetConfig(protocol.ConfigRunning, 7)
	require.NoError(t, err)
	assert.Equal(t, protocol.OutOfRange, resp.Error)
	assert.Len(t, obs.faults, 1)
	assert.Len(t, ch.commands(), 1)
}

func TestGetConfig(t *testing.T) {
	c := New(&stubChannel{respond: reply("Value: 00000064, Error: 00")})
	value, ok, err := c.GetConfig(protocol.ConfigFPSMillis)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(100), value)

	c = New(&stubChannel{respond: reply(`{"error": 0}`)})
	_, ok, err = c.GetConfig(protocol.ConfigFPSMillis)
	require.NoError(t, err)
	assert.False(t, ok)

	c = New(&stubChannel{respond: reply(`{"value": 99, "error": 32}`)})
	_, ok, err = c.GetConfig(protocol.ConfigIndex(99))
	assert.False(t, ok)
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.ErrorIs(t, err, protocol.InvalidParam)
}

func TestPixels(t *testing.T) {
	green := protocol.RGB(0, 255, 0)
	ch := &stubChannel{respond: func(n int, cmd protocol.Command) []string {
		if cmd.ID == protocol.CmdColorGet {
			return []string{"Value: 00FF0000, Error: 00"}
		}
		return []string{`{"value": 0, "error": 0}`}
	}}
	c := New(ch)

	_, err := c.SetPixel(0, 7, green)
	require.NoError(t, err)
	color, err := c.GetPixel(0, 7)
	require.NoError(t, err)
	assert.Equal(t, green, color)

	sent := ch.commands()
	assert.Equal(t, []uint32{0, 7, 0x00FF0000}, sent[0].Payload)
	assert.Equal(t, []uint32{0, 7}, sent[1].Payload)
}

func TestSetPixelsChunks(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 0, "error": 0}`)}
	c := New(ch)

	colors := make([]protocol.Color, 130)
	for i := range colors {
		colors[i] = protocol.RGB(uint8(i), 0, 0)
	}
	require.NoError(t, c.SetPixels(1, 10, colors))

	sent := ch.commands()
	require.Len(t, sent, 3)
	for i, cmd := range sent {
		assert.Equal(t, protocol.CmdMultiColorSet, cmd.ID)
		assert.Equal(t, uint32(1), cmd.Payload[0])
		assert.Equal(t, uint32(10+i*protocol.MultiColorChunkWords), cmd.Payload[1])
	}
	assert.Len(t, sent[2].Payload, 2+130-2*protocol.MultiColorChunkWords)
}

func TestUploadSolidFrameIsOneFrame(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 3, "error": 0}`)}
	c := New(ch)

	red := protocol.RGB(255, 0, 0)
	buffer := make([]protocol.Color, 100)
	for i := range buffer {
		buffer[i] = red
	}

	result, err := c.UploadFrame(2, 3, protocol.FlagReplace, buffer)
	require.NoError(t, err)
	assert.Equal(t, UploadResult{Pixels: 100, Runs: 1, Words: 1, Chunks: 1}, result)

	sent := ch.commands()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.CmdFileSet, sent[0].ID)
	assert.Equal(t, []uint32{2, 3, uint32(protocol.FlagReplace), red.Word() | 100}, sent[0].Payload)
}

func TestUploadFrameChunksAndFlags(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 0, "error": 0}`)}
	c := New(ch)

	// Alternating colors defeat compaction: one word per pixel
	buffer := make([]protocol.Color, 130)
	for i := range buffer {
		buffer[i] = protocol.RGB(uint8(i%2), 0, 0)
	}

	result, err := c.UploadFrame(4, 10, protocol.FlagReplace, buffer)
	require.NoError(t, err)
	assert.Equal(t, 130, result.Runs)
	assert.Equal(t, 3, result.Chunks)

	sent := ch.commands()
	require.Len(t, sent, 3)
	expectedLens := []int{protocol.FileChunkWords, protocol.FileChunkWords, 130 - 2*protocol.FileChunkWords}
	expectedFlags := []protocol.UpdateFlag{protocol.FlagReplace, protocol.FlagUpdate, protocol.FlagUpdate}
	for i, cmd := range sent {
		assert.Equal(t, uint32(4), cmd.Payload[0])
		assert.Equal(t, uint32(10+i*protocol.FileChunkWords), cmd.Payload[1])
		assert.Equal(t, uint32(expectedFlags[i]), cmd.Payload[2])
		assert.Len(t, cmd.Payload, protocol.FileSetHeaderWords+expectedLens[i])
	}
}

func TestUploadFrameRetriesOnlyTheLostChunk(t *testing.T) {
	ch := &stubChannel{respond: func(n int, cmd protocol.Command) []string {
		if n == 2 {
			return nil
		}
		return []string{`{"value": 0, "error": 0}`}
	}}
	c := New(ch, WithTimeout(20*time.Millisecond), WithRetryPolicy(noBackoff(3)))

	buffer := make([]protocol.Color, 130)
	for i := range buffer {
		buffer[i] = protocol.RGB(uint8(i%2), 0, 0)
	}
	_, err := c.UploadFrame(1, 0, protocol.FlagUpdate, buffer)
	require.NoError(t, err)

	sent := ch.commands()
	require.Len(t, sent, 4)
	assert.Equal(t, sent[1], sent[2])
	assert.Equal(t, uint32(2*protocol.FileChunkWords), sent[3].Payload[1])
}

func TestUploadFrameRejectedChunk(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 1, "error": 33}`)}
	c := New(ch)

	buffer := make([]protocol.Color, 130)
	for i := range buffer {
		buffer[i] = protocol.RGB(uint8(i%2), 0, 0)
	}
	result, err := c.UploadFrame(1, 0, protocol.FlagReplace, buffer)
	assert.ErrorIs(t, err, protocol.OutOfRange)
	assert.Equal(t, 1, result.Chunks)
	assert.Len(t, ch.commands(), 1)
}

func TestUploadFrameUnalignedColor(t *testing.T) {
	ch := &stubChannel{}
	c := New(ch)

	_, err := c.UploadFrame(1, 0, protocol.FlagReplace, []protocol.Color{0x00000001})
	assert.Error(t, err)
	assert.Empty(t, ch.commands())
}

func TestUploadEmptyFrame(t *testing.T) {
	ch := &stubChannel{}
	c := New(ch)

	result, err := c.UploadFrame(1, 0, protocol.FlagReplace, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Chunks)
	assert.Empty(t, ch.commands())
}

func TestLocalFaultsAreNotRetried(t *testing.T) {
	boom := errors.New("port closed")

	ch := &stubChannel{writeErr: boom}
	_, err := New(ch).SetConfig(protocol.ConfigEcho, 1)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)

	ch = &stubChannel{shortBy: 1}
	_, err = New(ch).SetConfig(protocol.ConfigEcho, 1)
	assert.ErrorIs(t, err, ErrIncompleteWrite)
	assert.Len(t, ch.commands(), 1)

	ch = &stubChannel{readErr: boom}
	_, err = New(ch).SetConfig(protocol.ConfigEcho, 1)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ch.commands(), 1)
}

func TestPayloadTooLongFailsFast(t *testing.T) {
	ch := &stubChannel{}
	c := New(ch)

	cmd := protocol.Command{ID: protocol.CmdMultiColorSet, Payload: make([]uint32, protocol.MaxPayloadWords+1)}
	_, err := c.Send(cmd)
	assert.ErrorIs(t, err, protocol.PayloadTooLong)
	assert.Empty(t, ch.commands())

	_, err = c.Send(protocol.Command{ID: protocol.CommandID(0x7F)})
	assert.ErrorIs(t, err, protocol.ErrUnknownCommand)
}

func TestEcho(t *testing.T) {
	ch := &stubChannel{respond: func(n int, cmd protocol.Command) []string {
		return []string{`{"value": 0, "error": 0}`, `{"value": 4660, "error": 0}`}
	}}
	c := New(ch)

	resp, err := c.Echo(0x1234)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), resp.Value)
	assert.Equal(t, []uint32{uint32(protocol.ConfigEcho), 0x1234}, ch.commands()[0].Payload)
}

func TestStartStopNoop(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 0, "error": 0}`)}
	c := New(ch)

	_, err := c.Start()
	require.NoError(t, err)
	_, err = c.Stop()
	require.NoError(t, err)
	_, err = c.Noop()
	require.NoError(t, err)

	sent := ch.commands()
	require.Len(t, sent, 3)
	assert.Equal(t, protocol.CmdStart, sent[0].ID)
	assert.Equal(t, protocol.CmdStop, sent[1].ID)
	assert.Equal(t, protocol.CmdNoop, sent[2].ID)
}

func TestFrameRatePacing(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 0, "error": 0}`)}
	c := New(ch, WithFrameRate(20))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Noop()
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	ch := &stubChannel{respond: reply(`{"value": 0, "error": 0}`)}
	c := New(ch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.SetConfig(protocol.ConfigDebugR, uint32(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, ch.commands(), 8)
	assert.False(t, ch.overlap, "a command was sent while another was awaiting its reply")
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, NextBackoffDelay(cfg, tc.attempt, nil), "attempt %d", tc.attempt)
	}

	assert.Zero(t, NextBackoffDelay(BackoffConfig{}, 3, nil))

	cfg.Jitter = true
	assert.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
}
