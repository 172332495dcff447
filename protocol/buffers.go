package protocol

import "bytes"

// OutputBuffer is the sink frames are encoded into
type OutputBuffer interface {
	// Output appends data to the buffer
	Output(data []byte)

	// CurPosition returns the current write position
	CurPosition() int

	// Update overwrites a byte that was already written
	Update(pos int, val byte)

	// DataSince returns the bytes written after pos
	DataSince(pos int) []byte
}

// ScratchOutput is a fixed-size OutputBuffer large enough for one frame
type ScratchOutput struct {
	buf [FrameMax]byte
	pos int
}

// NewScratchOutput creates an empty ScratchOutput
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns a copy of the accumulated bytes
func (s *ScratchOutput) Result() []byte {
	out := make([]byte, s.pos)
	copy(out, s.buf[:s.pos])
	return out
}

// Reset clears the buffer
func (s *ScratchOutput) Reset() {
	s.pos = 0
}

// LineBuffer is a circular byte buffer that hands out delimiter-terminated lines.
// One slot is kept free to tell a full buffer from an empty one.
type LineBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

// NewLineBuffer creates a LineBuffer holding up to capacity-1 bytes
func NewLineBuffer(capacity int) *LineBuffer {
	return &LineBuffer{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// Write appends as much of data as fits and returns the count stored
func (f *LineBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		next := (f.write + 1) % f.size
		if next == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = next
		written++
	}
	return written
}

// Available returns the number of buffered bytes
func (f *LineBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Free returns the number of bytes that can still be written
func (f *LineBuffer) Free() int {
	return f.size - f.Available() - 1
}

// Data returns the buffered bytes as one contiguous slice
func (f *LineBuffer) Data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	result := make([]byte, f.Available())
	n := copy(result, f.buf[f.read:])
	copy(result[n:], f.buf[:f.write])
	return result
}

// Pop discards n bytes from the front
func (f *LineBuffer) Pop(n int) {
	if n > f.Available() {
		n = f.Available()
	}
	f.read = (f.read + n) % f.size
}

// NextLine removes and returns the next complete line without its delimiter
// or a trailing carriage return. ok is false when no full line is buffered.
func (f *LineBuffer) NextLine() (line []byte, ok bool) {
	data := f.Data()
	i := bytes.IndexByte(data, LineDelimiter)
	if i < 0 {
		return nil, false
	}
	line = make([]byte, i)
	copy(line, data[:i])
	f.Pop(i + 1)
	return bytes.TrimRight(line, "\r"), true
}

// IsEmpty returns true if nothing is buffered
func (f *LineBuffer) IsEmpty() bool {
	return f.read == f.write
}

// Reset clears the buffer
func (f *LineBuffer) Reset() {
	f.read = 0
	f.write = 0
}
