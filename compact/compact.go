// Package compact implements the run-length scheme used to shrink frame
// buffers before they are uploaded to the device
package compact

import (
	"errors"
	"fmt"
)

var (
	ErrUnalignedValue = errors.New("compact: value has bits set in the count byte")
	ErrInvalidRun     = errors.New("compact: invalid run")
)

// Packed run words carry the repeat count in their low byte, which is free
// because colors are stored shifted left by eight bits.
const (
	CountMask = 0xFF
	MaxCount  = CountMask
)

// Run is a maximal stretch of identical values
type Run struct {
	Value uint32
	Count int
}

// Frame is a compacted sequence of runs
type Frame []Run

// Compact collapses seq into maximal runs in a single pass
func Compact(seq []uint32) Frame {
	if len(seq) == 0 {
		return nil
	}
	runs := Frame{{Value: seq[0], Count: 1}}
	for _, v := range seq[1:] {
		last := &runs[len(runs)-1]
		if v == last.Value {
			last.Count++
			continue
		}
		runs = append(runs, Run{Value: v, Count: 1})
	}
	return runs
}

// Expand reproduces the original sequence
func Expand(f Frame) []uint32 {
	out := make([]uint32, 0, f.Len())
	for _, r := range f {
		for i := 0; i < r.Count; i++ {
			out = append(out, r.Value)
		}
	}
	return out
}

// Len returns the length of the expanded sequence
func (f Frame) Len() int {
	n := 0
	for _, r := range f {
		n += r.Count
	}
	return n
}

// Validate checks that every run is non-empty and runs are maximal
func (f Frame) Validate() error {
	for i, r := range f {
		if r.Count < 1 {
			return fmt.Errorf("%w: run %d has count %d", ErrInvalidRun, i, r.Count)
		}
		if i > 0 && f[i-1].Value == r.Value {
			return fmt.Errorf("%w: runs %d and %d share value 0x%08X", ErrInvalidRun, i-1, i, r.Value)
		}
	}
	return nil
}

// Pack encodes runs as device words (value | count). Runs longer than
// MaxCount continue in further words with the same value.
func Pack(f Frame) ([]uint32, error) {
	words := make([]uint32, 0, len(f))
	for i, r := range f {
		if r.Value&CountMask != 0 {
			return nil, fmt.Errorf("%w: run %d value 0x%08X", ErrUnalignedValue, i, r.Value)
		}
		if r.Count < 1 {
			return nil, fmt.Errorf("%w: run %d has count %d", ErrInvalidRun, i, r.Count)
		}
		for left := r.Count; left > 0; left -= MaxCount {
			n := left
			if n > MaxCount {
				n = MaxCount
			}
			words = append(words, r.Value|uint32(n))
		}
	}
	return words, nil
}

// Unpack decodes device words back into maximal runs
func Unpack(words []uint32) (Frame, error) {
	var runs Frame
	for i, w := range words {
		n := int(w & CountMask)
		if n == 0 {
			return nil, fmt.Errorf("%w: word %d has zero count", ErrInvalidRun, i)
		}
		v := w &^ CountMask
		if len(runs) > 0 && runs[len(runs)-1].Value == v {
			runs[len(runs)-1].Count += n
			continue
		}
		runs = append(runs, Run{Value: v, Count: n})
	}
	return runs, nil
}
