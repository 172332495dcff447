package protocol

// Leading words of the bulk commands, ahead of their data block
const (
	FileSetHeaderWords       = 3 // file id, start location, update flag
	MultiColorSetHeaderWords = 2 // frame index, starting led

	FileChunkWords       = MaxPayloadWords - FileSetHeaderWords
	MultiColorChunkWords = MaxPayloadWords - MultiColorSetHeaderWords
)

// Split partitions seq into consecutive chunks of at most max items.
// An empty sequence yields no chunks. The chunks share seq's backing array.
func Split[T any](seq []T, max int) [][]T {
	if max <= 0 {
		panic("protocol: chunk size must be positive")
	}
	if len(seq) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(seq)+max-1)/max)
	for start := 0; start < len(seq); start += max {
		end := start + max
		if end > len(seq) {
			end = len(seq)
		}
		chunks = append(chunks, seq[start:end:end])
	}
	return chunks
}
