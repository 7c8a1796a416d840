// Package chunker buffers captured media fragments between flush ticks and
// emits them as ordered, indexed chunks.
package chunker

import "sync"

// Chunk is one flushed segment of a recording.
type Chunk struct {
	// Index starts at 1 and increases by one per emitted chunk.
	Index  int
	Data   []byte
	IsLast bool
}

// Len returns the payload size in bytes.
func (c Chunk) Len() int { return len(c.Data) }

// Accumulator collects fragments until the next flush. It is safe for use by
// one capture goroutine appending while a driver goroutine flushes.
type Accumulator struct {
	mu      sync.Mutex
	buf     []byte
	next    int
	emitted int64
	closed  bool
}

// New returns an empty accumulator whose first chunk has index 1.
func New() *Accumulator {
	return &Accumulator{next: 1}
}

// Append buffers a copy of fragment. Appends after FlushLast or Discard are
// dropped.
func (a *Accumulator) Append(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.buf = append(a.buf, fragment...)
}

// Flush returns the buffered bytes as the next chunk and clears the buffer.
// An empty buffer yields no chunk.
func (a *Accumulator) Flush() (Chunk, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || len(a.buf) == 0 {
		return Chunk{}, false
	}
	return a.take(false), true
}

// FlushLast drains whatever is buffered as the final chunk and closes the
// accumulator. The chunk may be empty when nothing arrived since the last
// flush; callers still need it to finalize the upload. A second call returns
// false.
func (a *Accumulator) FlushLast() (Chunk, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Chunk{}, false
	}
	chunk := a.take(true)
	a.closed = true
	return chunk, true
}

// Discard drops buffered bytes and closes the accumulator. It returns the
// number of bytes dropped.
func (a *Accumulator) Discard() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.buf)
	a.buf = nil
	a.closed = true
	return n
}

// Buffered reports the number of bytes waiting for the next flush.
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Emitted reports the total bytes handed out in chunks so far.
func (a *Accumulator) Emitted() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emitted
}

func (a *Accumulator) take(last bool) Chunk {
	data := a.buf
	a.buf = nil
	if data == nil {
		data = []byte{}
	}
	chunk := Chunk{Index: a.next, Data: data, IsLast: last}
	a.next++
	a.emitted += int64(len(data))
	return chunk
}
