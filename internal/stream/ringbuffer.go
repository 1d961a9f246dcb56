// Package stream implements the streaming chunked-file protocol: a
// ring buffer fed by audio capture, a scanner that hunts preambles and
// demodulates frames out of it, and a chunk assembler that turns a
// sequence of decoded frames back into a file (spec §3, §4.I).
package stream

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOverrun is returned by RingBuffer.Read when the requested range
// has already been overwritten by newer samples.
var ErrOverrun = errors.New("stream: requested range overwritten")

// RingBuffer is the single-producer/single-consumer sample buffer
// between the audio callback and the scanner (spec §5). It answers
// "give me L samples starting at global position p" addressed by the
// monotonic counter TotalWritten, rather than by a rotating index, so
// the scanner can hold onto positions across calls without tracking
// buffer wraparound itself.
type RingBuffer struct {
	mu           sync.Mutex
	buf          []float64
	totalWritten int64
}

// NewRingBuffer creates a ring buffer with the given sample capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float64, capacity)}
}

// Write appends samples in capture order. Never mutates samples
// already delivered to a reader; older samples are simply overwritten
// once the buffer wraps.
func (r *RingBuffer) Write(samples []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.buf))
	for _, s := range samples {
		r.buf[r.totalWritten%n] = s
		r.totalWritten++
	}
}

// TotalWritten returns the monotonic count of samples ever written.
func (r *RingBuffer) TotalWritten() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalWritten
}

// Capacity returns the number of samples the ring retains before
// overwriting, i.e. the widest range a Read can still succeed over.
func (r *RingBuffer) Capacity() int64 {
	return int64(len(r.buf))
}

// Read returns the l samples starting at absolute position p. It
// fails with ErrOverrun if any part of the requested range predates
// the retained window or hasn't been written yet.
func (r *RingBuffer) Read(p int64, l int) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p < 0 || l < 0 {
		return nil, fmt.Errorf("stream: invalid range [%d, %d)", p, p+int64(l))
	}
	end := p + int64(l)
	if end > r.totalWritten {
		return nil, fmt.Errorf("%w: end %d not yet written (have %d)", ErrOverrun, end, r.totalWritten)
	}
	capacity := int64(len(r.buf))
	if p < r.totalWritten-capacity {
		return nil, fmt.Errorf("%w: position %d predates retained window", ErrOverrun, p)
	}

	out := make([]float64, l)
	for i := 0; i < l; i++ {
		out[i] = r.buf[(p+int64(i))%capacity]
	}
	return out, nil
}
