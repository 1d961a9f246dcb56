package protocol

import "errors"

// Sentinel errors callers can compare against with errors.Is, wrapped
// at each call site with fmt.Errorf("...: %w", Err...) in the teacher's
// existing style.
var (
	ErrFrameTooShort    = errors.New("protocol: frame shorter than header+CRC")
	ErrFrameTruncated   = errors.New("protocol: frame truncated")
	ErrCrcMismatch      = errors.New("protocol: CRC mismatch")
	ErrTimeout          = errors.New("protocol: timed out waiting for frame")
	ErrUnexpectedType   = errors.New("protocol: unexpected frame type")
	ErrRetriesExhausted = errors.New("protocol: retries exhausted")

	// ErrCancelled is returned by a Transport's blocking operations when
	// Cancel is called while they are waiting on the receiver (spec §7
	// Cancelled, user stop).
	ErrCancelled = errors.New("protocol: cancelled")
)
