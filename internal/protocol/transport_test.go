package protocol

import (
	"errors"
	"testing"
	"time"
)

// blockingReceiver never returns until unblock is closed, simulating a
// FrameReceiver parked on an audio read with no frame arriving.
func blockingReceiver(unblock <-chan struct{}) FrameReceiver {
	return func(timeout time.Duration) (*Frame, error) {
		<-unblock
		return nil, ErrTimeout
	}
}

func TestTransport_ReceiveFrame_Cancel(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	transport := NewTransport(func(*Frame) error { return nil }, blockingReceiver(unblock))

	done := make(chan error, 1)
	go func() {
		_, err := transport.ReceiveFrame(time.Hour)
		done <- err
	}()

	transport.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("ReceiveFrame error = %v, want wrapped ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReceiveFrame did not return after Cancel")
	}
}

func TestTransport_WaitForHandshake_Cancel(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	transport := NewTransport(func(*Frame) error { return nil }, blockingReceiver(unblock))

	done := make(chan error, 1)
	go func() {
		done <- transport.WaitForHandshake(time.Hour)
	}()

	transport.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("WaitForHandshake error = %v, want wrapped ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForHandshake did not return after Cancel")
	}
}

func TestTransport_Cancel_Idempotent(t *testing.T) {
	transport := NewTransport(func(*Frame) error { return nil }, func(time.Duration) (*Frame, error) {
		return nil, ErrTimeout
	})

	transport.Cancel()
	transport.Cancel() // must not panic on a second close
}

func TestTransport_Reset_AllowsReuseAfterCancel(t *testing.T) {
	transport := NewTransport(func(*Frame) error { return nil }, func(time.Duration) (*Frame, error) {
		return NewPongFrame(), nil
	})

	transport.Cancel()
	transport.Reset()

	if _, err := transport.receiveOrCancel(time.Second); err != nil {
		t.Errorf("receiveOrCancel after Reset = %v, want nil (cancellation cleared)", err)
	}
}
