package store

import (
	"bytes"
	"errors"
	"testing"
)

func TestDiskChunkStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskChunkStore(dir)
	if err != nil {
		t.Fatalf("NewDiskChunkStore: %v", err)
	}
	defer s.Close()

	data := []byte("this is some chunk of file data")
	if err := s.Put(3, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func TestDiskChunkStore_Clear(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskChunkStore(dir)
	if err != nil {
		t.Fatalf("NewDiskChunkStore: %v", err)
	}
	defer s.Close()

	for seq := uint32(0); seq < 3; seq++ {
		if err := s.Put(seq, []byte{byte(seq)}); err != nil {
			t.Fatalf("Put(%d): %v", seq, err)
		}
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, err := s.Get(0); err == nil {
		t.Error("Get after Clear should fail")
	}
}

func TestDiskChunkStore_MissingChunk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskChunkStore(dir)
	if err != nil {
		t.Fatalf("NewDiskChunkStore: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(99); err == nil {
		t.Error("Get for a never-stored seq should fail")
	} else if !errors.Is(err, ErrStoreError) {
		t.Errorf("Get error = %v, want wrapped ErrStoreError", err)
	}
}
