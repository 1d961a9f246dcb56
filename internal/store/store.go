// Package store implements the host chunk_store collaborator (spec
// §6): a durable, per-seqNum chunk store with no iteration contract.
// DiskChunkStore is the disk-backed implementation the server front
// end uses so received chunks survive a restart mid-transfer; chunk
// payloads are zstd-compressed before they hit disk, grounded on the
// same encoder the teacher's wider example pack uses for its own
// binary payload stream (madpsy-ka9q_ubersdr's pcm_binary.go).
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrStoreError wraps any disk/zstd failure in Put/Get/Clear/Close, the
// one error kind spec §7 groups as chunk persistence failure.
var ErrStoreError = errors.New("store: chunk persistence failure")

// DiskChunkStore persists chunk bytes to one file per seqNum under a
// session directory, compressed with zstd. It satisfies
// stream.ChunkStore.
type DiskChunkStore struct {
	mu  sync.Mutex
	dir string

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewDiskChunkStore creates a store rooted at dir, creating it if
// necessary. The zstd encoder/decoder pair is held for the store's
// lifetime rather than built per call, matching the pooled-encoder
// idiom the pack uses for its own zstd traffic.
func NewDiskChunkStore(dir string) (*DiskChunkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("store: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("store: new zstd decoder: %w", err)
	}
	return &DiskChunkStore{dir: dir, enc: enc, dec: dec}, nil
}

func (s *DiskChunkStore) path(seq uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("chunk-%08x.zst", seq))
}

// Put durably stores data under seq, compressing it with zstd first.
func (s *DiskChunkStore) Put(seq uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	compressed := s.enc.EncodeAll(data, make([]byte, 0, len(data)))
	tmp := s.path(seq) + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("%w: write %d: %w", ErrStoreError, seq, err)
	}
	if err := os.Rename(tmp, s.path(seq)); err != nil {
		return fmt.Errorf("%w: commit %d: %w", ErrStoreError, seq, err)
	}
	return nil
}

// Get reads back the chunk stored under seq.
func (s *DiskChunkStore) Get(seq uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	compressed, err := os.ReadFile(s.path(seq))
	if err != nil {
		return nil, fmt.Errorf("%w: read %d: %w", ErrStoreError, seq, err)
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %d: %w", ErrStoreError, seq, err)
	}
	return data, nil
}

// Clear removes every chunk file in the store's directory, leaving the
// directory itself in place for the next transfer.
func (s *DiskChunkStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: readdir %s: %w", ErrStoreError, s.dir, err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".zst" {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("%w: remove %s: %w", ErrStoreError, e.Name(), err)
		}
	}
	return nil
}

// Close releases the store's zstd encoder/decoder.
func (s *DiskChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Close(); err != nil {
		s.dec.Close()
		return fmt.Errorf("%w: close encoder: %w", ErrStoreError, err)
	}
	s.dec.Close()
	return nil
}
