package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeongseonghan/audio-modem/internal/protocol"
)

// ErrNotComplete is returned by Assemble when no METADATA frame has
// been applied yet.
var ErrNotComplete = errors.New("stream: assembler not complete")

// ChunkStore is the host-supplied persistence contract for received
// chunk bytes (spec §6): durable, ordered per seq, no iteration
// contract. internal/store provides a disk-backed implementation; the
// MemoryChunkStore below is the in-core default.
type ChunkStore interface {
	Put(seq uint32, data []byte) error
	Get(seq uint32) ([]byte, error)
	Clear() error
}

// MemoryChunkStore is a non-durable ChunkStore good enough for tests
// and for sessions that don't need crash recovery.
type MemoryChunkStore struct {
	mu    sync.Mutex
	chunk map[uint32][]byte
}

// NewMemoryChunkStore creates an empty in-memory chunk store.
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{chunk: make(map[uint32][]byte)}
}

func (m *MemoryChunkStore) Put(seq uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.chunk[seq] = buf
	return nil
}

func (m *MemoryChunkStore) Get(seq uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.chunk[seq]
	if !ok {
		return nil, fmt.Errorf("stream: no chunk stored for seq %d", seq)
	}
	return data, nil
}

func (m *MemoryChunkStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunk = make(map[uint32][]byte)
	return nil
}

// ChunkAssembler reassembles a file from METADATA and DATA_CHUNK
// frames delivered in arbitrary order, with duplicate suppression and
// a running CRC-error count (spec §3, §4.I).
type ChunkAssembler struct {
	mu            sync.Mutex
	store         ChunkStore
	haveMeta      bool
	totalChunks   uint32
	totalFileSize uint32
	name          string
	bitmap        []byte
	receivedCount uint32
	crcErrors     int
	chunkSize     uint16
}

// NewChunkAssembler creates an assembler backed by store. store is
// cleared the first time HandleMetadata succeeds, not at construction,
// so a freshly created assembler never clobbers a store still serving
// a prior, unrelated transfer.
func NewChunkAssembler(store ChunkStore) *ChunkAssembler {
	if store == nil {
		store = NewMemoryChunkStore()
	}
	return &ChunkAssembler{store: store}
}

// HandleMetadata starts (or restarts) assembly from a decoded METADATA
// frame. A CRC-invalid metadata frame is ignored: there is nothing
// trustworthy to reset the assembler with.
func (a *ChunkAssembler) HandleMetadata(meta *protocol.ChunkMetadata) error {
	if !meta.CRCValid {
		return nil
	}
	if meta.TotalChunks == 0 {
		return protocol.ErrZeroChunks
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("clear chunk store: %w", err)
	}
	a.haveMeta = true
	a.totalChunks = meta.TotalChunks
	a.totalFileSize = meta.TotalFileSize
	a.name = meta.Name
	a.chunkSize = meta.ChunkSize
	a.bitmap = make([]byte, (meta.TotalChunks+7)/8)
	a.receivedCount = 0
	a.crcErrors = 0
	return nil
}

// ChunkSize returns the per-chunk payload size from the active
// metadata, or 0 if no metadata has been applied yet.
func (a *ChunkAssembler) ChunkSize() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunkSize
}

// haveMetaLocked reports whether metadata has been applied yet.
func (a *ChunkAssembler) haveMetaLocked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.haveMeta
}

// HandleDataChunk applies a decoded DATA_CHUNK frame. A CRC failure is
// counted and discarded (never stored). A chunk whose seqNum is out of
// range, or already marked received, is a silent no-op — this is what
// makes a retransmitted chunk idempotent (spec §5(iv), §8 invariant 6).
func (a *ChunkAssembler) HandleDataChunk(chunk *protocol.DataChunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !chunk.CRCValid {
		a.crcErrors++
		return nil
	}
	if !a.haveMeta || chunk.SeqNum >= a.totalChunks {
		return nil
	}
	if a.bitSet(chunk.SeqNum) {
		return nil
	}

	if err := a.store.Put(chunk.SeqNum, chunk.Data); err != nil {
		return fmt.Errorf("store chunk %d: %w", chunk.SeqNum, err)
	}
	a.setBit(chunk.SeqNum)
	a.receivedCount++
	return nil
}

func (a *ChunkAssembler) bitSet(seq uint32) bool {
	return a.bitmap[seq/8]&(1<<(seq%8)) != 0
}

func (a *ChunkAssembler) setBit(seq uint32) {
	a.bitmap[seq/8] |= 1 << (seq % 8)
}

// Complete reports whether every chunk named by the current metadata
// has been received and passed CRC.
func (a *ChunkAssembler) Complete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.haveMeta && a.receivedCount == a.totalChunks
}

// ReceivedCount, TotalChunks and CRCErrors report assembler progress.
func (a *ChunkAssembler) ReceivedCount() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.receivedCount
}
func (a *ChunkAssembler) TotalChunks() uint32 { a.mu.Lock(); defer a.mu.Unlock(); return a.totalChunks }
func (a *ChunkAssembler) CRCErrors() int      { a.mu.Lock(); defer a.mu.Unlock(); return a.crcErrors }
func (a *ChunkAssembler) Name() string        { a.mu.Lock(); defer a.mu.Unlock(); return a.name }

// Missing returns the seqNums not yet received, for a Partial result
// (spec §7).
func (a *ChunkAssembler) Missing() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var missing []uint32
	for seq := uint32(0); seq < a.totalChunks; seq++ {
		if !a.bitSet(seq) {
			missing = append(missing, seq)
		}
	}
	return missing
}

// Assemble concatenates chunks in ascending seqNum order and truncates
// the result to totalFileSize. It is valid to call before Complete for
// a best-effort Partial assembly (spec §7); missing chunks are simply
// skipped, so the chunks after a missing one move up to close the hole.
func (a *ChunkAssembler) Assemble() ([]byte, error) {
	a.mu.Lock()
	if !a.haveMeta {
		a.mu.Unlock()
		return nil, ErrNotComplete
	}
	total, size := a.totalChunks, a.totalFileSize
	present := make([]bool, total)
	for seq := uint32(0); seq < total; seq++ {
		present[seq] = a.bitSet(seq)
	}
	a.mu.Unlock()

	var out []byte
	for seq := uint32(0); seq < total; seq++ {
		if !present[seq] {
			continue
		}
		data, err := a.store.Get(seq)
		if err != nil {
			return nil, fmt.Errorf("assemble: %w", err)
		}
		out = append(out, data...)
	}
	if uint32(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}
