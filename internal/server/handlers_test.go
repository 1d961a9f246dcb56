package server

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeongseonghan/audio-modem/internal/protocol"
	"github.com/jeongseonghan/audio-modem/internal/stream"
)

func TestStatusForErr(t *testing.T) {
	if got := statusForErr(protocol.ErrCancelled); got != "aborted" {
		t.Errorf("statusForErr(ErrCancelled) = %q, want %q", got, "aborted")
	}
	wrapped := errors.New("receive: " + protocol.ErrCancelled.Error())
	if got := statusForErr(wrapped); got != "error" {
		t.Errorf("statusForErr(unwrapped lookalike) = %q, want %q (must use errors.Is, not string match)", got, "error")
	}
	if got := statusForErr(protocol.ErrTimeout); got != "error" {
		t.Errorf("statusForErr(ErrTimeout) = %q, want %q", got, "error")
	}
}

func TestReportStreamingStop_NoMetadata(t *testing.T) {
	assembler := stream.NewChunkAssembler(nil)
	hub := NewWSHub()
	dir := t.TempDir()

	reportStreamingStop(hub, assembler, dir)
	// No metadata ever arrived: nothing to assemble, no partial file.
}

func TestReportStreamingStop_PartialWritesFile(t *testing.T) {
	assembler := stream.NewChunkAssembler(nil)
	if err := assembler.HandleMetadata(&protocol.ChunkMetadata{
		Name:          "test.bin",
		TotalChunks:   2,
		TotalFileSize: 8,
		CRCValid:      true,
	}); err != nil {
		t.Fatalf("HandleMetadata: %v", err)
	}
	if err := assembler.HandleDataChunk(&protocol.DataChunk{
		SeqNum:   0,
		Data:     []byte{1, 2, 3, 4},
		CRCValid: true,
	}); err != nil {
		t.Fatalf("HandleDataChunk: %v", err)
	}

	hub := NewWSHub()
	dir := t.TempDir()
	reportStreamingStop(hub, assembler, dir)

	if assembler.Complete() {
		t.Fatal("assembler should not be complete with a missing chunk")
	}
	missing := assembler.Missing()
	if len(missing) != 1 || missing[0] != 1 {
		t.Errorf("Missing() = %v, want [1]", missing)
	}
	got, err := os.ReadFile(filepath.Join(dir, "test.bin.partial"))
	if err != nil {
		t.Fatalf("partial file not written: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("partial file = %v, want [1 2 3 4]", got)
	}
}

func TestReportStreamingStop_NoOpWhenComplete(t *testing.T) {
	assembler := stream.NewChunkAssembler(nil)
	if err := assembler.HandleMetadata(&protocol.ChunkMetadata{
		Name:          "test.bin",
		TotalChunks:   1,
		TotalFileSize: 4,
		CRCValid:      true,
	}); err != nil {
		t.Fatalf("HandleMetadata: %v", err)
	}
	if err := assembler.HandleDataChunk(&protocol.DataChunk{
		SeqNum:   0,
		Data:     []byte{1, 2, 3, 4},
		CRCValid: true,
	}); err != nil {
		t.Fatalf("HandleDataChunk: %v", err)
	}
	if !assembler.Complete() {
		t.Fatal("assembler should be complete after its only chunk arrives")
	}

	hub := NewWSHub()
	dir := t.TempDir()
	reportStreamingStop(hub, assembler, dir) // should be a no-op, not error
}
