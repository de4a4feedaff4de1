package capture

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jotlabs/jot-core/internal/config"
)

type chunkRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (r *chunkRecorder) sink(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
}

func (r *chunkRecorder) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.chunks))
	for i, c := range r.chunks {
		out[i] = len(c)
	}
	return out
}

func streamConfig(chunkBytes int) config.CaptureConfig {
	return config.CaptureConfig{Mode: ModeStream, ChunkBytes: chunkBytes, QueueDepth: 8}
}

func TestStreamChunkBoundaries(t *testing.T) {
	rec := &chunkRecorder{}
	c := NewChunker(streamConfig(16000), rec.sink)

	if err := c.Write(make([]byte, 31999)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := c.Pending(); got != 15999 {
		t.Fatalf("pending after 31999 bytes = %d, want 15999", got)
	}
	if err := c.Write(make([]byte, 1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := c.Pending(); got != 0 {
		t.Fatalf("pending after boundary byte = %d, want 0", got)
	}
	if err := c.Write(make([]byte, 1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Close()

	sizes := rec.sizes()
	if len(sizes) != 2 || sizes[0] != 16000 || sizes[1] != 16000 {
		t.Fatalf("chunk sizes = %v, want [16000 16000]", sizes)
	}
}

func TestStreamFlushEmitsShortChunk(t *testing.T) {
	rec := &chunkRecorder{}
	c := NewChunker(streamConfig(16000), rec.sink)

	if err := c.Write(make([]byte, 100)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
	c.Close()

	sizes := rec.sizes()
	if len(sizes) != 1 || sizes[0] != 100 {
		t.Fatalf("chunk sizes = %v, want [100]", sizes)
	}
	if got := c.Pending(); got != 0 {
		t.Fatalf("pending after flush = %d, want 0", got)
	}
}

func TestBatchModeAccumulatesUntilFlush(t *testing.T) {
	rec := &chunkRecorder{}
	c := NewChunker(config.CaptureConfig{Mode: ModeBatch, ChunkBytes: 16, QueueDepth: 8}, rec.sink)

	for i := 0; i < 5; i++ {
		if err := c.Write(make([]byte, 100)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := c.Pending(); got != 500 {
		t.Fatalf("pending = %d, want 500", got)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	c.Close()

	sizes := rec.sizes()
	if len(sizes) != 1 || sizes[0] != 500 {
		t.Fatalf("chunk sizes = %v, want [500]", sizes)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	c := NewChunker(streamConfig(16), func([]byte) {})
	c.Close()
	c.Close()
	if err := c.Write([]byte{1}); err == nil {
		t.Fatal("expected write after close to fail")
	}
	if err := c.Flush(); err == nil {
		t.Fatal("expected flush after close to fail")
	}
}

func TestChunkContentsPreserved(t *testing.T) {
	rec := &chunkRecorder{}
	c := NewChunker(streamConfig(4), rec.sink)

	if err := c.Write([]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	c.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(rec.chunks))
	}
	if !bytes.Equal(rec.chunks[0], []byte{1, 2, 3, 4}) {
		t.Fatalf("first chunk = %v", rec.chunks[0])
	}
	if !bytes.Equal(rec.chunks[1], []byte{5, 6}) {
		t.Fatalf("second chunk = %v", rec.chunks[1])
	}
}

func TestWavRoundTrip(t *testing.T) {
	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "capture.wav")
	if err := DumpWAV(path, pcm, 16000, 1); err != nil {
		t.Fatalf("dump wav: %v", err)
	}

	got, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatal("pcm bytes changed across wav round trip")
	}
}

func TestDumpWAVRejectsUnalignedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := DumpWAV(path, []byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected unaligned payload to be rejected")
	}
}
