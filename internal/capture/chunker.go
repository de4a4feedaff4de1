package capture

import (
	"fmt"
	"sync"

	"github.com/jotlabs/jot-core/internal/config"
)

// Capture modes. Batch accumulates everything until Flush; stream emits a
// chunk every time the buffer reaches the configured byte threshold.
const (
	ModeBatch  = "batch"
	ModeStream = "stream"
)

// Chunker collects capture-side PCM bytes and hands fixed-boundary chunks to
// a sink. Emission runs on one dedicated goroutine, so chunk boundaries are
// deterministic no matter how the audio callbacks are scheduled.
type Chunker struct {
	mode      string
	threshold int
	sink      func([]byte)
	ch        chan []byte
	wg        sync.WaitGroup

	mu     sync.Mutex
	buf    []byte
	closed bool
}

func NewChunker(cfg config.CaptureConfig, sink func([]byte)) *Chunker {
	c := &Chunker{
		mode:      cfg.Mode,
		threshold: cfg.ChunkBytes,
		sink:      sink,
		ch:        make(chan []byte, cfg.QueueDepth),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Chunker) run() {
	defer c.wg.Done()
	for chunk := range c.ch {
		c.sink(chunk)
	}
}

// Write appends captured bytes. In stream mode every full threshold's worth
// of buffered audio is emitted immediately; the remainder stays pending.
func (c *Chunker) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("chunker closed")
	}
	c.buf = append(c.buf, p...)
	if c.mode != ModeStream {
		return nil
	}
	for len(c.buf) >= c.threshold {
		chunk := make([]byte, c.threshold)
		copy(chunk, c.buf[:c.threshold])
		c.buf = c.buf[c.threshold:]
		c.ch <- chunk
	}
	return nil
}

// Flush emits any pending bytes as one final, possibly short, chunk.
func (c *Chunker) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("chunker closed")
	}
	if len(c.buf) == 0 {
		return nil
	}
	chunk := make([]byte, len(c.buf))
	copy(chunk, c.buf)
	c.buf = c.buf[:0]
	c.ch <- chunk
	return nil
}

// Pending reports bytes buffered but not yet emitted.
func (c *Chunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Close stops the emission goroutine after delivering queued chunks.
// Pending bytes that were never flushed are dropped.
func (c *Chunker) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()
	c.wg.Wait()
}
