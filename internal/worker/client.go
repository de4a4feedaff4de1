package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jotlabs/jot-core/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrTimeout means no matching response arrived within the deadline.
	// The worker is left running; it may still complete the work and emit
	// a late response, which is then dropped as an orphan.
	ErrTimeout = errors.New("call timed out")
	// ErrDecode means the output stream produced a line that did not parse
	// as a response, or closed while calls were waiting. Callers should
	// treat the worker as suspect and may restart it via Stop+EnsureStarted.
	ErrDecode = errors.New("response decode failed")
)

// transport is the slice of Manager the correlator needs; tests substitute
// in-memory pipes.
type transport interface {
	EnsureStarted() error
	Generation() uint64
	Stdin() io.Writer
	Stdout() io.Reader
}

type callResult struct {
	resp protocol.Response
	err  error
}

// Client turns the worker's asynchronous response stream into a synchronous
// call contract. Responses are demultiplexed to waiters by request id, so
// concurrent calls are safe; a response whose id matches no waiter is logged
// and dropped.
type Client struct {
	conn transport
	log  *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan callResult
	readerGen  uint64
	readerLive bool

	meter        metric.Meter
	callCounter  metric.Int64Counter
	timeoutCount metric.Int64Counter
	orphanCount  metric.Int64Counter
	decodeCount  metric.Int64Counter
}

func NewClient(conn transport, log *slog.Logger) *Client {
	c := &Client{
		conn:    conn,
		log:     log.With(slog.String("component", "correlator")),
		pending: make(map[string]chan callResult),
		meter:   otel.Meter("github.com/jotlabs/jot-core/worker"),
	}
	if err := c.initMetrics(); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return c
}

func (c *Client) initMetrics() error {
	var err error
	if c.callCounter, err = c.meter.Int64Counter("jot.worker.calls",
		metric.WithDescription("Requests written to the worker")); err != nil {
		return err
	}
	if c.timeoutCount, err = c.meter.Int64Counter("jot.worker.timeouts",
		metric.WithDescription("Calls that gave up waiting for a response")); err != nil {
		return err
	}
	if c.orphanCount, err = c.meter.Int64Counter("jot.worker.orphans",
		metric.WithDescription("Responses whose id matched no waiting call")); err != nil {
		return err
	}
	c.decodeCount, err = c.meter.Int64Counter("jot.worker.decode_errors",
		metric.WithDescription("Output lines that failed to decode"))
	return err
}

// Call writes one request and blocks until the matching response arrives,
// the timeout elapses, or ctx is cancelled. A timed-out call does not kill
// the worker and does not disturb later calls with fresh ids.
func (c *Client) Call(ctx context.Context, method string, params map[string]string, timeout time.Duration) (protocol.Response, error) {
	if err := c.conn.EnsureStarted(); err != nil {
		return protocol.Response{}, err
	}
	if err := c.ensureReader(); err != nil {
		return protocol.Response{}, err
	}

	req := protocol.Request{
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}
	line, err := protocol.EncodeLine(req)
	if err != nil {
		return protocol.Response{}, err
	}

	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(line); err != nil {
		c.unregister(req.ID)
		return protocol.Response{}, fmt.Errorf("write request: %w", err)
	}
	c.addCount(ctx, c.callCounter, method)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			return protocol.Response{}, res.err
		}
		return res.resp, nil
	case <-ctx.Done():
		c.unregister(req.ID)
		c.addCount(context.Background(), c.timeoutCount, method)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Response{}, fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
		}
		return protocol.Response{}, ctx.Err()
	}
}

// Ping checks worker liveness.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) (protocol.PingResult, error) {
	resp, err := c.Call(ctx, protocol.MethodPing, nil, timeout)
	if err != nil {
		return protocol.PingResult{}, err
	}
	if err := resp.Err(); err != nil {
		return protocol.PingResult{}, err
	}
	var result protocol.PingResult
	if err := protocol.DecodeResult(resp.Result, &result); err != nil {
		return protocol.PingResult{}, err
	}
	return result, nil
}

// Capabilities fetches the worker's implementation-defined capability map.
func (c *Client) Capabilities(ctx context.Context, timeout time.Duration) (map[string]string, error) {
	resp, err := c.Call(ctx, protocol.MethodCapabilities, nil, timeout)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	result := make(map[string]string)
	if err := protocol.DecodeResult(resp.Result, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) write(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	w := c.conn.Stdin()
	if w == nil {
		return fmt.Errorf("worker not running")
	}
	_, err := w.Write(line)
	return err
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) ensureReader() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.conn.Generation()
	if c.readerLive && c.readerGen == gen {
		return nil
	}
	r := c.conn.Stdout()
	if r == nil {
		return fmt.Errorf("worker output stream unavailable")
	}
	c.readerGen = gen
	c.readerLive = true
	go c.readLoop(gen, r)
	return nil
}

func (c *Client) readLoop(gen uint64, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := protocol.DecodeResponse(line)
		if err != nil {
			c.addCount(context.Background(), c.decodeCount, "")
			c.log.Warn("undecodable worker line", slog.String("error", err.Error()))
			c.failPending(fmt.Errorf("%w: %v", ErrDecode, err))
			continue
		}
		c.deliver(resp)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	if c.readerGen == gen {
		c.readerLive = false
	}
	c.mu.Unlock()
	c.failPending(fmt.Errorf("%w: worker output closed: %v", ErrDecode, err))
}

func (c *Client) deliver(resp protocol.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late response for a timed-out or unknown call.
		c.addCount(context.Background(), c.orphanCount, "")
		c.log.Warn("orphaned worker response dropped", slog.String("id", resp.ID))
		return
	}
	ch <- callResult{resp: resp}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan callResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

func (c *Client) addCount(ctx context.Context, counter metric.Int64Counter, method string) {
	if counter == nil {
		return
	}
	if method == "" {
		counter.Add(ctx, 1)
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
