package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrChannelClosed = errors.New("channel closed")

// Conn is one live duplex connection carrying operations.
type Conn interface {
	WriteOperation(ctx context.Context, op Operation) error
	ReadOperation(ctx context.Context) (Operation, error)
	Close() error
}

// Dialer opens a new Conn. Channel calls it again after every disconnect.
type Dialer func(ctx context.Context) (Conn, error)

const (
	DefaultMinBackoff = 100 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
	inboundBuffer     = 256
)

// Channel is the client side of the transport. Outbound operations are
// queued and written in order while connected; a dropped connection is
// redialled with capped exponential backoff, the queue flushed, and a
// resync requested so the server answers with its full state.
type Channel struct {
	session    *Session
	dial       Dialer
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.Mutex
	queue   []Operation
	closed  bool
	started bool

	wake    chan struct{}
	inbound chan Operation
}

type ChannelOption func(*Channel)

func WithBackoff(lo, hi time.Duration) ChannelOption {
	return func(c *Channel) { c.minBackoff, c.maxBackoff = lo, hi }
}

func NewChannel(s *Session, dial Dialer, opts ...ChannelOption) *Channel {
	c := &Channel{
		session:    s,
		dial:       dial,
		logger:     s.logger,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		wake:       make(chan struct{}, 1),
		inbound:    make(chan Operation, inboundBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Inbound is the stream of received operations, closed when Run returns.
func (c *Channel) Inbound() <-chan Operation { return c.inbound }

// Send tags op with the session id and queues it. It never blocks on the
// network; operations sent while disconnected go out after reconnecting.
func (c *Channel) Send(op Operation) error {
	op.SessionID = c.session.ID
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	// the head may be mid-write, so it is never replaced
	if n := len(c.queue); n > 1 && coalesces(c.queue[n-1], op) {
		c.queue[n-1] = op
	} else {
		c.queue = append(c.queue, op)
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// coalesces reports whether next makes queued redundant: both are
// lightweight position updates of the same cell.
func coalesces(queued, next Operation) bool {
	if queued.Type != OpUpdatePosition || next.Type != OpUpdatePosition || queued.CellID != next.CellID {
		return false
	}
	a, err1 := queued.DecodePosition()
	b, err2 := next.DecodePosition()
	return err1 == nil && err2 == nil && !a.Final && !b.Final
}

// Pending is the number of operations not yet written.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) peek() (Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Operation{}, false
	}
	return c.queue[0], true
}

func (c *Channel) pop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		c.queue = c.queue[1:]
	}
}

func (c *Channel) backoff(attempt int) time.Duration {
	d := c.minBackoff
	for i := 0; i < attempt && d < c.maxBackoff; i++ {
		d *= 2
	}
	return min(d, c.maxBackoff)
}

// Run owns the connection until ctx is done. It may only be called once.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("channel for session %s already started", c.session.ID)
	}
	c.started = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.inbound)
		c.session.SetState(Disconnected)
	}()

	connected := false
	attempt := 0
	for {
		c.session.SetState(Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := c.backoff(attempt)
			attempt++
			c.logger.Warn("Dial failed, retrying", "sessionId", c.session.ID, "attempt", attempt, "wait", wait, "error", err)
			c.session.SetState(Disconnected)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		c.session.SetState(Connected)

		err = c.serve(ctx, conn, connected)
		connected = true
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.session.SetState(Disconnected)
		c.logger.Info("Connection lost, reconnecting", "sessionId", c.session.ID, "pending", c.Pending(), "error", err)
	}
}

// serve runs one connection: a reader goroutine feeds Inbound while this
// goroutine drains the queue.
func (c *Channel) serve(ctx context.Context, conn Conn, reconnect bool) error {
	connCtx, cancel := context.WithCancel(ctx)
	readDone := make(chan struct{})
	var readErr error
	go func() {
		defer close(readDone)
		readErr = c.readLoop(connCtx, conn)
	}()

	err := c.writeLoop(connCtx, conn, reconnect, readDone)
	cancel()
	conn.Close()
	<-readDone
	if err == nil || errors.Is(err, context.Canceled) {
		err = readErr
	}
	return err
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		op, err := conn.ReadOperation(ctx)
		if errors.Is(err, ErrMalformedPayload) {
			c.logger.Warn("Skipping malformed message", "sessionId", c.session.ID, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		select {
		case c.inbound <- op:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) flush(ctx context.Context, conn Conn) error {
	for {
		op, ok := c.peek()
		if !ok {
			return nil
		}
		if err := conn.WriteOperation(ctx, op); err != nil {
			return err
		}
		c.pop()
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn Conn, reconnect bool, readDone <-chan struct{}) error {
	if err := c.flush(ctx, conn); err != nil {
		return err
	}
	if reconnect {
		resync := NewResync()
		resync.SessionID = c.session.ID
		if err := conn.WriteOperation(ctx, resync); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readDone:
			return nil
		case <-c.wake:
			if err := c.flush(ctx, conn); err != nil {
				return err
			}
		}
	}
}
