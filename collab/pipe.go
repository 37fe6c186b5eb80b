package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const pipeBuffer = 64

// pipeConn is one end of an in-memory connection. Operations are encoded
// on write so both ends see exactly what a network peer would.
type pipeConn struct {
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	peer   *pipeConn
	closer sync.Once
}

// Pipe returns two connected Conns.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	a := &pipeConn{in: ba, out: ab, done: make(chan struct{})}
	b := &pipeConn{in: ab, out: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeConn) WriteOperation(ctx context.Context, op Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", op, err)
	}
	select {
	case <-p.done:
		return ErrChannelClosed
	case <-p.peer.done:
		return ErrChannelClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return ErrChannelClosed
	case <-p.peer.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) ReadOperation(ctx context.Context) (Operation, error) {
	var data []byte
	select {
	case data = <-p.in:
	case <-p.done:
		return Operation{}, ErrChannelClosed
	case <-p.peer.done:
		return Operation{}, ErrChannelClosed
	case <-ctx.Done():
		return Operation{}, ctx.Err()
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return op, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return op, nil
}

func (p *pipeConn) Close() error {
	p.closer.Do(func() { close(p.done) })
	return nil
}
