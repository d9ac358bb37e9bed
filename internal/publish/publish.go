// Package publish forwards decoded frames to an external renderer process
// over a ZeroMQ PUB socket.
package publish

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pebbe/zmq4"

	"rgbd-stream-go/internal/types"
)

// Publisher is safe for concurrent use; sends are serialized.
type Publisher struct {
	mu     sync.Mutex
	socket *zmq4.Socket

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewPublisher binds a PUB socket to endpoint, e.g. "tcp://*:5560".
func NewPublisher(endpoint string, highWaterMark int) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if highWaterMark > 0 {
		if err := socket.SetSndhwm(highWaterMark); err != nil {
			_ = socket.Close()
			return nil, err
		}
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("bind %s: %w", endpoint, err)
	}
	return &Publisher{socket: socket}, nil
}

// Publish sends f without blocking; a frame is dropped when the subscriber
// is too slow.
func (p *Publisher) Publish(f types.FrameReady) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return fmt.Errorf("publisher closed")
	}
	if _, err := p.socket.SendBytes(data, zmq4.DONTWAIT); err != nil {
		p.dropped.Add(1)
		return err
	}
	p.sent.Add(1)
	return nil
}

func (p *Publisher) Sent() uint64 {
	return p.sent.Load()
}

func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	return err
}
