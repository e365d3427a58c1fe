package ipc

import (
	"context"
	"sync"
)

const pipeBuffer = 64

type pipe struct {
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

type pipeEnd struct {
	p   *pipe
	in  chan string
	out chan string
}

// Pipe returns two connected in-memory channels. Closing either end closes both.
func Pipe() (Channel, Channel) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan string, pipeBuffer)
	ba := make(chan string, pipeBuffer)
	return &pipeEnd{p: p, in: ba, out: ab}, &pipeEnd{p: p, in: ab, out: ba}
}

func (e *pipeEnd) Send(msg string) error {
	if len(msg) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	select {
	case <-e.p.done:
		return ErrClosed
	default:
	}
	select {
	case e.out <- msg:
		return nil
	case <-e.p.done:
		return ErrClosed
	}
}

// Recv delivers buffered messages even after the pipe is closed.
func (e *pipeEnd) Recv(ctx context.Context) (string, error) {
	select {
	case msg := <-e.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.p.done:
		select {
		case msg := <-e.in:
			return msg, nil
		default:
			return "", ErrClosed
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.p.close()
	return nil
}
