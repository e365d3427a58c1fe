// Package ipc carries short ASCII control messages between the control plane and simulation workers.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

const MaxMessageSize = 1024

var (
	ErrClosed          = errors.New("ipc: channel closed")
	ErrMessageTooLarge = errors.New("ipc: message exceeds 1024 bytes")
	ErrNoPeer          = errors.New("ipc: peer address unknown")
)

// Channel is a connectionless, message-oriented control channel.
type Channel interface {
	Send(msg string) error
	Recv(ctx context.Context) (string, error)
	Close() error
}

// UnixChannel is a unixgram socket. The listening side learns its peer from the first datagram it receives.
type UnixChannel struct {
	conn   *net.UnixConn
	path   string
	listen bool

	mu   sync.Mutex
	peer *net.UnixAddr
}

// ListenUnix binds a unixgram socket at path, replacing a stale socket file.
func ListenUnix(path string) (*UnixChannel, error) {
	_ = os.Remove(path)
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("ipc listen %s: %w", path, err)
	}
	return &UnixChannel{conn: conn, path: path, listen: true}, nil
}

// DialUnix connects to a socket bound with ListenUnix.
func DialUnix(path string) (*UnixChannel, error) {
	raddr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("ipc dial %s: %w", path, err)
	}
	return &UnixChannel{conn: conn, path: path, peer: raddr}, nil
}

func (c *UnixChannel) Path() string { return c.path }

func (c *UnixChannel) Send(msg string) error {
	if len(msg) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if !c.listen {
		_, err := c.conn.Write([]byte(msg))
		return err
	}
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return ErrNoPeer
	}
	_, err := c.conn.WriteToUnix([]byte(msg), peer)
	return err
}

// Recv blocks until a message arrives or ctx is done.
func (c *UnixChannel) Recv(ctx context.Context) (string, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", ErrClosed
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, MaxMessageSize)
	n, addr, err := c.conn.ReadFromUnix(buf)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return "", ErrClosed
		}
		return "", err
	}
	if c.listen && addr != nil && addr.Name != "" {
		c.mu.Lock()
		c.peer = addr
		c.mu.Unlock()
	}
	return string(buf[:n]), nil
}

// Close closes the socket and removes the file for the listening side.
func (c *UnixChannel) Close() error {
	err := c.conn.Close()
	if c.listen {
		_ = os.Remove(c.path)
	}
	return err
}
