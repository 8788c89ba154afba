package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"
)

// maxFrame bounds a single frame; parameters are file paths
const maxFrame = 64 * 1024

// ErrTimeout is returned when no connection or frame arrived in time
var ErrTimeout = errors.New("instance: timed out")

// MessageChannel is the named channel between a running instance and the
// processes forwarding work to it. Frames are delivered individually; a
// frame is never split or merged with its neighbours.
type MessageChannel interface {
	// OpenWrite connects to the listening instance
	OpenWrite(ctx context.Context) (Conn, error)
	// Listen claims the channel for the running instance
	Listen() (Listener, error)
}

// Listener accepts connections from forwarding processes
type Listener interface {
	Accept(timeout time.Duration) (Conn, error)
	Close() error
}

// Conn is one side of a connection carrying frames
type Conn interface {
	SendFrame(frame []byte) error
	// ReceiveFrame returns io.EOF once the peer closed the connection
	ReceiveFrame(timeout time.Duration) ([]byte, error)
	Close() error
}

// SocketChannel implements MessageChannel on a Unix SOCK_SEQPACKET socket,
// which preserves frame boundaries without a length prefix.
type SocketChannel struct {
	Path string
}

// NewSocketChannel returns a channel bound to the socket at path
func NewSocketChannel(path string) *SocketChannel {
	return &SocketChannel{Path: path}
}

func (c *SocketChannel) OpenWrite(ctx context.Context) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unixpacket", c.Path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.Path, err)
	}
	return &socketConn{conn: conn}, nil
}

func (c *SocketChannel) Listen() (Listener, error) {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	// A socket file left behind by a crashed instance blocks the bind. The
	// caller holds the instance lock, so nobody else is listening on it.
	if _, err := os.Stat(c.Path); err == nil {
		if err := os.Remove(c.Path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: c.Path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", c.Path, err)
	}
	return &socketListener{ln: ln}, nil
}

type socketListener struct {
	ln *net.UnixListener
}

func (l *socketListener) Accept(timeout time.Duration) (Conn, error) {
	if err := l.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return &socketConn{conn: conn}, nil
}

func (l *socketListener) Close() error {
	return l.ln.Close()
}

type socketConn struct {
	conn net.Conn
}

func (c *socketConn) SendFrame(frame []byte) error {
	if len(frame) > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(frame), maxFrame)
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *socketConn) ReceiveFrame(timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxFrame)
	n, err := c.conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	if n == 0 {
		// Zero-length read on a seqpacket socket means the peer is gone
		return nil, io.EOF
	}
	return buf[:n], nil
}

func (c *socketConn) Close() error {
	return c.conn.Close()
}
