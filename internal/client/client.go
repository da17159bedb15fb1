// Package client is the reference rendezvous client: it connects, waits for
// the WAIT acknowledgement and then for the partner's address.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

const waitToken = "WAIT"

var (
	ErrUnexpectedGreeting = errors.New("client: expected WAIT")
	ErrNoPeer             = errors.New("client: server closed before sending a peer")
)

// Conn is one client-side rendezvous connection.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	stop   func() bool
}

// Dial connects to a rendezvous server. Cancelling ctx closes the connection.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	c := &Conn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
	c.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
	return c, nil
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// AwaitWait consumes the enqueue acknowledgement.
func (c *Conn) AwaitWait() error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if line != waitToken {
		return fmt.Errorf("%w: got %q", ErrUnexpectedGreeting, line)
	}
	return nil
}

// AwaitPeer blocks until the server sends the partner's address.
func (c *Conn) AwaitPeer() (string, error) {
	line, err := c.readLine()
	if errors.Is(err, io.EOF) {
		return "", ErrNoPeer
	}
	if err != nil {
		return "", err
	}
	return line, nil
}

// AwaitClose blocks until the server closes the connection. Stray lines are
// returned as an error.
func (c *Conn) AwaitClose() error {
	line, err := c.readLine()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("client: unexpected line before close: %q", line)
}

func (c *Conn) Close() error {
	c.stop()
	return c.conn.Close()
}

func (c *Conn) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", io.EOF
		}
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("client: read: %w", err)
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Rendezvous runs the full client exchange and returns the partner's address.
func Rendezvous(ctx context.Context, addr string) (string, error) {
	c, err := Dial(ctx, addr)
	if err != nil {
		return "", err
	}
	defer c.Close()

	peer, err := c.awaitPeerAfterWait()
	if err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("client: rendezvous %s: %w", addr, ctx.Err())
	}
	return peer, err
}

func (c *Conn) awaitPeerAfterWait() (string, error) {
	if err := c.AwaitWait(); err != nil {
		return "", err
	}
	return c.AwaitPeer()
}
