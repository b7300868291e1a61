package libvirt

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

const (
	// DefaultSocket is the qemu:///system daemon socket.
	DefaultSocket = "/var/run/libvirt/libvirt-sock"

	// EnvSocket overrides DefaultSocket.
	EnvSocket = "LIBVIRT_SOCKET"

	// DefaultTimeout bounds the initial dial.
	DefaultTimeout = 5 * time.Second
)

// Client wraps a go-libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
	socket  string
}

// SocketPath returns path if set, else $LIBVIRT_SOCKET, else DefaultSocket.
func SocketPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvSocket); env != "" {
		return env
	}
	return DefaultSocket
}

// Connect establishes a connection to the local libvirt daemon.
// It returns a Client that must be closed via Close() when done.
//
// An empty socketPath is resolved with SocketPath; a zero timeout uses
// DefaultTimeout.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	socketPath = SocketPath(socketPath)
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}

	return &Client{libvirt: l, socket: socketPath}, nil
}

// ConnectWithContext establishes a connection with context support for cancellation.
func ConnectWithContext(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(socketPath, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	err := c.libvirt.Disconnect()
	c.libvirt = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// Libvirt returns the underlying go-libvirt client for direct API access.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Socket returns the socket path the client is connected to.
func (c *Client) Socket() string { return c.socket }

// Version returns the daemon's libvirt version as major.minor.micro.
func (c *Client) Version() (string, error) {
	if c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}
	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get libvirt version: %w", err)
	}
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000), nil
}

// Ping verifies the connection is still alive by calling a simple libvirt API.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}

	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return nil
}
