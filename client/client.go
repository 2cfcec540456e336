// Package client provides the gRPC client for a running mediaref server.
// It handles connection management, retry logic, and health checking.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/pkg/rpc"
)

// Default connection settings.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultKeepaliveTime     = 5 * time.Minute // Must be >= the server's keepalive MinTime
	DefaultKeepaliveTimeout  = 20 * time.Second
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 100 * time.Millisecond
	DefaultMaxBackoff        = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// GRPCClient manages the connection to a mediaref server.
type GRPCClient struct {
	// conn is the underlying gRPC connection.
	conn *grpc.ClientConn

	// serverAddr is the address of the server.
	serverAddr string

	// options holds the client configuration.
	options *ClientOptions

	// mu protects concurrent access to connection state.
	mu sync.RWMutex

	// connected indicates if the client is currently connected.
	connected bool
}

// ClientOptions configures the GRPCClient behavior.
type ClientOptions struct {
	// ConnectTimeout is the maximum time to wait for connection.
	ConnectTimeout time.Duration

	// KeepaliveTime is the interval for keepalive pings.
	KeepaliveTime time.Duration

	// KeepaliveTimeout is the timeout for keepalive ping response.
	KeepaliveTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// InitialBackoff is the initial backoff duration for retries.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for retries.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Insecure disables TLS (for development only).
	Insecure bool

	// TLSConfig is the TLS configuration for secure connections.
	TLSConfig *tls.Config

	// Dialer overrides the network dialer. Used for in-memory connections.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultOptions returns ClientOptions with default values.
func DefaultOptions() *ClientOptions {
	return &ClientOptions{
		ConnectTimeout:    DefaultConnectTimeout,
		KeepaliveTime:     DefaultKeepaliveTime,
		KeepaliveTimeout:  DefaultKeepaliveTimeout,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
		Insecure:          true, // Default to insecure for local development.
	}
}

// NewGRPCClient creates a new GRPCClient with the given options.
// Call Connect() to establish the connection.
func NewGRPCClient(serverAddr string, opts *ClientOptions) *GRPCClient {
	if opts == nil {
		opts = DefaultOptions()
	}

	return &GRPCClient{
		serverAddr: serverAddr,
		options:    opts,
	}
}

// Connect establishes a connection to the server.
// It uses the configured timeout and returns an error if connection fails.
func (c *GRPCClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.conn != nil {
		return nil // Already connected.
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(connectCtx, c.serverAddr, c.buildDialOptions()...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.serverAddr, err)
	}

	c.conn = conn
	c.connected = true

	return nil
}

// buildDialOptions constructs the gRPC dial options from client configuration.
func (c *GRPCClient) buildDialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.options.KeepaliveTime,
			Timeout:             c.options.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
		),
		// Block on dial so an unreachable server fails Connect instead of the first call.
		grpc.WithBlock(),
	}

	if c.options.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(c.options.Dialer))
	}

	if !c.options.Insecure && c.options.TLSConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.options.TLSConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return opts
}

// Close closes the connection to the server.
// It's safe to call Close multiple times.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.connected = false

	if err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}

	return nil
}

// IsConnected returns true if the client has an active connection.
func (c *GRPCClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected && c.conn != nil
}

// GetConnection returns the underlying gRPC connection.
// Returns nil if not connected.
func (c *GRPCClient) GetConnection() *grpc.ClientConn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn
}

func (c *GRPCClient) connection() (*grpc.ClientConn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.conn == nil {
		return nil, fmt.Errorf("not connected to server")
	}
	return c.conn, nil
}

// HealthCheck asks the server's health service whether the resolver is serving.
func (c *GRPCClient) HealthCheck(ctx context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("resolver not serving: %s", resp.GetStatus())
	}
	return nil
}

// Reconnect closes the existing connection and establishes a new one.
// Uses exponential backoff for retry attempts.
func (c *GRPCClient) Reconnect(ctx context.Context) error {
	_ = c.Close()

	backoff := c.options.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < c.options.MaxRetries; attempt++ {
		if err := c.Connect(ctx); err != nil {
			lastErr = err

			select {
			case <-ctx.Done():
				return fmt.Errorf("reconnection cancelled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}

			backoff = c.nextBackoff(backoff)
			continue
		}

		return nil
	}

	return fmt.Errorf("reconnection failed after %d attempts: %w", c.options.MaxRetries, lastErr)
}

// WithRetry executes fn, retrying with exponential backoff while it fails
// with a transient error (gRPC Unavailable).
func (c *GRPCClient) WithRetry(ctx context.Context, fn func() error) error {
	backoff := c.options.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.options.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == c.options.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = c.nextBackoff(backoff)
	}

	return lastErr
}

func (c *GRPCClient) nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.options.BackoffMultiplier)
	if next > c.options.MaxBackoff {
		next = c.options.MaxBackoff
	}
	return next
}

// IsTransient reports whether err is a gRPC error worth retrying.
func IsTransient(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// ServerAddress returns the configured server address.
func (c *GRPCClient) ServerAddress() string {
	return c.serverAddr
}

// ConnectionState returns a human-readable connection state string.
func (c *GRPCClient) ConnectionState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.conn == nil {
		return "disconnected"
	}

	switch c.conn.GetState() {
	case connectivity.Idle:
		return "idle"
	case connectivity.Connecting:
		return "connecting"
	case connectivity.Ready:
		return "ready"
	case connectivity.TransientFailure:
		return "transient_failure"
	case connectivity.Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ConnectFromConfig creates and connects a GRPCClient for cfg.ServerAddress.
// This is the canonical way to create a connected client from CLI commands.
func ConnectFromConfig(ctx context.Context, cfg *config.ClientConfig) (*GRPCClient, error) {
	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("no server address configured")
	}

	opts := DefaultOptions()
	if cfg.TLS.Enabled {
		tlsConfig, err := LoadClientTLSConfig(&cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("loading TLS config: %w", err)
		}
		opts.Insecure = false
		opts.TLSConfig = tlsConfig
	}

	c := NewGRPCClient(cfg.ServerAddress, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	return c, nil
}
