package console

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/loadforge/agent/pkg/log"
	"github.com/loadforge/agent/pkg/tracing"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// streamMethod is the fully-qualified RPC name used for the duplex
// session. There is no compiled .proto for it: Client opens the stream
// directly with grpc.NewStream and the JSON codec registered in
// codec.go, rather than through a generated service client.
const streamMethod = "/loadforge.console.v1.Agent/Session"

// ClientConfig configures a Client's connection to one Connector.
type ClientConfig struct {
	Connector   Connector
	TLSEnabled  bool
	InsecureTLS bool
	DialTimeout time.Duration
}

// Client owns the grpc.ClientConn to a console endpoint and opens the
// duplex Session stream on demand. It does not retry internally; the
// agent control loop retries failed connects, timing them with Backoff.
type Client struct {
	cfg ClientConfig

	mu               sync.Mutex
	conn             *grpc.ClientConn
	reconnectAttempt int
}

// NewClient creates a Client for the given configuration. It does not
// dial; call Connect to establish the underlying connection.
func NewClient(cfg ClientConfig) *Client {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect dials the console endpoint described by cfg.Connector.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var creds credentials.TransportCredentials
	if c.cfg.TLSEnabled {
		creds = credentials.NewTLS(&tls.Config{InsecureSkipVerify: c.cfg.InsecureTLS})
	} else {
		creds = insecure.NewCredentials()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	target := fmt.Sprintf("%s:%d", c.cfg.Connector.Host, c.cfg.Connector.Port)
	conn, err := grpc.DialContext(dialCtx, target,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(16*1024*1024),
			grpc.MaxCallSendMsgSize(16*1024*1024),
		),
		grpc.WithChainUnaryInterceptor(tracing.UnaryClientInterceptor(), log.GRPCUnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(tracing.StreamClientInterceptor(), log.GRPCStreamClientInterceptor()),
	)
	if err != nil {
		return fmt.Errorf("console: dial %s: %w", target, err)
	}

	c.conn = conn
	c.reconnectAttempt = 0
	return nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Session opens the duplex stream identified by addr.
func (c *Client) Session(ctx context.Context, addr AgentAddress) (*Stream, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("console: not connected")
	}

	md := metadata.New(map[string]string{
		"agent-host":   addr.HostName,
		"agent-name":   addr.Name,
		"agent-number": fmt.Sprintf("%d", addr.Number),
	})
	streamCtx := metadata.NewOutgoingContext(ctx, md)

	stream, err := conn.NewStream(streamCtx, &grpc.StreamDesc{
		StreamName:    "Session",
		ServerStreams: true,
		ClientStreams: true,
	}, streamMethod)
	if err != nil {
		return nil, fmt.Errorf("console: open session: %w", err)
	}

	return &Stream{stream: stream}, nil
}

// NextReconnectInterval returns an exponentially backed-off delay for
// the client's next attempt, computed by Backoff: the interval is capped
// at maxInterval before up to ±10% jitter is applied, to avoid a
// thundering herd of agents reconnecting in lockstep.
func (c *Client) NextReconnectInterval(base, maxInterval time.Duration) time.Duration {
	c.mu.Lock()
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	c.mu.Unlock()
	return Backoff(attempt, base, maxInterval)
}

// ResetReconnectInterval zeroes the attempt counter after a successful connect.
func (c *Client) ResetReconnectInterval() {
	c.mu.Lock()
	c.reconnectAttempt = 0
	c.mu.Unlock()
}

// Backoff computes the exponential-with-jitter delay for the given
// attempt number (1-indexed): base doubles per attempt up to
// maxInterval, then up to ±10% jitter is applied, so the result can
// exceed maxInterval by at most a tenth of it. It is a pure
// function so callers that need backoff timing without a live Client
// (the control loop deciding how long to wait between session build
// attempts) can call it directly.
func Backoff(attempt int, base, maxInterval time.Duration) time.Duration {
	interval := base
	for i := 1; i < attempt; i++ {
		interval *= 2
		if interval >= maxInterval {
			interval = maxInterval
			break
		}
	}
	jitter := time.Duration(int64(interval) / 10)
	if jitter <= 0 {
		return interval
	}
	return interval - jitter + time.Duration(time.Now().UnixNano()%int64(jitter*2+1))
}

// Stream wraps a grpc.ClientStream carrying envelopes.
type Stream struct {
	mu     sync.Mutex
	stream grpc.ClientStream
}

// Send marshals m into an envelope and writes it to the stream.
func (s *Stream) Send(m interface{}) error {
	e, err := encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.SendMsg(e)
}

// Receive reads and decodes the next envelope from the stream.
func (s *Stream) Receive() (interface{}, error) {
	var e envelope
	if err := s.stream.RecvMsg(&e); err != nil {
		return nil, err
	}
	return decode(&e)
}

// CloseSend half-closes the send direction of the stream.
func (s *Stream) CloseSend() error {
	return s.stream.CloseSend()
}
