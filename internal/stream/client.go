package stream

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// SDK identification sent as gRPC metadata on every connection, so the
// upstream endpoint can identify the connecting client.
const (
	sdkName    = "streamcore-go"
	sdkVersion = "0.1.0"
)

// RawMessage is the tagged-variant envelope every inbound upstream message
// is wrapped in before it reaches the demux (spec.md §9: model each stream
// message as a tagged variant).
type RawMessage struct {
	ConnectionID string
	Groups       []string // subscription-group names this message's filters matched
	Update       *pb.SubscribeUpdate
}

// Client is the narrow surface the connection pool needs from an upstream
// streaming client. A real implementation is a single long-lived gRPC
// bidi-stream; tests use a fake.
type Client interface {
	// Connect dials the upstream endpoint and starts the stream loop,
	// invoking onMessage for every inbound message and onError once the
	// stream loop gives up reconnecting.
	Connect(ctx context.Context, onMessage func(RawMessage), onError func(error)) error
	// SetFilter adds or replaces the named filter on the live subscription
	// without tearing down the stream.
	SetFilter(spec FilterSpec) error
	// ClearFilter removes a previously-set filter.
	ClearFilter(groupName string) error
	// Close tears down the connection.
	Close()
}

// GRPCClient is the production Client: a reconnect-and-demultiplex stream
// loop over a single gRPC bidirectional subscription.
type GRPCClient struct {
	endpoint string
	apiKey   string

	mu            sync.Mutex
	conn          *grpc.ClientConn
	stream        pb.Geyser_SubscribeClient
	cancel        context.CancelFunc
	connectionID  string
	activeFilters map[string]FilterSpec
	writeChan     chan *pb.SubscribeRequest
}

// NewGRPCClient builds a GRPCClient dialing endpoint with apiKey as the
// x-token credential.
func NewGRPCClient(connectionID, endpoint, apiKey string) *GRPCClient {
	return &GRPCClient{
		endpoint:      endpoint,
		apiKey:        apiKey,
		connectionID:  connectionID,
		activeFilters: make(map[string]FilterSpec),
		writeChan:     make(chan *pb.SubscribeRequest, 32),
	}
}

func (c *GRPCClient) Connect(ctx context.Context, onMessage func(RawMessage), onError func(error)) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.streamLoop(ctx, onMessage, onError)
	return nil
}

func (c *GRPCClient) streamLoop(ctx context.Context, onMessage func(RawMessage), onError func(error)) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.connectAndStream(ctx, onMessage)
		if err == nil {
			return // graceful shutdown
		}

		attempt++
		delay := reconnectDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		if attempt > maxReconnectAttempts {
			if onError != nil {
				onError(fmt.Errorf("connection %s: exhausted reconnect attempts: %w", c.connectionID, err))
			}
			return
		}
	}
}

// reconnectDelay is the capped exponential backoff from spec.md §4.5:
// 1s, 2s, 4s, ... capped at 30s.
func reconnectDelay(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

const maxReconnectAttempts = 240

func (c *GRPCClient) connectAndStream(ctx context.Context, onMessage func(RawMessage)) error {
	if err := c.dial(ctx); err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	geyserClient := pb.NewGeyserClient(c.conn)

	md := metadata.New(map[string]string{
		"x-sdk-name":    sdkName,
		"x-sdk-version": sdkVersion,
	})
	if c.apiKey != "" {
		md.Set("x-token", c.apiKey)
	}
	streamCtx := metadata.NewOutgoingContext(ctx, md)

	stream, err := geyserClient.Subscribe(streamCtx)
	if err != nil {
		c.teardown()
		return fmt.Errorf("subscribe: %w", err)
	}

	req := c.buildRequest()
	if err := stream.Send(req); err != nil {
		stream.CloseSend()
		c.teardown()
		return fmt.Errorf("send initial request: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	return c.pump(ctx, stream, onMessage)
}

func (c *GRPCClient) pump(ctx context.Context, stream pb.Geyser_SubscribeClient, onMessage func(RawMessage)) error {
	go c.writeLoop(ctx, stream)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("stream ended")
			}
			if st, ok := status.FromError(err); ok && (st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded) {
				return fmt.Errorf("stream unavailable: %w", err)
			}
			return fmt.Errorf("stream error: %w", err)
		}

		if _, ok := resp.UpdateOneof.(*pb.SubscribeUpdate_Ping); ok {
			continue
		}
		if _, ok := resp.UpdateOneof.(*pb.SubscribeUpdate_Pong); ok {
			continue
		}

		if onMessage != nil {
			onMessage(RawMessage{
				ConnectionID: c.connectionID,
				Groups:       append([]string(nil), resp.Filters...),
				Update:       resp,
			})
		}
	}
}

func (c *GRPCClient) writeLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.writeChan:
			if req != nil {
				_ = stream.Send(req)
			}
		}
	}
}

// SetFilter sends an updated SubscribeRequest adding/replacing the named
// filter, without tearing down the stream: the write/merge pattern
// generalized to per-group filters instead of one static request.
func (c *GRPCClient) SetFilter(spec FilterSpec) error {
	c.mu.Lock()
	c.activeFilters[spec.GroupName] = spec
	req := c.buildRequest()
	c.mu.Unlock()

	select {
	case c.writeChan <- req:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("write timeout: channel full")
	}
}

func (c *GRPCClient) ClearFilter(groupName string) error {
	c.mu.Lock()
	delete(c.activeFilters, groupName)
	req := c.buildRequest()
	c.mu.Unlock()

	select {
	case c.writeChan <- req:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("write timeout: channel full")
	}
}

func (c *GRPCClient) buildRequest() *pb.SubscribeRequest {
	txFilters := make(map[string]*pb.SubscribeRequestFilterTransactions, len(c.activeFilters))
	var commitment pb.CommitmentLevel
	for name, f := range c.activeFilters {
		vote := f.Vote
		failed := f.Failed
		txFilters[name] = &pb.SubscribeRequestFilterTransactions{
			Vote:            &vote,
			Failed:          &failed,
			AccountInclude:  f.AccountInclude,
			AccountExclude:  f.AccountExclude,
			AccountRequired: f.AccountRequired,
		}
		commitment = pb.CommitmentLevel(f.Commitment)
	}
	return &pb.SubscribeRequest{
		Transactions: txFilters,
		Commitment:   &commitment,
	}
}

func (c *GRPCClient) dial(ctx context.Context) error {
	c.teardown()

	target, err := dialTarget(c.endpoint)
	if err != nil {
		return err
	}

	creds := credentials.NewClientTLSFromCert(nil, "")
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithInitialWindowSize(4 * 1024 * 1024),
		grpc.WithInitialConnWindowSize(8 * 1024 * 1024),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(1024*1024*1024),
			grpc.MaxCallSendMsgSize(32*1024*1024),
		),
	}

	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	c.conn = conn
	return nil
}

func dialTarget(endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", fmt.Errorf("error parsing endpoint URL: %w", err)
		}
		if u.Port() != "" {
			return u.Host, nil
		}
		return u.Hostname() + ":443", nil
	}
	if strings.Contains(endpoint, ":") {
		return endpoint, nil
	}
	return endpoint + ":443", nil
}

func (c *GRPCClient) teardown() {
	if c.stream != nil {
		c.stream.CloseSend()
		c.stream = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *GRPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.teardown()
}
