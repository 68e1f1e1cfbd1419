package godotgrpc

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

// ErrNotConnected is returned by calls attempted while no channel is
// open.
var ErrNotConnected = errors.New("godotgrpc: not connected")

// Client is a schema-free gRPC client runtime. It exposes the four
// RPC call shapes over a single logical connection; requests and
// responses are opaque byte payloads addressed by full method name
// ("/package.Service/Method").
//
// Stream events are delivered through the EventSink supplied at
// construction, from the streams' background goroutines. A Client is
// safe for concurrent use.
type Client struct {
	channel *channelManager
	streams *streamRegistry
	sink    EventSink

	unaryInt  grpc.UnaryClientInterceptor
	streamInt grpc.StreamClientInterceptor

	mu     sync.Mutex
	base   zerolog.Logger
	logger zerolog.Logger
	level  int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger replaces the default stderr logger. The client still
// applies its own verbosity level on top.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.base = logger }
}

// WithUnaryInterceptors installs client interceptors applied to every
// unary call, first interceptor outermost.
func WithUnaryInterceptors(interceptors ...grpc.UnaryClientInterceptor) ClientOption {
	return func(c *Client) { c.unaryInt = chainUnaryClient(interceptors) }
}

// WithStreamInterceptors installs client interceptors applied to
// every streaming call, first interceptor outermost.
func WithStreamInterceptors(interceptors ...grpc.StreamClientInterceptor) ClientOption {
	return func(c *Client) { c.streamInt = chainStreamClient(interceptors) }
}

// New creates a Client delivering stream events to sink. A nil sink
// drops all events.
func New(sink EventSink, opts ...ClientOption) *Client {
	if sink == nil {
		sink = SinkFuncs{}
	}
	c := &Client{
		channel: &channelManager{},
		streams: newStreamRegistry(),
		sink:    sink,
		base:    defaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mu.Lock()
	c.setLevelLocked(LogLevelWarn)
	c.mu.Unlock()
	return c
}

// Connect opens a channel to endpoint, replacing (and tearing down)
// any previous one. On failure no channel is installed.
func (c *Client) Connect(endpoint string, opts ChannelOptions) error {
	c.streams.closeAll()
	return c.channel.Open(endpoint, opts)
}

// Close cancels all in-flight streams and releases the channel.
// Idempotent.
func (c *Client) Close() {
	c.streams.closeAll()
	c.channel.Close()
}

// IsConnected reports whether an open channel exists in the READY or
// IDLE connectivity state.
func (c *Client) IsConnected() bool {
	return c.channel.IsConnected()
}

// stub returns the current channel with the client's interceptors
// applied, or nil when no channel is open.
func (c *Client) stub() Channel {
	ch := c.channel.Stub()
	if ch == nil {
		return nil
	}
	return InterceptChannel(ch, c.unaryInt, c.streamInt)
}

// Unary performs one blocking round trip. On failure it returns a nil
// payload and an error carrying the translated terminal status.
func (c *Client) Unary(method string, request []byte, opts CallOptions) ([]byte, error) {
	ch := c.stub()
	if ch == nil {
		c.log().Error().Str("method", method).Msg("no active connection for unary call")
		return nil, ErrNotConnected
	}
	c.log().Debug().Str("method", method).Msg("unary call")

	ctx, cancel := opts.newContext(context.Background())
	defer cancel()

	resp, err := invokeUnary(ctx, ch, method, request)
	if err != nil {
		st := statusFromError(err)
		c.log().Error().Str("method", method).Msg("unary call failed: " + FormatStatus(st))
		return nil, st.Err()
	}
	c.log().Debug().Str("method", method).Int("bytes", len(resp)).Msg("unary call succeeded")
	return resp, nil
}

// ServerStreamStart starts a server-streaming call. The single
// request is sent and the send side half-closed before any messages
// are delivered. Returns the stream id, or -1 and an error.
func (c *Client) ServerStreamStart(method string, request []byte, opts CallOptions) (int64, error) {
	return c.startStream(serverStreaming, method, request, opts)
}

// ClientStreamStart starts a client-streaming call. A non-nil initial
// payload is enqueued as the first outbound message. Returns the
// stream id, or -1 and an error.
func (c *Client) ClientStreamStart(method string, initial []byte, opts CallOptions) (int64, error) {
	return c.startStream(clientStreaming, method, initial, opts)
}

// BidiStreamStart starts a bidirectional-streaming call. A non-nil
// initial payload is enqueued as the first outbound message. Returns
// the stream id, or -1 and an error.
func (c *Client) BidiStreamStart(method string, initial []byte, opts CallOptions) (int64, error) {
	return c.startStream(bidiStreaming, method, initial, opts)
}

func (c *Client) startStream(shape streamShape, method string, initial []byte, opts CallOptions) (int64, error) {
	ch := c.stub()
	if ch == nil {
		c.log().Error().Str("method", method).Msg("no active connection for stream")
		return -1, ErrNotConnected
	}

	ctx, cancel := opts.newContext(context.Background())
	id := c.streams.allocateID()
	s := newStream(id, shape, ch, method, initial, ctx, cancel, streamEvents{
		onMessage:  c.onStreamMessage,
		onFinished: c.onStreamFinished,
		onError:    c.onStreamError,
	}, *c.log())

	// Registered before Start so the terminal-delivery eviction can
	// never race a late insert.
	c.streams.insert(id, s)
	if err := s.Start(); err != nil {
		c.streams.erase(id)
		return -1, statusFromError(err).Err()
	}

	c.log().Info().Int64("stream_id", id).Stringer("shape", shape).Str("method", method).Msg("stream started")
	return id, nil
}

// StreamSend enqueues a payload on an active client-streaming or
// bidirectional stream. Returns false for unknown streams, inactive
// streams, server-streaming streams, and streams whose send side is
// closed.
func (c *Client) StreamSend(streamID int64, payload []byte) bool {
	s := c.streams.find(streamID)
	if s == nil {
		c.log().Warn().Int64("stream_id", streamID).Msg("stream not found for send")
		return false
	}
	return s.Send(payload)
}

// StreamCloseSend closes the send side of a stream: remaining queued
// messages are drained and the half-close is issued exactly once.
func (c *Client) StreamCloseSend(streamID int64) {
	s := c.streams.find(streamID)
	if s == nil {
		c.log().Warn().Int64("stream_id", streamID).Msg("stream not found for close-send")
		return
	}
	s.CloseSend()
}

// StreamCancel cancels an active stream and evicts it from the
// registry. The terminal event (typically CANCELLED) is still
// delivered by the stream's reader. Cancelling an unknown or already
// terminated stream is a no-op.
func (c *Client) StreamCancel(streamID int64) {
	s := c.streams.find(streamID)
	if s == nil {
		c.log().Warn().Int64("stream_id", streamID).Msg("stream not found for cancel")
		return
	}
	s.Cancel()
	c.streams.erase(streamID)
}

// ActiveStreams reports the number of streams currently registered.
func (c *Client) ActiveStreams() int {
	return c.streams.size()
}

// Delivery callbacks, invoked from stream reader goroutines. The
// registry entry is evicted before the sink sees the terminal event,
// so the id is dead by the time the host observes it.

func (c *Client) onStreamMessage(id int64, data []byte) {
	c.sink.OnStreamMessage(id, data)
}

func (c *Client) onStreamFinished(id int64, code codes.Code, message string) {
	c.streams.erase(id)
	c.sink.OnStreamFinished(id, code, message)
}

func (c *Client) onStreamError(id int64, code codes.Code, message string) {
	c.streams.erase(id)
	c.sink.OnStreamError(id, code, message)
}
