package godotgrpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fredericalix/godot-grpc/internal"
)

// fakeClientStream is a scriptable grpc.ClientStream. Received
// messages are fed through the recv channel; closing it makes RecvMsg
// return the configured final error (io.EOF by default).
type fakeClientStream struct {
	ctx context.Context

	mu         sync.Mutex
	sent       [][]byte
	closeSends int
	sendErr    error

	recv  chan []byte
	final error
}

func newFakeClientStream(ctx context.Context) *fakeClientStream {
	return &fakeClientStream{ctx: ctx, recv: make(chan []byte, 16), final: io.EOF}
}

func (f *fakeClientStream) Header() (metadata.MD, error) { return nil, nil }
func (f *fakeClientStream) Trailer() metadata.MD         { return nil }
func (f *fakeClientStream) Context() context.Context     { return f.ctx }

func (f *fakeClientStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSends++
	return nil
}

func (f *fakeClientStream) SendMsg(m any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	payload := *m.(*internal.RawMessage)
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeClientStream) RecvMsg(m any) error {
	select {
	case payload, ok := <-f.recv:
		if !ok {
			return f.final
		}
		*m.(*internal.RawMessage) = internal.RawMessage(payload)
		return nil
	case <-f.ctx.Done():
		return status.FromContextError(f.ctx.Err()).Err()
	}
}

func (f *fakeClientStream) sentPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeClientStream) closeSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeSends
}

// fakeChannel hands out a prepared fakeClientStream, or fails.
type fakeChannel struct {
	cs         *fakeClientStream
	newErr     error
	newStreams atomic.Int32
}

func (f *fakeChannel) Invoke(ctx context.Context, methodName string, req, resp any, opts ...grpc.CallOption) error {
	return status.Error(codes.Unimplemented, "not used")
}

func (f *fakeChannel) NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	f.newStreams.Add(1)
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.cs = newFakeClientStream(ctx)
	return f.cs, nil
}

type terminalRec struct {
	code    codes.Code
	message string
	isError bool
}

type recorder struct {
	messages  chan []byte
	terminals chan terminalRec
}

func newRecorder() *recorder {
	return &recorder{messages: make(chan []byte, 16), terminals: make(chan terminalRec, 16)}
}

func (r *recorder) events() streamEvents {
	return streamEvents{
		onMessage: func(_ int64, data []byte) { r.messages <- data },
		onFinished: func(_ int64, code codes.Code, message string) {
			r.terminals <- terminalRec{code: code, message: message}
		},
		onError: func(_ int64, code codes.Code, message string) {
			r.terminals <- terminalRec{code: code, message: message, isError: true}
		},
	}
}

func (r *recorder) waitTerminal(t *testing.T) terminalRec {
	t.Helper()
	select {
	case rec := <-r.terminals:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return terminalRec{}
	}
}

func startTestStream(t *testing.T, shape streamShape, initial []byte) (*stream, *fakeChannel, *recorder) {
	t.Helper()
	ch := &fakeChannel{}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(7, shape, ch, "/test.Svc/Method", initial, ctx, cancel, rec.events(), zerolog.Nop())
	require.NoError(t, s.Start())
	t.Cleanup(s.Close)
	return s, ch, rec
}

func TestStreamSendPreservesOrder(t *testing.T) {
	s, ch, rec := startTestStream(t, bidiStreaming, nil)

	require.True(t, s.Send([]byte("a")))
	require.True(t, s.Send([]byte("b")))
	require.True(t, s.Send([]byte("c")))
	s.CloseSend()

	select {
	case <-s.writerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not drain")
	}

	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, ch.cs.sentPayloads())
	assert.Equal(t, 1, ch.cs.closeSendCount())

	close(ch.cs.recv)
	term := rec.waitTerminal(t)
	assert.False(t, term.isError)
	assert.Equal(t, codes.OK, term.code)
}

func TestStreamCloseSendIdempotent(t *testing.T) {
	s, ch, _ := startTestStream(t, bidiStreaming, nil)

	s.CloseSend()
	s.CloseSend()

	select {
	case <-s.writerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not exit")
	}
	assert.Equal(t, 1, ch.cs.closeSendCount())
	assert.False(t, s.Send([]byte("late")))
}

func TestStreamDoubleStartIsNoOp(t *testing.T) {
	s, ch, _ := startTestStream(t, bidiStreaming, nil)

	require.NoError(t, s.Start())
	assert.Equal(t, int32(1), ch.newStreams.Load())
}

func TestStreamServerShapeSendsInitialAndHalfCloses(t *testing.T) {
	s, ch, rec := startTestStream(t, serverStreaming, []byte("req"))

	assert.Equal(t, [][]byte{[]byte("req")}, ch.cs.sentPayloads())
	assert.Equal(t, 1, ch.cs.closeSendCount())
	assert.False(t, s.Send([]byte("x")))

	ch.cs.recv <- []byte("resp1")
	ch.cs.recv <- []byte("resp2")
	close(ch.cs.recv)

	assert.Equal(t, []byte("resp1"), <-rec.messages)
	assert.Equal(t, []byte("resp2"), <-rec.messages)
	term := rec.waitTerminal(t)
	assert.False(t, term.isError)
}

func TestStreamInitialPayloadQueuedFirst(t *testing.T) {
	s, ch, _ := startTestStream(t, clientStreaming, []byte("first"))

	require.True(t, s.Send([]byte("second")))
	s.CloseSend()

	select {
	case <-s.writerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not drain")
	}
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, ch.cs.sentPayloads())
}

func TestStreamCancelDeliversExactlyOneTerminal(t *testing.T) {
	s, _, rec := startTestStream(t, bidiStreaming, nil)

	s.Cancel()
	s.Cancel()

	term := rec.waitTerminal(t)
	assert.True(t, term.isError)
	assert.Equal(t, codes.Canceled, term.code)

	select {
	case extra := <-rec.terminals:
		t.Fatalf("unexpected second terminal event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamStartFailureDeliversError(t *testing.T) {
	ch := &fakeChannel{newErr: status.Error(codes.Unavailable, "no transport")}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(1, bidiStreaming, ch, "/test.Svc/Method", nil, ctx, cancel, rec.events(), zerolog.Nop())

	err := s.Start()
	require.Error(t, err)

	term := rec.waitTerminal(t)
	assert.True(t, term.isError)
	assert.Equal(t, codes.Unavailable, term.code)
	assert.False(t, s.Send([]byte("x")))
}

func TestStreamStartAfterFailureIsNoOp(t *testing.T) {
	ch := &fakeChannel{newErr: status.Error(codes.Unavailable, "no transport")}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(3, bidiStreaming, ch, "/test.Svc/Method", nil, ctx, cancel, rec.events(), zerolog.Nop())

	require.Error(t, s.Start())
	rec.waitTerminal(t)

	// repeat start must not restart the engine
	require.NoError(t, s.Start())
	assert.Equal(t, int32(1), ch.newStreams.Load())

	select {
	case extra := <-rec.terminals:
		t.Fatalf("unexpected second terminal event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamStartAfterTerminalIsNoOp(t *testing.T) {
	s, ch, rec := startTestStream(t, bidiStreaming, nil)

	s.Cancel()
	rec.waitTerminal(t)

	require.NoError(t, s.Start())
	assert.Equal(t, int32(1), ch.newStreams.Load())
}

func TestStreamWriteFailureTerminalComesFromReader(t *testing.T) {
	s, ch, rec := startTestStream(t, bidiStreaming, nil)

	ch.cs.mu.Lock()
	ch.cs.sendErr = status.Error(codes.Unavailable, "send failed")
	ch.cs.mu.Unlock()

	require.True(t, s.Send([]byte("doomed")))

	select {
	case <-s.writerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not exit after failed send")
	}
	assert.Equal(t, 0, ch.cs.closeSendCount(), "failed write must not half-close")

	// the writer itself delivers nothing
	select {
	case term := <-rec.terminals:
		t.Fatalf("terminal event before reader observed the failure: %+v", term)
	case <-time.After(100 * time.Millisecond):
	}

	ch.cs.final = status.Error(codes.Unavailable, "send failed")
	close(ch.cs.recv)

	term := rec.waitTerminal(t)
	assert.True(t, term.isError)
	assert.Equal(t, codes.Unavailable, term.code)

	select {
	case extra := <-rec.terminals:
		t.Fatalf("unexpected second terminal event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamReadErrorDeliversTranslatedStatus(t *testing.T) {
	_, ch, rec := startTestStream(t, bidiStreaming, nil)

	ch.cs.final = status.Error(codes.ResourceExhausted, "quota")
	close(ch.cs.recv)

	term := rec.waitTerminal(t)
	assert.True(t, term.isError)
	assert.Equal(t, codes.ResourceExhausted, term.code)
	assert.Equal(t, "quota", term.message)
}

func TestStreamSendOnInactive(t *testing.T) {
	ch := &fakeChannel{}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	s := newStream(2, bidiStreaming, ch, "/test.Svc/Method", nil, ctx, cancel, rec.events(), zerolog.Nop())

	assert.False(t, s.Send([]byte("x")), "send before start must fail")
	require.NoError(t, s.Start())
	s.Cancel()
	rec.waitTerminal(t)
	assert.False(t, s.Send([]byte("y")), "send after terminal must fail")
	s.Close()
}

func TestStreamRecvTerminalErrorPrefersRecvStatus(t *testing.T) {
	recvErr := status.Error(codes.FailedPrecondition, "authoritative")
	s := &stream{cs: &fakeClientStream{
		ctx:   context.Background(),
		recv:  closedRecv(),
		final: recvErr,
	}}
	got := s.recvTerminalError(errors.New("send failed"))
	assert.Equal(t, recvErr, got)
}

func closedRecv() chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}
