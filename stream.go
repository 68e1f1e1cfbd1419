package godotgrpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/fredericalix/godot-grpc/internal"
)

// streamShape identifies which side(s) of a stream carry more than
// one message.
type streamShape int

const (
	serverStreaming streamShape = iota
	clientStreaming
	bidiStreaming
)

func (s streamShape) String() string {
	switch s {
	case serverStreaming:
		return "server-streaming"
	case clientStreaming:
		return "client-streaming"
	default:
		return "bidirectional"
	}
}

func (s streamShape) desc() *grpc.StreamDesc {
	return &grpc.StreamDesc{
		ClientStreams: s != serverStreaming,
		ServerStreams: s != clientStreaming,
	}
}

// streamEvents are the engine's delivery callbacks. The finished and
// error callbacks are mutually exclusive and fire at most once.
type streamEvents struct {
	onMessage  func(id int64, data []byte)
	onFinished func(id int64, code codes.Code, message string)
	onError    func(id int64, code codes.Code, message string)
}

// stream manages one outstanding streaming RPC: a reader goroutine
// (always) and a writer goroutine (client-streaming and bidirectional
// shapes) cooperating over an unbounded FIFO outbound queue.
//
// Lifecycle is INACTIVE -> ACTIVE -> TERMINATED, forward only. Cancel
// forces an early transition toward TERMINATED but the reader
// goroutine still performs the terminal-status retrieval, so the
// terminal event is delivered exactly once regardless of how the
// stream ends.
type stream struct {
	id      int64
	shape   streamShape
	method  string
	initial []byte
	ch      Channel
	ctx     context.Context
	cancel  context.CancelFunc
	events  streamEvents
	logger  zerolog.Logger

	started    atomic.Bool
	active     atomic.Bool
	terminated atomic.Bool

	cs grpc.ClientStream

	// qmu guards the outbound queue. Producers append and never
	// block; the writer goroutine drains.
	qmu        sync.Mutex
	queue      [][]byte
	qclosed    bool
	halfClosed bool
	wake       chan struct{}

	readerDone chan struct{}
	writerDone chan struct{}
	running    atomic.Bool
}

func newStream(id int64, shape streamShape, ch Channel, method string, initial []byte,
	ctx context.Context, cancel context.CancelFunc, events streamEvents, logger zerolog.Logger) *stream {
	return &stream{
		id:         id,
		shape:      shape,
		method:     method,
		initial:    initial,
		ch:         ch,
		ctx:        ctx,
		cancel:     cancel,
		events:     events,
		logger:     logger.With().Int64("stream_id", id).Str("method", method).Logger(),
		wake:       make(chan struct{}, 1),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Start prepares the call and spawns the background goroutines. A
// second call is a no-op with a warning. On failure the error event
// is delivered, no goroutines are spawned, and the error is returned.
func (s *stream) Start() error {
	if s.started.Swap(true) {
		s.logger.Warn().Msg("stream already started")
		return nil
	}
	s.active.Store(true)

	s.logger.Debug().Stringer("shape", s.shape).Msg("starting stream")

	cs, err := s.ch.NewStream(s.ctx, s.shape.desc(), s.method, grpc.CallContentSubtype(internal.CodecName))
	if err != nil {
		s.failStart(err)
		return err
	}
	s.cs = cs

	switch {
	case s.shape == serverStreaming:
		// The single request goes out now and the send side closes
		// immediately; the caller of a server-streaming call never
		// sends again.
		msg := internal.RawMessage(s.initial)
		if err := cs.SendMsg(&msg); err != nil {
			err = s.recvTerminalError(err)
			s.failStart(err)
			return err
		}
		if err := cs.CloseSend(); err != nil {
			s.failStart(err)
			return err
		}
		s.qmu.Lock()
		s.qclosed = true
		s.halfClosed = true
		s.qmu.Unlock()
	case len(s.initial) > 0:
		s.qmu.Lock()
		s.queue = append(s.queue, s.initial)
		s.qmu.Unlock()
	}

	s.running.Store(true)
	go s.readLoop()
	if s.shape != serverStreaming {
		go s.writeLoop()
	} else {
		close(s.writerDone)
	}
	return nil
}

// recvTerminalError retrieves the authoritative terminal status after
// a failed send; a bare send error usually just says "stream done".
func (s *stream) recvTerminalError(sendErr error) error {
	var discard internal.RawMessage
	if err := s.cs.RecvMsg(&discard); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return sendErr
}

func (s *stream) failStart(err error) {
	s.logger.Error().Err(err).Msg("failed to start stream")
	close(s.readerDone)
	close(s.writerDone)
	s.deliverTerminal(err)
}

// Send enqueues one payload for transmission. It never blocks on the
// writer. Returns false if the stream is not active, the shape is
// server-streaming, or the send side has been closed.
func (s *stream) Send(payload []byte) bool {
	if !s.active.Load() {
		s.logger.Warn().Msg("cannot send on inactive stream")
		return false
	}
	if s.shape == serverStreaming {
		s.logger.Error().Msg("cannot send on server-streaming stream")
		return false
	}

	s.qmu.Lock()
	if s.qclosed || s.halfClosed {
		s.qmu.Unlock()
		s.logger.Warn().Msg("cannot send after close-send")
		return false
	}
	s.queue = append(s.queue, payload)
	n := len(s.queue)
	s.qmu.Unlock()

	s.signalWriter()
	s.logger.Trace().Int("queue_len", n).Msg("queued outbound message")
	return true
}

// CloseSend marks the outbound queue closed; the writer drains any
// queued payloads, half-closes exactly once, then exits. No-op for
// server-streaming (half-closed at start) and idempotent otherwise.
func (s *stream) CloseSend() {
	if s.shape == serverStreaming {
		s.logger.Debug().Msg("close-send on server-streaming stream is a no-op")
		return
	}
	s.logger.Debug().Msg("closing send side")
	s.qmu.Lock()
	s.qclosed = true
	s.qmu.Unlock()
	s.signalWriter()
}

// Cancel requests transport-level cancellation and marks the stream
// inactive from the caller's perspective. The reader goroutine still
// retrieves and delivers the resulting terminal status; Cancel itself
// never delivers it. Idempotent.
func (s *stream) Cancel() {
	if s.terminated.Load() || !s.active.Load() {
		return
	}
	s.logger.Debug().Msg("cancelling stream")
	s.active.Store(false)
	s.cancel()
}

// Close cancels the stream, releases the writer, and waits for both
// background goroutines to exit.
func (s *stream) Close() {
	s.Cancel()
	s.qmu.Lock()
	s.qclosed = true
	s.qmu.Unlock()
	s.signalWriter()
	if s.running.Load() {
		<-s.readerDone
		<-s.writerDone
	}
}

func (s *stream) signalWriter() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writeLoop drains the outbound queue in FIFO order, blocking between
// payloads on the wake channel rather than polling. Once the queue is
// both empty and closed it half-closes the stream and exits. A write
// failure exits without delivering anything; the reader's terminal
// status is authoritative.
func (s *stream) writeLoop() {
	defer close(s.writerDone)
	s.logger.Trace().Msg("writer started")

	for {
		s.qmu.Lock()
		if len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue = s.queue[1:]
			s.qmu.Unlock()

			msg := internal.RawMessage(payload)
			if err := s.cs.SendMsg(&msg); err != nil {
				s.logger.Debug().Err(err).Msg("write failed; reader will report terminal status")
				return
			}
			s.logger.Trace().Msg("wrote message")
			continue
		}
		closed := s.qclosed
		s.qmu.Unlock()

		if closed {
			s.qmu.Lock()
			already := s.halfClosed
			s.halfClosed = true
			s.qmu.Unlock()
			if !already {
				s.logger.Debug().Msg("half-closing stream")
				_ = s.cs.CloseSend()
			}
			s.logger.Trace().Msg("writer finished")
			return
		}

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			s.logger.Trace().Msg("writer finished")
			return
		}
	}
}

// readLoop receives payloads until the stream ends, delivering each
// in order, then delivers the terminal status exactly once.
func (s *stream) readLoop() {
	defer close(s.readerDone)
	s.logger.Trace().Msg("reader started")

	for {
		var msg internal.RawMessage
		if err := s.cs.RecvMsg(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				// Natural end-of-stream; not itself an error.
				s.deliverTerminal(nil)
			} else {
				s.deliverTerminal(err)
			}
			s.logger.Trace().Msg("reader finished")
			return
		}
		s.logger.Trace().Int("bytes", len(msg)).Msg("received message")
		s.events.onMessage(s.id, []byte(msg))
	}
}

// deliverTerminal transitions the stream to TERMINATED and delivers
// exactly one of finished/error. Later calls are no-ops.
func (s *stream) deliverTerminal(err error) {
	if s.terminated.Swap(true) {
		return
	}
	s.active.Store(false)
	s.cancel()

	if err == nil {
		s.logger.Debug().Msg("stream finished")
		s.events.onFinished(s.id, codes.OK, "")
		return
	}

	st := statusFromError(err)
	s.logger.Error().Msg(FormatStatus(st))
	s.events.onError(s.id, st.Code(), st.Message())
}
