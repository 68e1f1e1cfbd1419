package godotgrpc

import "google.golang.org/grpc/codes"

// EventSink receives events from active streams. Exactly one of
// OnStreamFinished or OnStreamError is delivered per stream, exactly
// once, after which the stream id is invalid. Callbacks are invoked
// from the stream's background goroutines; marshaling onto a
// particular host thread, if required, is the sink's responsibility.
type EventSink interface {
	// OnStreamMessage delivers one received payload, in transport
	// receive order.
	OnStreamMessage(streamID int64, data []byte)

	// OnStreamFinished reports that the stream ended with an OK
	// terminal status.
	OnStreamFinished(streamID int64, code codes.Code, message string)

	// OnStreamError reports that the stream ended with a non-OK
	// terminal status, or failed to start.
	OnStreamError(streamID int64, code codes.Code, message string)
}

// SinkFuncs adapts plain functions to the EventSink interface. Nil
// fields drop the corresponding event.
type SinkFuncs struct {
	Message  func(streamID int64, data []byte)
	Finished func(streamID int64, code codes.Code, message string)
	Error    func(streamID int64, code codes.Code, message string)
}

var _ EventSink = SinkFuncs{}

func (s SinkFuncs) OnStreamMessage(streamID int64, data []byte) {
	if s.Message != nil {
		s.Message(streamID, data)
	}
}

func (s SinkFuncs) OnStreamFinished(streamID int64, code codes.Code, message string) {
	if s.Finished != nil {
		s.Finished(streamID, code, message)
	}
}

func (s SinkFuncs) OnStreamError(streamID int64, code codes.Code, message string) {
	if s.Error != nil {
		s.Error(streamID, code, message)
	}
}
