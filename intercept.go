package godotgrpc

import (
	"context"

	"google.golang.org/grpc"
)

// WrappedChannel is a channel that wraps another. It provides an
// Unwrap method for access to the underlying wrapped implementation.
type WrappedChannel interface {
	Channel
	Unwrap() Channel
}

// InterceptChannel returns a new channel that intercepts RPCs with the
// given interceptors, which may be nil. If both given interceptors are
// nil, returns ch. Otherwise, the returned value will implement
// WrappedChannel and its Unwrap() method will return ch.
func InterceptChannel(ch Channel, unaryInt grpc.UnaryClientInterceptor, streamInt grpc.StreamClientInterceptor) Channel {
	if unaryInt == nil && streamInt == nil {
		return ch
	}
	intCh, ok := ch.(*interceptedChannel)
	if ok {
		// Instead of building a chain of multiple interceptedChannels,
		// build a single interceptedChannel with the combined set of
		// interceptors.
		if unaryInt == nil {
			unaryInt = intCh.unaryInt
		} else if intCh.unaryInt != nil {
			unaryInt = chainUnaryClient([]grpc.UnaryClientInterceptor{unaryInt, intCh.unaryInt})
		}
		if streamInt == nil {
			streamInt = intCh.streamInt
		} else if intCh.streamInt != nil {
			streamInt = chainStreamClient([]grpc.StreamClientInterceptor{streamInt, intCh.streamInt})
		}
		ch = intCh.ch
	}
	return &interceptedChannel{ch: ch, unaryInt: unaryInt, streamInt: streamInt}
}

type interceptedChannel struct {
	ch        Channel
	unaryInt  grpc.UnaryClientInterceptor
	streamInt grpc.StreamClientInterceptor
}

var _ Channel = (*interceptedChannel)(nil)

func (intch *interceptedChannel) Unwrap() Channel {
	return intch.ch
}

func unwrap(ch Channel) Channel {
	// completely unwrap to find the root channel
	for {
		w, ok := ch.(WrappedChannel)
		if !ok {
			return ch
		}
		unwrapped := w.Unwrap()
		if unwrapped == nil {
			return ch
		}
		ch = unwrapped
	}
}

func (intch *interceptedChannel) Invoke(ctx context.Context, methodName string, req, resp any, opts ...grpc.CallOption) error {
	if intch.unaryInt == nil {
		return intch.ch.Invoke(ctx, methodName, req, resp, opts...)
	}
	cc, _ := unwrap(intch.ch).(*grpc.ClientConn)
	return intch.unaryInt(ctx, methodName, req, resp, cc, intch.unaryInvoker, opts...)
}

func (intch *interceptedChannel) unaryInvoker(ctx context.Context, methodName string, req, resp any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
	return intch.ch.Invoke(ctx, methodName, req, resp, opts...)
}

func (intch *interceptedChannel) NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	if intch.streamInt == nil {
		return intch.ch.NewStream(ctx, desc, methodName, opts...)
	}
	cc, _ := unwrap(intch.ch).(*grpc.ClientConn)
	return intch.streamInt(ctx, desc, cc, methodName, intch.streamer, opts...)
}

func (intch *interceptedChannel) streamer(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return intch.ch.NewStream(ctx, desc, methodName, opts...)
}

func chainUnaryClient(unaryInt []grpc.UnaryClientInterceptor) grpc.UnaryClientInterceptor {
	if len(unaryInt) == 0 {
		return nil
	}
	if len(unaryInt) == 1 {
		return unaryInt[0]
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		for i := range unaryInt[1:] {
			currInterceptor := unaryInt[len(unaryInt)-i-1] // going backwards through the chain
			currInvoker := invoker
			invoker = func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
				return currInterceptor(ctx, method, req, reply, cc, currInvoker, opts...)
			}
		}
		return unaryInt[0](ctx, method, req, reply, cc, invoker, opts...)
	}
}

func chainStreamClient(streamInt []grpc.StreamClientInterceptor) grpc.StreamClientInterceptor {
	if len(streamInt) == 0 {
		return nil
	}
	if len(streamInt) == 1 {
		return streamInt[0]
	}
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		for i := range streamInt[1:] {
			currInterceptor := streamInt[len(streamInt)-i-1] // going backwards through the chain
			currStreamer := streamer
			streamer = func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
				return currInterceptor(ctx, desc, cc, method, currStreamer, opts...)
			}
		}
		return streamInt[0](ctx, desc, cc, method, streamer, opts...)
	}
}
