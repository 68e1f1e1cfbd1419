package grpctesting

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fredericalix/godot-grpc/internal"
)

// EchoServer has default responses for the various kinds of methods.
// Requests and responses are opaque payloads; streaming methods treat
// the payload as a comma-separated list of tokens.
type EchoServer struct {
	// SlowDelay is how long the Slow method sleeps before replying.
	// Zero means 2s.
	SlowDelay time.Duration
}

// Echo replies with the request payload unchanged.
func (s *EchoServer) Echo(ctx context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

// Fail replies with a non-OK status. The payload is the decimal
// status code to fail with; an unparsable payload yields INTERNAL.
// The status carries an ErrorInfo detail.
func (s *EchoServer) Fail(ctx context.Context, payload []byte) ([]byte, error) {
	code := codes.Internal
	if n, err := strconv.Atoi(string(payload)); err == nil {
		code = codes.Code(n)
	}
	st := status.New(code, "requested failure")
	st, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: "REQUESTED_FAILURE",
		Domain: "grpctesting",
	})
	if err != nil {
		return nil, err
	}
	return nil, st.Err()
}

// Slow sleeps before echoing, or returns early with the context's
// error. Used to exercise deadlines and cancellation.
func (s *EchoServer) Slow(ctx context.Context, payload []byte) ([]byte, error) {
	delay := s.SlowDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	select {
	case <-time.After(delay):
		return payload, nil
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// Emit splits the request payload on commas and sends one response
// per token.
func (s *EchoServer) Emit(payload []byte, stream grpc.ServerStream) error {
	for _, token := range bytes.Split(payload, []byte(",")) {
		msg := internal.RawMessage(token)
		if err := stream.SendMsg(&msg); err != nil {
			return err
		}
	}
	return nil
}

// Collect receives payloads until the client half-closes, then
// replies with a single comma-joined payload.
func (s *EchoServer) Collect(stream grpc.ServerStream) error {
	var parts [][]byte
	for {
		var msg internal.RawMessage
		if err := stream.RecvMsg(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		parts = append(parts, msg)
	}
	reply := internal.RawMessage(bytes.Join(parts, []byte(",")))
	return stream.SendMsg(&reply)
}

// EchoBidi echoes each received payload until the client half-closes.
func (s *EchoServer) EchoBidi(stream grpc.ServerStream) error {
	for {
		var msg internal.RawMessage
		if err := stream.RecvMsg(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := stream.SendMsg(&msg); err != nil {
			return err
		}
	}
}

// ServiceName is the fully-qualified name of the test service.
const ServiceName = "godotgrpc.testing.Echo"

func unaryHandler(name string, method func(*EchoServer, context.Context, []byte) ([]byte, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		var req internal.RawMessage
		if err := dec(&req); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			payload, err := method(srv.(*EchoServer), ctx, *req.(*internal.RawMessage))
			if err != nil {
				return nil, err
			}
			resp := internal.RawMessage(payload)
			return &resp, nil
		}
		if interceptor == nil {
			return handler(ctx, &req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		return interceptor(ctx, &req, info, handler)
	}
}

var echoServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Echo",
			Handler:    unaryHandler("Echo", (*EchoServer).Echo),
		},
		{
			MethodName: "Fail",
			Handler:    unaryHandler("Fail", (*EchoServer).Fail),
		},
		{
			MethodName: "Slow",
			Handler:    unaryHandler("Slow", (*EchoServer).Slow),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Emit",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				var req internal.RawMessage
				if err := stream.RecvMsg(&req); err != nil {
					return err
				}
				return srv.(*EchoServer).Emit(req, stream)
			},
		},
		{
			StreamName:    "Collect",
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(*EchoServer).Collect(stream)
			},
		},
		{
			StreamName:    "EchoBidi",
			ClientStreams: true,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(*EchoServer).EchoBidi(stream)
			},
		},
	},
	Metadata: "grpctesting",
}

// RegisterEchoServer registers srv with the given registrar.
func RegisterEchoServer(reg grpc.ServiceRegistrar, srv *EchoServer) {
	reg.RegisterService(&echoServiceDesc, srv)
}
