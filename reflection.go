package godotgrpc

import (
	"context"
	"fmt"

	"github.com/jhump/protoreflect/grpcreflect"
)

// MethodInfo describes one RPC method discovered via server
// reflection. FullMethod is in the "/package.Service/Method" form
// accepted by the call operations.
type MethodInfo struct {
	Name          string
	FullMethod    string
	ClientStreams bool
	ServerStreams bool
}

// ListServices queries the server's reflection service for the names
// of all registered services. The server must expose gRPC reflection
// (v1 or v1alpha).
func (c *Client) ListServices(opts CallOptions) ([]string, error) {
	conn := c.channel.Conn()
	if conn == nil {
		c.log().Error().Msg("no active connection for reflection")
		return nil, ErrNotConnected
	}

	ctx, cancel := opts.newContext(context.Background())
	defer cancel()

	rc := grpcreflect.NewClientAuto(ctx, conn)
	defer rc.Reset()

	services, err := rc.ListServices()
	if err != nil {
		st := statusFromError(err)
		c.log().Error().Msg("reflection list failed: " + FormatStatus(st))
		return nil, st.Err()
	}
	return services, nil
}

// ListMethods resolves a service by fully-qualified name and returns
// its methods, including each method's streaming shape.
func (c *Client) ListMethods(service string, opts CallOptions) ([]MethodInfo, error) {
	conn := c.channel.Conn()
	if conn == nil {
		c.log().Error().Msg("no active connection for reflection")
		return nil, ErrNotConnected
	}

	ctx, cancel := opts.newContext(context.Background())
	defer cancel()

	rc := grpcreflect.NewClientAuto(ctx, conn)
	defer rc.Reset()

	sd, err := rc.ResolveService(service)
	if err != nil {
		st := statusFromError(err)
		c.log().Error().Str("service", service).Msg("reflection resolve failed: " + FormatStatus(st))
		return nil, st.Err()
	}

	methods := sd.GetMethods()
	infos := make([]MethodInfo, 0, len(methods))
	for _, md := range methods {
		infos = append(infos, MethodInfo{
			Name:          md.GetName(),
			FullMethod:    fmt.Sprintf("/%s/%s", sd.GetFullyQualifiedName(), md.GetName()),
			ClientStreams: md.IsClientStreaming(),
			ServerStreams: md.IsServerStreaming(),
		})
	}
	return infos, nil
}
