package godotgrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/fredericalix/godot-grpc/internal"
)

// invokeUnary performs exactly one blocking round trip on the given
// channel. The calling goroutine blocks until the reply arrives, the
// call's deadline elapses, or the transport reports failure; there is
// no extra client-side timeout layer. The response is returned as one
// contiguous payload.
func invokeUnary(ctx context.Context, ch Channel, method string, request []byte) ([]byte, error) {
	req := internal.RawMessage(request)
	var resp internal.RawMessage
	if err := ch.Invoke(ctx, method, &req, &resp, grpc.CallContentSubtype(internal.CodecName)); err != nil {
		return nil, err
	}
	return resp, nil
}
