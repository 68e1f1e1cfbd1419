// Package godotgrpc is a schema-free gRPC client runtime. It lets a
// host application issue unary, server-streaming, client-streaming,
// and bidirectional-streaming calls against arbitrary services without
// generated stubs: requests and responses are opaque byte payloads,
// already serialized by the caller, addressed by full method name.
//
// A Client owns one logical channel at a time and a registry of
// in-flight streams keyed by monotonically assigned identifiers.
// Stream traffic is delivered asynchronously through an EventSink;
// every stream ends with exactly one terminal event, either finished
// (OK) or error (non-OK status).
//
// Servers exposing gRPC reflection can additionally be explored with
// ListServices and ListMethods.
package godotgrpc
