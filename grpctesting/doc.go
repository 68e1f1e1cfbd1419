// Package grpctesting provides a test service for exercising a
// schema-free client against a real gRPC server. Its methods treat
// requests and responses as opaque byte payloads, so no generated
// message types are involved; the service descriptor and handlers are
// written by hand.
package grpctesting
