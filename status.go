package godotgrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Outcome is the closed taxonomy that protocol status codes collapse
// into. Hosts that cannot represent the full gRPC code space map each
// terminal status through OutcomeFromCode.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeCancelled
	OutcomeTimeout
	OutcomeNotFound
	OutcomeExists
	OutcomeDenied
	OutcomeExhausted
	OutcomeInvalid
	OutcomeUnavailable
	OutcomeInternal
)

// OutcomeFromCode translates a gRPC status code into an Outcome.
func OutcomeFromCode(code codes.Code) Outcome {
	switch code {
	case codes.OK:
		return OutcomeOK
	case codes.Canceled, codes.Aborted:
		return OutcomeCancelled
	case codes.DeadlineExceeded:
		return OutcomeTimeout
	case codes.NotFound:
		return OutcomeNotFound
	case codes.AlreadyExists:
		return OutcomeExists
	case codes.PermissionDenied, codes.Unauthenticated:
		return OutcomeDenied
	case codes.ResourceExhausted:
		return OutcomeExhausted
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return OutcomeInvalid
	case codes.Unavailable, codes.Unimplemented:
		return OutcomeUnavailable
	case codes.Unknown, codes.Internal, codes.DataLoss:
		return OutcomeInternal
	default:
		return OutcomeInternal
	}
}

// CodeName returns the canonical upper-snake name for a gRPC status
// code, e.g. "DEADLINE_EXCEEDED".
func CodeName(code codes.Code) string {
	switch code {
	case codes.OK:
		return "OK"
	case codes.Canceled:
		return "CANCELLED"
	case codes.Unknown:
		return "UNKNOWN"
	case codes.InvalidArgument:
		return "INVALID_ARGUMENT"
	case codes.DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case codes.NotFound:
		return "NOT_FOUND"
	case codes.AlreadyExists:
		return "ALREADY_EXISTS"
	case codes.PermissionDenied:
		return "PERMISSION_DENIED"
	case codes.ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case codes.FailedPrecondition:
		return "FAILED_PRECONDITION"
	case codes.Aborted:
		return "ABORTED"
	case codes.OutOfRange:
		return "OUT_OF_RANGE"
	case codes.Unimplemented:
		return "UNIMPLEMENTED"
	case codes.Internal:
		return "INTERNAL"
	case codes.Unavailable:
		return "UNAVAILABLE"
	case codes.DataLoss:
		return "DATA_LOSS"
	case codes.Unauthenticated:
		return "UNAUTHENTICATED"
	default:
		return "UNKNOWN_STATUS_CODE"
	}
}

// FormatStatus renders a terminal status as a human-readable
// diagnostic, combining the code, its name, the message, and any
// error details attached to the status proto.
func FormatStatus(s *status.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rpc error [%s (%d)]: %s", CodeName(s.Code()), int(s.Code()), s.Message())
	if sp := s.Proto(); sp != nil && len(sp.GetDetails()) > 0 {
		b.WriteString(" | details:")
		for _, d := range sp.GetDetails() {
			fmt.Fprintf(&b, " %s", d.GetTypeUrl())
		}
	}
	return b.String()
}

// statusFromError converts the given error to a *status.Status. Plain
// context errors are translated to their corresponding status codes;
// anything else without an embedded status becomes Internal.
func statusFromError(err error) *status.Status {
	if s, ok := status.FromError(err); ok {
		return s
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.New(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.New(codes.Canceled, err.Error())
	}
	return status.New(codes.Internal, err.Error())
}
