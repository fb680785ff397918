package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/apache/thrift/lib/go/thrift"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/szibis/logship/internal/scribe"
)

// ErrorType is a low-cardinality category of send failure for metrics.
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeClientError ErrorType = "client_error"
	ErrorTypeAuth        ErrorType = "auth"
	// ErrorTypeRateLimit covers HTTP 429, gRPC ResourceExhausted and scribe TRY_LATER.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeProtocol  ErrorType = "protocol"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// SendError is returned by Conn.Send.
type SendError struct {
	Err  error
	Type ErrorType
	// StatusCode is the HTTP status (0 for other protocols).
	StatusCode int
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("send error: type=%s status=%d", e.Type, e.StatusCode)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ErrorTypeOf returns the type carried by a SendError in err's chain, or
// classifies err directly.
func ErrorTypeOf(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Type
	}
	return classifyError(err)
}

func sendError(err error, t ErrorType) error {
	return &SendError{Err: err, Type: t}
}

// classifyScribeError maps errors from the thrift client.
func classifyScribeError(err error) ErrorType {
	if errors.Is(err, scribe.ErrTryLater) {
		return ErrorTypeRateLimit
	}
	// transport exceptions also satisfy TProtocolException, so check them first
	var transErr thrift.TTransportException
	if errors.As(err, &transErr) {
		if transErr.TypeId() == thrift.TIMED_OUT {
			return ErrorTypeTimeout
		}
		if inner := transErr.Err(); inner != nil {
			if t := classifyError(inner); t != ErrorTypeUnknown {
				return t
			}
		}
		return ErrorTypeNetwork
	}
	var appErr thrift.TApplicationException
	if errors.As(err, &appErr) {
		return ErrorTypeServerError
	}
	var protoErr thrift.TProtocolException
	if errors.As(err, &protoErr) {
		return ErrorTypeProtocol
	}
	return classifyError(err)
}

// classifyGRPCError categorizes a gRPC error.
func classifyGRPCError(err error) ErrorType {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return ErrorTypeTimeout
		case codes.Unavailable:
			return ErrorTypeNetwork
		case codes.Unauthenticated, codes.PermissionDenied:
			return ErrorTypeAuth
		case codes.ResourceExhausted:
			return ErrorTypeRateLimit
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.Unimplemented:
			return ErrorTypeClientError
		case codes.Internal, codes.Unknown, codes.DataLoss, codes.Aborted:
			return ErrorTypeServerError
		}
	}
	return classifyError(err)
}

// classifyHTTPStatusCode categorizes an HTTP status code.
func classifyHTTPStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// classifyError categorizes plain Go errors.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "no such host", "network is unreachable", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(msg, p) {
			return ErrorTypeNetwork
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}
