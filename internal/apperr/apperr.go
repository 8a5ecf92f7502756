// Package apperr defines the error taxonomy shared by the delivery engine and
// the API layer. Errors carry a Kind that the gRPC layer translates into a
// status code; the wrapped cause stays available through errors.Is/As.
package apperr

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
)

// Kind classifies an error.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	InvalidArgument
	Unauthorized
	StoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidArgument:
		return "invalid_argument"
	case Unauthorized:
		return "unauthorized"
	case StoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified error raised by operation Op.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a human-readable message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStore classifies an error returned by a repository: data.ErrNotFound
// becomes NotFound, anything else is treated as a persistence failure.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, data.ErrNotFound) {
		return Wrap(NotFound, op, err)
	}
	return Wrap(StoreUnavailable, op, err)
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ToGRPC converts err into a gRPC status error. Store failures and unknown
// errors are reported with a generic message so internals do not leak.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}

	var e *Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, "internal error")
	}
	switch e.Kind {
	case NotFound:
		return status.Error(codes.NotFound, e.message("not found"))
	case InvalidArgument:
		return status.Error(codes.InvalidArgument, e.message("invalid argument"))
	case Unauthorized:
		return status.Error(codes.PermissionDenied, e.message("permission denied"))
	case StoreUnavailable:
		return status.Error(codes.Unavailable, "storage temporarily unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func (e *Error) message(fallback string) string {
	if e.Msg != "" {
		return e.Msg
	}
	return fallback
}
