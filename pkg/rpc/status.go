package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
)

// ToStatus converts a domain error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(CodeFor(err), err.Error())
}

// CodeFor maps a domain error onto a gRPC code.
func CodeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case mrerrors.IsValidation(err):
		return codes.InvalidArgument
	case mrerrors.IsVersionConflict(err):
		return codes.Aborted
	case mrerrors.IsNotFound(err):
		return codes.NotFound
	case mrerrors.IsInvalidState(err):
		return codes.FailedPrecondition
	case mrerrors.IsErrorRetryable(err):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
