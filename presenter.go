package modkit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CodeInternal is the result code for failures that are not user-facing.
const CodeInternal = "internal"

// UserError is an error meant to be shown to the UI layer as-is.
type UserError struct {
	Code    string
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a user-facing error.
func NewUserError(code, message string) *UserError {
	return &UserError{Code: code, Message: message}
}

// Result is what a presenter hands to the UI layer. It never carries raw
// internal errors.
type Result[T any] struct {
	OK      bool
	Value   T
	Code    string
	Message string
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{OK: true, Value: v}
}

// Fail builds a failed result from err. A UserError keeps its code and
// message; anything else is logged and replaced by a generic message.
func Fail[T any](ctx context.Context, logger *zap.Logger, err error) Result[T] {
	var ue *UserError
	if errors.As(err, &ue) {
		return Result[T]{Code: ue.Code, Message: ue.Message}
	}
	if logger != nil {
		logger.Error("presenter operation failed", zap.Error(err))
	}
	return Result[T]{Code: CodeInternal, Message: "Something went wrong. Please try again."}
}

// Present runs fn and converts its outcome into a Result.
func Present[T any](ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) (T, error)) Result[T] {
	v, err := fn(ctx)
	if err != nil {
		return Fail[T](ctx, logger, err)
	}
	return Ok(v)
}
