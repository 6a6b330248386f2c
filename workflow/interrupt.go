package workflow

import (
	"context"
	"fmt"
)

// Command resumes a thread parked on an interrupt.
type Command struct {
	Resume any `json:"resume"`
}

// InterruptError is returned by Interrupt when no resume value is
// available. The engine records it on the snapshot and ends the stream.
type InterruptError struct {
	Value any
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted: %v", e.Value)
}

type resumeKey struct{}

// Interrupt pauses the calling node until the thread is resumed with a
// Command. On resume the node is executed again and Interrupt returns the
// resume value.
func Interrupt(ctx context.Context, value any) (any, error) {
	if v, ok := ctx.Value(resumeKey{}).(*Command); ok {
		return v.Resume, nil
	}
	return nil, &InterruptError{Value: value}
}

func withResume(ctx context.Context, cmd *Command) context.Context {
	return context.WithValue(ctx, resumeKey{}, cmd)
}
