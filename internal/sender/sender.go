// Package sender is the boundary to the messaging channel that delivers one
// message. Ordinary delivery failures come back as Result{Success: false};
// an error means a transport-level fault.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Result struct {
	Success           bool
	ExternalMessageID string
	ErrorMessage      string
}

type Sender interface {
	Send(ctx context.Context, channelInstanceID, address, message string) (Result, error)
}

// SendFunc adapts a plain function to Sender.
type SendFunc func(ctx context.Context, channelInstanceID, address, message string) (Result, error)

func (f SendFunc) Send(ctx context.Context, channelInstanceID, address, message string) (Result, error) {
	return f(ctx, channelInstanceID, address, message)
}

// SendWithTimeout makes a single bounded attempt and folds every failure,
// including a timeout, into a failed Result. It never returns an error.
func SendWithTimeout(ctx context.Context, s Sender, timeout time.Duration, channelInstanceID, address, message string) Result {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		res Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := s.Send(sctx, channelInstanceID, address, message)
		done <- reply{res, err}
	}()

	var rep reply
	select {
	case rep = <-done:
	case <-sctx.Done():
		rep = reply{err: sctx.Err()}
	}

	switch {
	case errors.Is(rep.err, context.DeadlineExceeded):
		return Result{ErrorMessage: fmt.Sprintf("send timed out after %s", timeout)}
	case rep.err != nil:
		return Result{ErrorMessage: "transport error: " + rep.err.Error()}
	case !rep.res.Success && rep.res.ErrorMessage == "":
		rep.res.ErrorMessage = "send failed"
	}
	return rep.res
}
