package announce

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("announce client is closed")

// TrackerRejectedError is returned when the tracker answered with an error
// message.
type TrackerRejectedError struct {
	Reason string
}

func (err *TrackerRejectedError) Error() string {
	return fmt.Sprintf("tracker rejected announce: %s", err.Reason)
}

// ProtocolViolationError is returned when the tracker answered with a
// message that is not an announce reply.
type ProtocolViolationError struct {
	Type string
}

func (err *ProtocolViolationError) Error() string {
	return fmt.Sprintf("unexpected tracker message type %s", err.Type)
}

// ListenerError is returned when a listener failed. Listeners after the
// failing one were not notified.
type ListenerError struct {
	Err error
}

func (err *ListenerError) Error() string {
	return fmt.Sprintf("announce listener failed: %v", err.Err)
}

func (err *ListenerError) Unwrap() error {
	return err.Err
}

// DecodeError wraps a reply the transport could not parse.
type DecodeError struct {
	Err error
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("decoding tracker reply: %v", err.Err)
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}
