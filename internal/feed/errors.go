package feed

import "fmt"

// ConnectionError reports a dial or read failure on the feed connection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError reports a frame that could not be decoded into an envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("feed decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
