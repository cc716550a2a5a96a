package plccoms

import "fmt"

// Error codes reported by the client.
const (
	AlreadyConnectedError = iota

	ConnectionError

	ConnectionRefusedError

	DisconnectedError

	ProtocolError

	TimedOutError

	PendingRequestError

	CommandError

	UnknownError
)

// Error carries an error code from the taxonomy above together with a
// human-readable message.
type Error struct {
	Code    int
	Message string
}

func (err *Error) Error() string {
	name := errorName(err.Code)
	if err.Message != "" {
		return name + ": " + err.Message
	}
	return name
}

// Is reports whether target is an *Error with the same code, which lets
// callers match on the taxonomy with errors.Is.
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == err.Code
}

func errorName(errorCode int) string {
	switch errorCode {
	case AlreadyConnectedError:
		return "AlreadyConnectedError"
	case ConnectionError:
		return "ConnectionError"
	case ConnectionRefusedError:
		return "ConnectionRefusedError"
	case DisconnectedError:
		return "DisconnectedError"
	case ProtocolError:
		return "ProtocolError"
	case TimedOutError:
		return "TimedOutError"
	case PendingRequestError:
		return "PendingRequestError"
	case CommandError:
		return "CommandError"
	default:
		return "UnknownError"
	}
}

// NewError builds an *Error for the given code. An optional message value
// is rendered into the error text.
func NewError(errorCode int, message ...interface{}) *Error {
	if len(message) > 0 {
		return &Error{Code: errorCode, Message: fmt.Sprintf("%v", message[0])}
	}
	return &Error{Code: errorCode}
}

// CodeOf returns the error code carried by err, or UnknownError when err
// is not an *Error produced by this package.
func CodeOf(err error) int {
	if typed, ok := err.(*Error); ok {
		return typed.Code
	}
	return UnknownError
}
