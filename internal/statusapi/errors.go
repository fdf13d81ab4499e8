package statusapi

import "fmt"

// TransportError is a connect, send or receive failure against the status source.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteCommandError carries the verbatim failure message of a remote command.
type RemoteCommandError struct {
	Command string
	Message string
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// StatusError is a non-2xx answer from the pull API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status source returned %d", e.Code)
	}
	return fmt.Sprintf("status source returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) retryable() bool { return e.Code >= 500 }
