package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHeightTooHigh is returned when the height is higher than the last
	// block that the provider has. The light client will not remove the
	// provider.
	ErrHeightTooHigh = errors.New("height requested is too high")

	// ErrLightBlockNotFound is returned when a provider can't find the
	// requested light block (i.e. it has been pruned). The light client will
	// not remove the provider.
	ErrLightBlockNotFound = errors.New("light block not found")
)

// ErrTimeout is returned when a request to the provider exceeded its
// deadline. Retryable against the same peer.
type ErrTimeout struct {
	Elapsed time.Duration
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("provider timed out after %v", e.Elapsed)
}

// ErrTransport is returned when the connection to the provider failed for a
// reason unrelated to the content of the response. Retryable against the
// same peer.
type ErrTransport struct {
	Reason error
}

func (e ErrTransport) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Reason)
}

func (e ErrTransport) Unwrap() error { return e.Reason }

// ErrInvalidResponse is returned when a provider returns a response that
// fails basic validation. Not retryable: the peer is either faulty or
// malicious.
type ErrInvalidResponse struct {
	Reason error
}

func (e ErrInvalidResponse) Error() string {
	return fmt.Sprintf("provider returned an invalid response: %v", e.Reason)
}

func (e ErrInvalidResponse) Unwrap() error { return e.Reason }

// IsRetryable reports whether the caller may retry the request that produced
// err against the same peer. Only timeouts and transport failures qualify.
func IsRetryable(err error) bool {
	var (
		timeoutErr   ErrTimeout
		transportErr ErrTransport
	)
	return errors.As(err, &timeoutErr) || errors.As(err, &transportErr)
}
