package completion

import (
	"errors"
	"fmt"
)

// Precondition failures, reported before any network attempt.
var (
	ErrMissingAPIKey = errors.New("completion: api key is missing")
	ErrEmptyMessages = errors.New("completion: message list is empty")
)

// ErrBusy is returned when a Send is attempted while another is in flight.
// There is no cancellation: the in-flight request runs to completion.
var ErrBusy = errors.New("completion: request already in flight")

// RemoteError is a non-2xx reply from the hosted completion service.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion: remote status %d", e.Status)
	}
	return fmt.Sprintf("completion: remote status %d: %s", e.Status, e.Message)
}
