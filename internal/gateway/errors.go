package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound means neither the local cache nor the remote store has
	// samples for the requested group.
	ErrNotFound       = errors.New("no samples found for this test; complete sample processing first")
	ErrNothingToSave  = errors.New("no cached groups to save")
	ErrPartialSave    = errors.New("some groups failed to save")
	ErrNoRemoteConfig = errors.New("remote store not configured")
)

// RejectedError is a save the remote refused because of its content.
// Message is shown to the user as is.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// UnavailableError wraps a transport or driver failure of Op.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Status is the per-group outcome of a remote save. Code follows HTTP:
// 200 accepted, 400 rejected, anything else a failure.
type Status struct {
	Group   string `json:"group"`
	Code    int    `json:"status"`
	Message string `json:"message"`
}

func (s Status) OK() bool { return s.Code == http.StatusOK }

func statusFor(group string, saved int, err error) Status {
	var rejected *RejectedError
	switch {
	case err == nil:
		return Status{Group: group, Code: http.StatusOK, Message: fmt.Sprintf("Saved %d samples for %s", saved, group)}
	case errors.As(err, &rejected):
		return Status{Group: group, Code: http.StatusBadRequest, Message: rejected.Message}
	default:
		return Status{Group: group, Code: http.StatusServiceUnavailable, Message: fmt.Sprintf("Could not save %s: the sample database is unreachable", group)}
	}
}
