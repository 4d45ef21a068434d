package syncer

import "errors"

// Precondition sentinels. Test with errors.Is.
var (
	ErrOffline         = errors.New("offline")
	ErrMissingStaffID  = errors.New("staff id is required")
	ErrMissingEndpoint = errors.New("endpoint is not configured")
)

// PreconditionError reports a gate that stopped a sync before any network
// activity. Message is suitable for showing to the operator.
type PreconditionError struct {
	Err     error
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func offline() error {
	return &PreconditionError{Err: ErrOffline, Message: "Offline. Queue will sync when internet returns."}
}

func missingStaffID() error {
	return &PreconditionError{Err: ErrMissingStaffID, Message: "Staff ID is required."}
}

func missingEndpoint() error {
	return &PreconditionError{Err: ErrMissingEndpoint, Message: "Endpoint is not configured."}
}
