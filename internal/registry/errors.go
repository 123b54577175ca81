package registry

import "fmt"

// ListError reports a failed runner listing or detail lookup: a
// transport failure, a non-2xx status, or a response body that did not
// parse.
type ListError struct {
	Endpoint string
	Status   int
	Reason   string
}

func (e *ListError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to list runners on %s (status %d): %s", e.Endpoint, e.Status, e.Reason)
	}
	return fmt.Sprintf("failed to list runners on %s: %s", e.Endpoint, e.Reason)
}

// VerificationError reports a token verification that failed for any
// reason other than the coordinator rejecting the token. A 403 response
// is a valid negative verification, never a VerificationError.
type VerificationError struct {
	Endpoint string
	Status   int
	Reason   string
}

func (e *VerificationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to verify runner token on %s (status %d): %s", e.Endpoint, e.Status, e.Reason)
	}
	return fmt.Sprintf("failed to verify runner token on %s: %s", e.Endpoint, e.Reason)
}

// RegistrationError reports a failed runner registration. It names the
// description being registered so the run can report which executor
// could not be configured.
type RegistrationError struct {
	Endpoint    string
	Description string
	Status      int
	Reason      string
}

func (e *RegistrationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to register runner %q on %s (status %d): %s",
			e.Description, e.Endpoint, e.Status, e.Reason)
	}
	return fmt.Sprintf("failed to register runner %q on %s: %s", e.Description, e.Endpoint, e.Reason)
}

// DeletionError reports a failed runner deletion.
type DeletionError struct {
	Endpoint    string
	Description string
	Status      int
	Reason      string
}

func (e *DeletionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to delete runner %q on %s (status %d): %s",
			e.Description, e.Endpoint, e.Status, e.Reason)
	}
	return fmt.Sprintf("failed to delete runner %q on %s: %s", e.Description, e.Endpoint, e.Reason)
}
