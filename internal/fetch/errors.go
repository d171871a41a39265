package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning rejects a submission while the same user still has
	// a job in flight. Hard rejection, nothing is queued and nothing is
	// charged.
	ErrAlreadyRunning = errors.New("a fetch job is already running for this user")

	// ErrCapabilityUnavailable means the requested quality needs a tool
	// that is not installed on the host. Detected before any reservation,
	// so it never consumes quota.
	ErrCapabilityUnavailable = errors.New("required tool is not available on this host")

	// ErrTimeout is the fetch step exceeding its wall-clock budget. For
	// accounting it is treated like any other fetch failure.
	ErrTimeout = errors.New("fetch timed out")

	// ErrFetchFailed covers tool failures and empty output. Internal
	// detail is logged, the user sees a generic message.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrDeliveryFailed is a failure in the delivery collaborator. The
	// charge is rolled back like for any other failure.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// OversizedError rejects an artifact above the delivery ceiling. No
// retry, no partial send.
type OversizedError struct {
	Size    int64
	Ceiling int64
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("output too large: %d bytes (ceiling %d)", e.Size, e.Ceiling)
}

func IsOversized(err error) bool {
	var e *OversizedError
	return errors.As(err, &e)
}
