package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors without knowing
// which backend produced them.
//
//   - ErrClosed: the store handle was closed by the host process
//   - ErrUnavailable: the backend could not be reached or rejected the operation
//   - ErrCorrupt: a persisted row could not be decoded into a record
//   - ErrNotFound: the requested record does not exist
var (
	ErrClosed      = errors.New("store closed")
	ErrUnavailable = errors.New("unavailable")
	ErrCorrupt     = errors.New("corrupt record")
	ErrNotFound    = errors.New("not found")
)
