package bridge

import "errors"

var (
	// ErrMappingNotFound reports that a tool name or call id could not be
	// resolved. Non-fatal: it surfaces as a tool-output-error or a denial.
	ErrMappingNotFound = errors.New("call mapping not found")

	// ErrRemoteTimeout reports that no remote result arrived within the
	// bounded wait.
	ErrRemoteTimeout = errors.New("remote call timed out")

	// ErrSessionClosed reports that the connection ended while a remote call
	// was still pending. Distinct from a timeout: the waiter was cancelled,
	// not starved.
	ErrSessionClosed = errors.New("session closed")

	// ErrUpstream classifies failures originating in the agent runtime. The
	// turn finalizes with a wire error; the connection survives where the
	// transport allows it.
	ErrUpstream = errors.New("upstream runtime error")
)
