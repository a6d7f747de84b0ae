package procwatch

import "errors"

var (
	// ErrNotFound means the target process could not be resolved within the
	// configured grace period.
	ErrNotFound = errors.New("target process not found")

	// ErrPermissionDenied means a memory read was forbidden mid-run. The
	// sampler stops early; samples collected so far remain valid.
	ErrPermissionDenied = errors.New("permission denied reading process memory")

	// ErrAlreadyStarted is returned by Start on a sampler that is already running.
	ErrAlreadyStarted = errors.New("sampler already started")

	// ErrNotJoined is returned by Samples before a successful Join.
	ErrNotJoined = errors.New("sampler not joined")

	// ErrJoinTimeout means the sampling goroutine did not finish within the
	// Join timeout. Samples must not be read until a later Join succeeds.
	ErrJoinTimeout = errors.New("timed out waiting for sampler to finish")
)

// errProcessGone marks the expected terminal condition of the target exiting.
// It never escapes the package; the sampler stops cleanly when it sees it.
var errProcessGone = errors.New("process has exited")
