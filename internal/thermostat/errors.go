package thermostat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDevice is returned for operations on an id that is not tracked.
var ErrInvalidDevice = errors.New("invalid device")

// ErrTimeout matches a RemoteError produced by an expired vendor call.
var ErrTimeout = errors.New("vendor call timed out")

// RemoteError reports a failed vendor call. Status is zero for transport
// failures and timeouts.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("thermosmart remote error: %s", strings.TrimSpace(e.Message))
	}
	return fmt.Sprintf("thermosmart api error %d: %s", e.Status, strings.TrimSpace(e.Message))
}

// Is lets errors.Is(err, ErrTimeout) match timeouts.
func (e *RemoteError) Is(target error) bool {
	return target == ErrTimeout && e.Status == 0 && e.Message == "timeout"
}

// IsRemote reports whether err carries a RemoteError and returns it.
func IsRemote(err error) (*RemoteError, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote, true
	}
	return nil, false
}
