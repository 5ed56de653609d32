package gateway

import (
	"errors"
	"fmt"
)

// NetworkError reports a failed remote attempt. It is transient by contract:
// callers recover by falling back to local data or by queuing the write for
// replay, never by surfacing the failure as final.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway: %s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err wraps a NetworkError.
func IsNetworkError(err error) bool {
	var networkErr *NetworkError
	return errors.As(err, &networkErr)
}
