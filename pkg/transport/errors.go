package transport

import "fmt"

// AuthError reports a rejected authentication attempt. It is terminal for
// that attempt; retrying requires new credentials.
type AuthError struct {
	Identity string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.Identity, e.Reason)
}

// NetworkError reports a connection-level failure. The operation may succeed
// if the caller reconnects and reissues it.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
