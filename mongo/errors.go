package mongo

import "errors"

// Distinguished fatal error kinds. Callers match them with errors.Is; the
// wrapping message names the unreachable resource.
var (
	// ErrConnectionFailed marks a failure to acquire a usable database
	// handle: bad endpoint, authentication, or an unreachable host.
	ErrConnectionFailed = errors.New("mongo: connection failed")

	// ErrTunnelFailed marks a failure to establish the SSH tunnel the
	// connection was configured to go through.
	ErrTunnelFailed = errors.New("mongo: ssh tunnel failed")

	// ErrCollectionUnreachable marks a second execution failure within one
	// evaluation: the fallback scan itself could not be opened. It is not
	// retried further.
	ErrCollectionUnreachable = errors.New("mongo: collection unreachable")
)
