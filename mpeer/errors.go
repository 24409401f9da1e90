package mpeer

import "errors"

var (
	// ErrStopped is returned by connector methods after the manager
	// has shut down.
	ErrStopped = errors.New("peer manager stopped")

	// ErrUnknownPeer indicates an operation on a peer id the manager
	// does not track, even after following redirects.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrNoReachableEndpoint indicates that every endpoint of a peer
	// was tried and none accepted a connection request.
	ErrNoReachableEndpoint = errors.New("no reachable endpoint")

	// ErrNoConnection indicates the connection layer had no
	// connection for a peer being removed.
	ErrNoConnection = errors.New("no connection to remove")

	// ErrRefNotFound indicates a reference release for a peer with no
	// outstanding references.
	ErrRefNotFound = errors.New("peer reference not found")
)
