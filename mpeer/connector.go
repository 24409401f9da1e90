package mpeer

import (
	"fmt"
	"sync/atomic"
)

// Connector is the handle components use to make requests to a
// [Manager]. The zero value is not usable; obtain a Connector from
// [Manager.Connector]. Copies all address the same manager.
type Connector struct {
	add    chan<- addPeerRequest
	update chan<- updatePeerRequest
	remove chan<- removePeerRequest
	list   chan<- listPeersRequest
	sub    chan<- subscribeRequest

	done <-chan struct{}
}

// AddPeerRef declares interest in a peer.
// The first reference to a peer establishes a connection, trying the
// endpoints in preference order; later references share it.
// The returned reference must be released when the interest ends.
func (c Connector) AddPeerRef(peerID string, endpoints []string) (*PeerRef, error) {
	resp := make(chan addPeerResult, 1)

	select {
	case c.add <- addPeerRequest{PeerID: peerID, Endpoints: endpoints, Resp: resp}:
	case <-c.done:
		return nil, ErrStopped
	}

	select {
	case res := <-resp:
		return res.Ref, res.Err
	case <-c.done:
		return nil, ErrStopped
	}
}

// UpdatePeerRef renames a peer. References taken under the old id
// remain valid; a redirect keeps them pointing at the renamed peer.
func (c Connector) UpdatePeerRef(oldID, newID string) error {
	resp := make(chan error, 1)

	select {
	case c.update <- updatePeerRequest{OldID: oldID, NewID: newID, Resp: resp}:
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-resp:
		return err
	case <-c.done:
		return ErrStopped
	}
}

// ListPeers returns the ids of all currently tracked peers.
func (c Connector) ListPeers() ([]string, error) {
	resp := make(chan []string, 1)

	select {
	case c.list <- listPeersRequest{Resp: resp}:
	case <-c.done:
		return nil, ErrStopped
	}

	select {
	case ids := <-resp:
		return ids, nil
	case <-c.done:
		return nil, ErrStopped
	}
}

// Subscribe returns a channel of peer connection state changes.
// Notifications are dropped, not queued, for subscribers that fall
// more than a channel buffer behind.
func (c Connector) Subscribe() (<-chan PeerNotification, error) {
	resp := make(chan (<-chan PeerNotification), 1)

	select {
	case c.sub <- subscribeRequest{Resp: resp}:
	case <-c.done:
		return nil, ErrStopped
	}

	select {
	case ch := <-resp:
		return ch, nil
	case <-c.done:
		return nil, ErrStopped
	}
}

// PeerRef is one reference to a peer. The peer's connection stays up
// at least as long as one reference is outstanding.
//
// There is no finalizer: every code path owning a PeerRef must call
// [PeerRef.Release] when done with the peer.
type PeerRef struct {
	peerID string

	remove   chan<- removePeerRequest
	done     <-chan struct{}
	released atomic.Bool
}

func (m *Manager) newPeerRef(peerID string) *PeerRef {
	return &PeerRef{
		peerID: peerID,

		remove: m.removePeerRequests,
		done:   m.done,
	}
}

// PeerID returns the peer id this reference was taken under.
// The peer may since have been renamed; the id remains valid
// for release either way.
func (r *PeerRef) PeerID() string {
	return r.peerID
}

// Release gives up this reference. Releasing the last reference to a
// peer removes it and closes its connection. Release is idempotent;
// only the first call reaches the manager.
func (r *PeerRef) Release() error {
	if r.released.Swap(true) {
		return nil
	}

	resp := make(chan error, 1)

	select {
	case r.remove <- removePeerRequest{PeerID: r.peerID, Resp: resp}:
	case <-r.done:
		return fmt.Errorf("failed to release peer %q: %w", r.peerID, ErrStopped)
	}

	select {
	case err := <-resp:
		return err
	case <-r.done:
		return fmt.Errorf("failed to release peer %q: %w", r.peerID, ErrStopped)
	}
}
