package mpeer

import "fmt"

// PeerStatus is the connection state of a tracked peer.
type PeerStatus uint8

const (
	_ PeerStatus = iota // Zero value reserved.

	PeerConnected
	PeerDisconnected
)

func (s PeerStatus) String() string {
	switch s {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("PeerStatus(%d)", uint8(s))
	}
}

// PeerMetadata is the manager's record of one peer.
type PeerMetadata struct {
	ID           string
	ConnectionID string

	// All known endpoints, in preference order.
	Endpoints []string

	// The endpoint the current connection was established over.
	ActiveEndpoint string

	Status PeerStatus

	// Reconnection attempts reported by the connection layer
	// since the peer was last connected.
	RetryAttempts uint64
}

// peerMap tracks peer metadata, an endpoint index, and id redirects
// left behind by peer id updates. It is owned by the manager's worker
// goroutine and is not safe for concurrent use.
type peerMap struct {
	peers map[string]*PeerMetadata

	// old id -> new id, recorded by updateID so stale references
	// keep resolving.
	redirects map[string]string

	// endpoint -> peer id, for every endpoint of every peer.
	endpoints map[string]string
}

func newPeerMap() *peerMap {
	return &peerMap{
		peers:     make(map[string]*PeerMetadata),
		redirects: make(map[string]string),
		endpoints: make(map[string]string),
	}
}

// resolve follows redirects until it reaches an id that was never
// renamed. It returns the input unchanged when there is no redirect.
func (m *peerMap) resolve(id string) string {
	seen := map[string]struct{}{id: {}}
	for {
		next, ok := m.redirects[id]
		if !ok {
			return id
		}
		if _, cycle := seen[next]; cycle {
			return next
		}
		seen[next] = struct{}{}
		id = next
	}
}

func (m *peerMap) get(id string) (*PeerMetadata, bool) {
	md, ok := m.peers[m.resolve(id)]
	return md, ok
}

func (m *peerMap) getByEndpoint(endpoint string) (*PeerMetadata, bool) {
	id, ok := m.endpoints[endpoint]
	if !ok {
		return nil, false
	}
	return m.get(id)
}

func (m *peerMap) insert(md *PeerMetadata) {
	m.peers[md.ID] = md
	for _, endpoint := range md.Endpoints {
		m.endpoints[endpoint] = md.ID
	}
}

// remove deletes the peer and its endpoint index entries.
// Redirects pointing at the peer are kept; a stale reference to a
// removed peer should fail on the missing peer, not on a missing
// redirect.
func (m *peerMap) remove(id string) (*PeerMetadata, bool) {
	id = m.resolve(id)
	md, ok := m.peers[id]
	if !ok {
		return nil, false
	}
	delete(m.peers, id)
	for _, endpoint := range md.Endpoints {
		if m.endpoints[endpoint] == id {
			delete(m.endpoints, endpoint)
		}
	}
	return md, true
}

// updateID renames a peer and records a redirect from the old id,
// so references created under the old id keep working.
func (m *peerMap) updateID(oldID, newID string) error {
	resolved := m.resolve(oldID)
	md, ok := m.peers[resolved]
	if !ok {
		return fmt.Errorf("unable to rename peer %q: %w", oldID, ErrUnknownPeer)
	}

	delete(m.peers, resolved)
	md.ID = newID
	m.peers[newID] = md

	for _, endpoint := range md.Endpoints {
		m.endpoints[endpoint] = newID
	}

	m.redirects[resolved] = newID
	return nil
}

func (m *peerMap) ids() []string {
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}
