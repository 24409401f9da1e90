package madmin

import (
	"fmt"
	"sync"

	"github.com/meshwork-engine/meshwork/mpeer"
)

// PeerConnector establishes connections to circuit members on behalf
// of the coordinator.
type PeerConnector interface {
	// ConnectPeer declares interest in the node, connecting to it
	// over one of the endpoints if not already connected.
	ConnectPeer(nodeID string, endpoints []string) error
}

// ManagedPeerConnector is a [PeerConnector] backed by a peer manager.
// It holds one peer reference per node, so each node's connection
// stays up for as long as the coordinator is interested in it.
type ManagedPeerConnector struct {
	conn mpeer.Connector

	mu   sync.Mutex
	refs map[string]*mpeer.PeerRef
}

func NewManagedPeerConnector(conn mpeer.Connector) *ManagedPeerConnector {
	return &ManagedPeerConnector{
		conn: conn,
		refs: make(map[string]*mpeer.PeerRef),
	}
}

func (p *ManagedPeerConnector) ConnectPeer(nodeID string, endpoints []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, held := p.refs[nodeID]; held {
		return nil
	}

	ref, err := p.conn.AddPeerRef(nodeID, endpoints)
	if err != nil {
		return fmt.Errorf("failed to connect to node %q: %w", nodeID, err)
	}
	p.refs[nodeID] = ref
	return nil
}

// ReleaseAll releases every held peer reference.
// Call it when the coordinator shuts down.
func (p *ManagedPeerConnector) ReleaseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for nodeID, ref := range p.refs {
		if err := ref.Release(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to release peer %q: %w", nodeID, err)
		}
		delete(p.refs, nodeID)
	}
	return firstErr
}
