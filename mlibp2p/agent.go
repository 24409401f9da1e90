// Package mlibp2p backs the peer manager and the consensus network
// with a libp2p host. Peer endpoints are multiaddrs that include the
// target's peer id.
package mlibp2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/meshwork-engine/meshwork/mpeer"
)

// connTagWeight marks managed connections so the host's connection
// manager does not prune them.
const connTagWeight = 100

// ConnectionAgent is an [mpeer.ConnectionAgent] over a libp2p host.
//
// The agent reports Connected and Disconnected events from the host's
// network notifications. It does not retry dropped connections itself,
// so it never reports a reconnection failure; endpoint failover is
// driven by the peer manager.
type ConnectionAgent struct {
	log *slog.Logger

	// Dial deadline context for connection requests.
	ctx context.Context

	h host.Host

	mu sync.Mutex

	// endpoint -> dialed peer, for endpoints requested through the
	// agent.
	peersByEndpoint map[string]peer.ID
	endpointsByPeer map[peer.ID]string

	subs      map[int]chan<- mpeer.ConnectionNotification
	nextSubID int
}

// NewConnectionAgent wraps the host. ctx bounds all dials made through
// the agent; the host itself stays owned by the caller.
func NewConnectionAgent(ctx context.Context, log *slog.Logger, h host.Host) *ConnectionAgent {
	a := &ConnectionAgent{
		log: log,
		ctx: ctx,
		h:   h,

		peersByEndpoint: make(map[string]peer.ID),
		endpointsByPeer: make(map[peer.ID]string),

		subs: make(map[int]chan<- mpeer.ConnectionNotification),
	}
	h.Network().Notify((*agentNotifiee)(a))
	return a
}

func (a *ConnectionAgent) RequestConnection(endpoint, connectionID string) error {
	maddr, err := multiaddr.NewMultiaddr(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("endpoint %q does not identify a peer: %w", endpoint, err)
	}

	// Register the mapping first so the connect notification can be
	// attributed to this endpoint.
	a.mu.Lock()
	a.peersByEndpoint[endpoint] = info.ID
	a.endpointsByPeer[info.ID] = endpoint
	a.mu.Unlock()

	if err := a.h.Connect(a.ctx, *info); err != nil {
		a.mu.Lock()
		delete(a.peersByEndpoint, endpoint)
		delete(a.endpointsByPeer, info.ID)
		a.mu.Unlock()
		return fmt.Errorf("failed to connect to %q: %w", endpoint, err)
	}

	a.h.ConnManager().TagPeer(info.ID, "meshwork:"+connectionID, connTagWeight)
	return nil
}

func (a *ConnectionAgent) RemoveConnection(endpoint string) (bool, error) {
	a.mu.Lock()
	pid, ok := a.peersByEndpoint[endpoint]
	if ok {
		delete(a.peersByEndpoint, endpoint)
		delete(a.endpointsByPeer, pid)
	}
	a.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := a.h.Network().ClosePeer(pid); err != nil {
		return false, fmt.Errorf("failed to close connection to %q: %w", endpoint, err)
	}
	return true, nil
}

func (a *ConnectionAgent) Subscribe(ch chan<- mpeer.ConnectionNotification) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSubID
	a.nextSubID++
	a.subs[id] = ch
	return id, nil
}

func (a *ConnectionAgent) Unsubscribe(id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.subs[id]; !ok {
		return fmt.Errorf("no subscription with id %d", id)
	}
	delete(a.subs, id)
	return nil
}

// notify fans a notification out to subscribers without blocking the
// host's notification goroutine.
func (a *ConnectionAgent) notify(n mpeer.ConnectionNotification) {
	a.mu.Lock()
	subs := make([]chan<- mpeer.ConnectionNotification, 0, len(a.subs))
	for _, ch := range a.subs {
		subs = append(subs, ch)
	}
	a.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			a.log.Warn(
				"Dropping connection notification for slow subscriber",
				"endpoint", n.Endpoint,
				"kind", n.Kind,
			)
		}
	}
}

// agentNotifiee adapts the agent to [network.Notifiee].
type agentNotifiee ConnectionAgent

func (n *agentNotifiee) agent() *ConnectionAgent { return (*ConnectionAgent)(n) }

func (n *agentNotifiee) Connected(_ network.Network, conn network.Conn) {
	a := n.agent()

	a.mu.Lock()
	endpoint, ok := a.endpointsByPeer[conn.RemotePeer()]
	a.mu.Unlock()
	if !ok {
		// Inbound or otherwise unmanaged connection.
		return
	}

	a.notify(mpeer.ConnectionNotification{
		Kind:     mpeer.ConnectionConnected,
		Endpoint: endpoint,
	})
}

func (n *agentNotifiee) Disconnected(net network.Network, conn network.Conn) {
	a := n.agent()

	pid := conn.RemotePeer()
	if net.Connectedness(pid) == network.Connected {
		// Another connection to the peer is still up.
		return
	}

	a.mu.Lock()
	endpoint, ok := a.endpointsByPeer[pid]
	a.mu.Unlock()
	if !ok {
		return
	}

	a.notify(mpeer.ConnectionNotification{
		Kind:     mpeer.ConnectionDisconnected,
		Endpoint: endpoint,
	})
}

func (*agentNotifiee) Listen(network.Network, multiaddr.Multiaddr)      {}
func (*agentNotifiee) ListenClose(network.Network, multiaddr.Multiaddr) {}
