// Package mpeer manages peers on behalf of the rest of the node.
//
// Components express interest in a peer by taking a reference through
// a [Connector]; the manager establishes a connection for the first
// reference and tears it down when the last reference is released.
// All peer state is owned by a single worker goroutine.
package mpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Config holds the peer manager settings.
type Config struct {
	// How many reconnection attempts the connection layer may report
	// before the manager tries the peer's other endpoints.
	MaxRetryAttempts uint64
}

// DefaultConfig returns the config used in production.
func DefaultConfig() Config {
	return Config{MaxRetryAttempts: 5}
}

// PeerNotificationKind distinguishes peer notifications.
type PeerNotificationKind uint8

const (
	_ PeerNotificationKind = iota // Zero value reserved.

	PeerNotificationConnected
	PeerNotificationDisconnected
)

// PeerNotification is one peer state change,
// delivered to channels obtained through [Connector.Subscribe].
type PeerNotification struct {
	Kind   PeerNotificationKind
	PeerID string
}

type addPeerRequest struct {
	PeerID    string
	Endpoints []string
	Resp      chan addPeerResult
}

type addPeerResult struct {
	Ref *PeerRef
	Err error
}

type updatePeerRequest struct {
	OldID string
	NewID string
	Resp  chan error
}

type removePeerRequest struct {
	PeerID string
	Resp   chan error
}

type listPeersRequest struct {
	Resp chan []string
}

type subscribeRequest struct {
	Resp chan (<-chan PeerNotification)
}

// Manager owns the peer map and reference counts.
// Interact with it through the handle returned by [Manager.Connector].
type Manager struct {
	log *slog.Logger
	cfg Config

	agent      ConnectionAgent
	agentSubID int

	addPeerRequests    chan addPeerRequest
	updatePeerRequests chan updatePeerRequest
	removePeerRequests chan removePeerRequest
	listPeersRequests  chan listPeersRequest
	subscribeRequests  chan subscribeRequest

	notifications chan ConnectionNotification

	// Worker-owned state; never touched outside run.
	peers       *peerMap
	refs        *refMap
	subscribers []chan<- PeerNotification

	done chan struct{}
}

// New subscribes to the connection agent and starts the manager's
// worker goroutine. The manager runs until ctx is canceled;
// use [Manager.Wait] to block until it has stopped.
func New(ctx context.Context, log *slog.Logger, cfg Config, agent ConnectionAgent) (*Manager, error) {
	// Buffered so a burst of connection events cannot stall the agent
	// while the worker is answering a request.
	notifications := make(chan ConnectionNotification, 64)

	subID, err := agent.Subscribe(notifications)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to connection agent: %w", err)
	}

	m := &Manager{
		log: log,
		cfg: cfg,

		agent:      agent,
		agentSubID: subID,

		addPeerRequests:    make(chan addPeerRequest),
		updatePeerRequests: make(chan updatePeerRequest),
		removePeerRequests: make(chan removePeerRequest),
		listPeersRequests:  make(chan listPeersRequest),
		subscribeRequests:  make(chan subscribeRequest),

		notifications: notifications,

		peers: newPeerMap(),
		refs:  newRefMap(),

		done: make(chan struct{}),
	}

	go m.run(ctx)
	return m, nil
}

// Connector returns a handle for making requests to the manager.
// The handle is cheap to copy and safe for concurrent use.
func (m *Manager) Connector() Connector {
	return Connector{
		add:    m.addPeerRequests,
		update: m.updatePeerRequests,
		remove: m.removePeerRequests,
		list:   m.listPeersRequests,
		sub:    m.subscribeRequests,

		done: m.done,
	}
}

// Wait blocks until the worker goroutine has exited.
func (m *Manager) Wait() {
	<-m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer func() {
		if err := m.agent.Unsubscribe(m.agentSubID); err != nil {
			m.log.Warn("Failed to unsubscribe from connection agent", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return

		case req := <-m.addPeerRequests:
			ref, err := m.addPeer(req.PeerID, req.Endpoints)
			req.Resp <- addPeerResult{Ref: ref, Err: err}

		case req := <-m.updatePeerRequests:
			req.Resp <- m.updatePeerID(req.OldID, req.NewID)

		case req := <-m.removePeerRequests:
			req.Resp <- m.removePeerRef(req.PeerID)

		case req := <-m.listPeersRequests:
			req.Resp <- m.peers.ids()

		case req := <-m.subscribeRequests:
			ch := make(chan PeerNotification, 64)
			m.subscribers = append(m.subscribers, ch)
			req.Resp <- ch

		case n := <-m.notifications:
			m.handleNotification(n)
		}
	}
}

// addPeer increments the peer's reference count,
// establishing a connection first if this is the initial reference.
// Endpoints are tried in order; only if every endpoint is rejected
// does the call fail, with the new reference rolled back.
func (m *Manager) addPeer(peerID string, endpoints []string) (*PeerRef, error) {
	resolved := m.peers.resolve(peerID)

	if count := m.refs.addRef(resolved); count > 1 {
		if _, ok := m.peers.get(resolved); !ok {
			m.refs.removeRef(resolved)
			return nil, fmt.Errorf("peer %q has references but no connection: %w", peerID, ErrUnknownPeer)
		}
		return m.newPeerRef(peerID), nil
	}

	connectionID := uuid.New().String()

	for _, endpoint := range endpoints {
		if err := m.agent.RequestConnection(endpoint, connectionID); err != nil {
			m.log.Warn(
				"Connection request rejected; trying next endpoint",
				"peer_id", peerID,
				"endpoint", endpoint,
				"err", err,
			)
			continue
		}

		m.peers.insert(&PeerMetadata{
			ID:             resolved,
			ConnectionID:   connectionID,
			Endpoints:      endpoints,
			ActiveEndpoint: endpoint,
			Status:         PeerConnected,
		})

		m.log.Debug("Added peer", "peer_id", peerID, "endpoint", endpoint)
		return m.newPeerRef(peerID), nil
	}

	m.refs.removeRef(resolved)
	return nil, fmt.Errorf("unable to add peer %q: %w", peerID, ErrNoReachableEndpoint)
}

func (m *Manager) updatePeerID(oldID, newID string) error {
	resolved := m.peers.resolve(oldID)

	if err := m.peers.updateID(oldID, newID); err != nil {
		return err
	}
	m.refs.move(resolved, newID)

	m.log.Debug("Updated peer id", "old_peer_id", oldID, "new_peer_id", newID)
	return nil
}

// removePeerRef releases one reference. Releasing the last reference
// removes the peer and closes its connection.
func (m *Manager) removePeerRef(peerID string) error {
	resolved := m.peers.resolve(peerID)

	count, ok := m.refs.removeRef(resolved)
	if !ok {
		return fmt.Errorf("unable to release peer %q: %w", peerID, ErrRefNotFound)
	}
	if count > 0 {
		return nil
	}

	md, ok := m.peers.remove(resolved)
	if !ok {
		return fmt.Errorf("unable to remove peer %q: %w", peerID, ErrUnknownPeer)
	}

	removed, err := m.agent.RemoveConnection(md.ActiveEndpoint)
	if err != nil {
		return fmt.Errorf("failed to remove connection for peer %q: %w", peerID, err)
	}
	if !removed {
		return fmt.Errorf("unable to remove peer %q: %w", peerID, ErrNoConnection)
	}

	m.log.Debug("Removed peer", "peer_id", peerID)
	return nil
}

func (m *Manager) handleNotification(n ConnectionNotification) {
	switch n.Kind {
	case ConnectionConnected:
		md, ok := m.peers.getByEndpoint(n.Endpoint)
		if !ok {
			// Not a managed peer; likely an inbound connection.
			m.log.Debug("Connection for unmanaged endpoint", "endpoint", n.Endpoint)
			return
		}
		md.Status = PeerConnected
		md.RetryAttempts = 0
		md.ActiveEndpoint = n.Endpoint
		m.notifySubscribers(PeerNotification{
			Kind:   PeerNotificationConnected,
			PeerID: md.ID,
		})

	case ConnectionDisconnected:
		md, ok := m.peers.getByEndpoint(n.Endpoint)
		if !ok {
			m.log.Debug("Disconnect for unmanaged endpoint", "endpoint", n.Endpoint)
			return
		}
		md.Status = PeerDisconnected
		md.RetryAttempts = 1
		m.notifySubscribers(PeerNotification{
			Kind:   PeerNotificationDisconnected,
			PeerID: md.ID,
		})

	case ConnectionReconnectionFailed:
		md, ok := m.peers.getByEndpoint(n.Endpoint)
		if !ok {
			m.log.Debug("Reconnection failure for unmanaged endpoint", "endpoint", n.Endpoint)
			return
		}
		if n.Attempts < m.cfg.MaxRetryAttempts {
			// The connection layer keeps retrying the active endpoint.
			return
		}

		if m.retryEndpoints(md) {
			md.Status = PeerConnected
			md.RetryAttempts = 0
			m.notifySubscribers(PeerNotification{
				Kind:   PeerNotificationConnected,
				PeerID: md.ID,
			})
		} else {
			md.Status = PeerDisconnected
			md.RetryAttempts = n.Attempts
		}

	default:
		m.log.Warn("Unknown connection notification kind", "kind", n.Kind)
	}
}

// retryEndpoints asks the connection layer for a connection over each
// of the peer's endpoints in turn, taking the first accepted request
// as the new active endpoint and removing the old connection. If every
// request is rejected the peer is left as-is, retry count included,
// and the connection layer keeps retrying the old endpoint.
func (m *Manager) retryEndpoints(md *PeerMetadata) bool {
	m.log.Info("Retry limit reached; trying other endpoints", "peer_id", md.ID)

	for _, endpoint := range md.Endpoints {
		if err := m.agent.RequestConnection(endpoint, md.ConnectionID); err != nil {
			m.log.Warn(
				"Connection request rejected; trying next endpoint",
				"peer_id", md.ID,
				"endpoint", endpoint,
				"err", err,
			)
			continue
		}

		if endpoint != md.ActiveEndpoint {
			if _, err := m.agent.RemoveConnection(md.ActiveEndpoint); err != nil {
				m.log.Warn(
					"Failed to remove old connection after failover",
					"peer_id", md.ID,
					"endpoint", md.ActiveEndpoint,
					"err", err,
				)
			}
		}
		md.ActiveEndpoint = endpoint
		return true
	}

	m.log.Error("Unable to reach peer on any endpoint", "peer_id", md.ID)
	return false
}

func (m *Manager) notifySubscribers(n PeerNotification) {
	for _, ch := range m.subscribers {
		select {
		case ch <- n:
		default:
			m.log.Warn(
				"Dropping peer notification for slow subscriber",
				"peer_id", n.PeerID,
				"kind", n.Kind,
			)
		}
	}
}
