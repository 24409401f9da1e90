package madmin_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshwork-engine/meshwork/madmin"
)

// inquisitorStub answers authorization queries from a fixed set and
// drives registered callbacks on demand.
type inquisitorStub struct {
	mu         sync.Mutex
	authorized map[string]bool
	callbacks  []madmin.AuthorizationCallback
}

func newInquisitorStub(authorizedNodes ...string) *inquisitorStub {
	m := make(map[string]bool, len(authorizedNodes))
	for _, n := range authorizedNodes {
		m[n] = true
	}
	return &inquisitorStub{authorized: m}
}

func (i *inquisitorStub) SetAuthorized(nodeID string, authorized bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.authorized[nodeID] = authorized
}

func (i *inquisitorStub) IsAuthorized(nodeID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.authorized[nodeID]
}

func (i *inquisitorStub) RegisterCallback(cb madmin.AuthorizationCallback) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.callbacks = append(i.callbacks, cb)
	return nil
}

// NotifyChange updates the set and invokes every registered callback.
func (i *inquisitorStub) NotifyChange(nodeID string, state madmin.PeerAuthorizationState) {
	i.mu.Lock()
	i.authorized[nodeID] = state == madmin.PeerAuthorized
	cbs := make([]madmin.AuthorizationCallback, len(i.callbacks))
	copy(cbs, i.callbacks)
	i.mu.Unlock()

	for _, cb := range cbs {
		cb(nodeID, state)
	}
}

// connectorStub records connection requests.
type connectorStub struct {
	mu        sync.Mutex
	connected []string
}

func (c *connectorStub) ConnectPeer(nodeID string, endpoints []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = append(c.connected, nodeID)
	return nil
}

func (c *connectorStub) Connected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.connected))
	copy(out, c.connected)
	return out
}

// eventRecorder is a subscriber that records events.
// Returning stopAfter > 0 events unsubscribes it.
type eventRecorder struct {
	mu        sync.Mutex
	events    []madmin.Event
	stopAfter int
}

func (r *eventRecorder) HandleEvent(event madmin.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.stopAfter > 0 && len(r.events) >= r.stopAfter {
		return madmin.ErrUnsubscribe
	}
	return nil
}

func (r *eventRecorder) Events() []madmin.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]madmin.Event, len(r.events))
	copy(out, r.events)
	return out
}

// testCircuit returns a valid two-member circuit with the local node
// "node-a".
func testCircuit() madmin.Circuit {
	return madmin.Circuit{
		CircuitID: "circuit-01",
		Roster: []madmin.Service{
			{
				ServiceID:    "svc-01",
				ServiceType:  "ledger",
				AllowedNodes: []string{"node-a"},
			},
			{
				ServiceID:    "svc-02",
				ServiceType:  "ledger",
				AllowedNodes: []string{"node-b"},
			},
		},
		Members: []madmin.Member{
			{NodeID: "node-a", Endpoint: "tcp://node-a:8000"},
			{NodeID: "node-b", Endpoint: "tcp://node-b:8000"},
		},
		AuthorizationType:     madmin.AuthorizationTrust,
		Persistence:           madmin.PersistenceAny,
		Durability:            madmin.DurabilityNone,
		Routes:                madmin.RouteAny,
		CircuitManagementType: "meshtest",
	}
}

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return signer{pub: pub, priv: priv}
}

// SignedPayload builds a payload with a valid signature over the
// header bytes.
func (s signer) SignedPayload(t *testing.T, action madmin.Action, requesterNodeID string, circuit madmin.Circuit) madmin.Payload {
	t.Helper()

	header, err := madmin.Header{
		Action:          action,
		Requester:       s.pub,
		RequesterNodeID: requesterNodeID,
	}.MarshalBinary()
	require.NoError(t, err)

	return madmin.Payload{
		Header:    header,
		Signature: ed25519.Sign(s.priv, header),
		CircuitCreateRequest: &madmin.CircuitCreateRequest{
			Circuit: circuit,
		},
	}
}

// SignedVotePayload builds a vote payload with a valid signature over
// the header bytes.
func (s signer) SignedVotePayload(t *testing.T, requesterNodeID, circuitID, circuitHash string, vote madmin.Vote) madmin.Payload {
	t.Helper()

	header, err := madmin.Header{
		Action:          madmin.ActionCircuitProposalVote,
		Requester:       s.pub,
		RequesterNodeID: requesterNodeID,
	}.MarshalBinary()
	require.NoError(t, err)

	return madmin.Payload{
		Header:    header,
		Signature: ed25519.Sign(s.priv, header),
		CircuitProposalVote: &madmin.CircuitProposalVote{
			CircuitID:   circuitID,
			CircuitHash: circuitHash,
			Vote:        vote,
		},
	}
}

// expectedProposal mirrors the proposal a coordinator derives from a
// create payload, along with its hash, which is the consensus
// proposal id.
func expectedProposal(t *testing.T, s signer, requesterNodeID string, circuit madmin.Circuit) (madmin.CircuitProposal, string) {
	t.Helper()

	circuitHash, err := circuit.Hash()
	require.NoError(t, err)

	p := madmin.CircuitProposal{
		Type:            madmin.ProposalCreate,
		CircuitID:       circuit.CircuitID,
		CircuitHash:     circuitHash,
		Circuit:         circuit,
		Requester:       s.pub,
		RequesterNodeID: requesterNodeID,
	}
	hash, err := p.Hash()
	require.NoError(t, err)
	return p, hash
}
