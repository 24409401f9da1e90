// Package mconsensustest provides in-memory implementations of the
// mconsensus contracts, for use in engine and coordinator tests.
package mconsensustest

import (
	"sync"

	"github.com/meshwork-engine/meshwork/mconsensus"
)

// MockProposalManager is a [mconsensus.ProposalManager] that fabricates
// proposals on demand and records accept and reject calls.
//
// Each CreateProposal call produces a proposal whose id and summary are
// the single byte of its height, so tests can predict proposal ids.
// It is safe for concurrent use.
type MockProposalManager struct {
	updates chan<- mconsensus.ProposalUpdate

	mu sync.Mutex

	lastHeight uint64
	lastID     mconsensus.ProposalID

	accepted []AcceptedProposal
	rejected []mconsensus.ProposalID

	nextProposalValid bool
	returnProposal    bool
	consensusData     []byte
}

// AcceptedProposal records one AcceptProposal call.
type AcceptedProposal struct {
	ID   mconsensus.ProposalID
	Data []byte
}

// NewMockProposalManager returns a manager that reports outcomes
// on the given update channel.
// Until configured otherwise, every CreateProposal call returns a
// proposal and every CheckProposal call reports valid.
func NewMockProposalManager(updates chan<- mconsensus.ProposalUpdate) *MockProposalManager {
	return &MockProposalManager{
		updates: updates,

		nextProposalValid: true,
		returnProposal:    true,
	}
}

// SetNextProposalValid controls whether CheckProposal reports
// [mconsensus.ProposalValid] or [mconsensus.ProposalInvalid].
func (m *MockProposalManager) SetNextProposalValid(valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextProposalValid = valid
}

// SetReturnProposal controls whether CreateProposal produces a proposal
// or reports a nil [mconsensus.ProposalCreated].
func (m *MockProposalManager) SetReturnProposal(ret bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnProposal = ret
}

// SetConsensusData overrides the consensus data attached to
// proposals produced by CreateProposal.
func (m *MockProposalManager) SetConsensusData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consensusData = data
}

// AcceptedProposals returns a copy of the recorded AcceptProposal calls.
func (m *MockProposalManager) AcceptedProposals() []AcceptedProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AcceptedProposal, len(m.accepted))
	copy(out, m.accepted)
	return out
}

// RejectedProposals returns a copy of the recorded RejectProposal calls.
func (m *MockProposalManager) RejectedProposals() []mconsensus.ProposalID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mconsensus.ProposalID, len(m.rejected))
	copy(out, m.rejected)
	return out
}

func (m *MockProposalManager) CreateProposal(consensusData []byte, unpeeredPeers []mconsensus.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.returnProposal {
		m.updates <- mconsensus.ProposalCreated{}
		return nil
	}

	m.lastHeight++
	id := mconsensus.ProposalID([]byte{byte(m.lastHeight)})

	p := &mconsensus.Proposal{
		ID:         id,
		PreviousID: m.lastID,
		Height:     m.lastHeight,
		Summary:    id.Bytes(),
	}
	if m.consensusData != nil {
		p.ConsensusData = m.consensusData
	} else {
		p.ConsensusData = consensusData
	}

	m.lastID = id

	m.updates <- mconsensus.ProposalCreated{Proposal: p}
	return nil
}

func (m *MockProposalManager) CheckProposal(id mconsensus.ProposalID) error {
	m.mu.Lock()
	valid := m.nextProposalValid
	m.mu.Unlock()

	if valid {
		m.updates <- mconsensus.ProposalValid{ID: id}
	} else {
		m.updates <- mconsensus.ProposalInvalid{ID: id}
	}
	return nil
}

func (m *MockProposalManager) AcceptProposal(id mconsensus.ProposalID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted = append(m.accepted, AcceptedProposal{ID: id, Data: data})
	return nil
}

func (m *MockProposalManager) RejectProposal(id mconsensus.ProposalID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, id)
	return nil
}

// SentMessage records one SendTo call on a [MockNetworkSender].
type SentMessage struct {
	Peer    mconsensus.PeerID
	Message []byte
}

// MockNetworkSender is a [mconsensus.NetworkSender] that records
// every message instead of sending it. Safe for concurrent use.
type MockNetworkSender struct {
	mu        sync.Mutex
	sent      []SentMessage
	broadcast [][]byte
}

func NewMockNetworkSender() *MockNetworkSender {
	return &MockNetworkSender{}
}

// SentMessages returns a copy of the messages passed to SendTo.
func (s *MockNetworkSender) SentMessages() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// BroadcastMessages returns a copy of the messages passed to Broadcast.
func (s *MockNetworkSender) BroadcastMessages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.broadcast))
	copy(out, s.broadcast)
	return out
}

func (s *MockNetworkSender) SendTo(peer mconsensus.PeerID, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentMessage{Peer: peer, Message: message})
	return nil
}

func (s *MockNetworkSender) Broadcast(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = append(s.broadcast, message)
	return nil
}
