package madmin

import (
	"fmt"

	"github.com/meshwork-engine/meshwork/mconsensus"
	"github.com/meshwork-engine/meshwork/mconsensus/mtwophase"
)

// ProposalManager bridges a [Coordinator] to a consensus engine.
// It implements [mconsensus.ProposalManager]: the engine drives it,
// and it reports outcomes on the coordinator's update channel.
type ProposalManager struct {
	c       *Coordinator
	updates chan<- mconsensus.ProposalUpdate
}

// NewProposalManager returns the consensus-facing side of the
// coordinator. updates must be the same channel the engine consumes.
func NewProposalManager(c *Coordinator, updates chan<- mconsensus.ProposalUpdate) *ProposalManager {
	return &ProposalManager{c: c, updates: updates}
}

// CreateProposal turns the oldest ready payload into a consensus
// proposal. With no payload ready it reports an empty creation.
// unpeeredPeers is unused: the coordinator's peering gate already
// keeps payloads with unpeered members out of the ready queue.
//
// The proposal id is the hash of the staged circuit proposal, so
// every member derives the same id; the circuit's member nodes ride
// along as the required verifier set.
func (m *ProposalManager) CreateProposal(consensusData []byte, unpeeredPeers []mconsensus.PeerID) error {
	payload, ok := m.c.PopPendingCircuitPayload()
	if !ok {
		m.updates <- mconsensus.ProposalCreated{}
		return nil
	}

	hash, _, err := m.c.ProposeChange(payload)
	if err != nil {
		return fmt.Errorf("failed to stage payload as proposal: %w", err)
	}

	data := consensusData
	if verifiers := m.c.CurrentVerifiers(); len(verifiers) > 0 {
		rv := mtwophase.RequiredVerifiers{
			Verifiers: make([][]byte, len(verifiers)),
		}
		for i, v := range verifiers {
			rv.Verifiers[i] = []byte(v)
		}
		data, err = rv.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode required verifiers: %w", err)
		}
	}

	proposal := mconsensus.Proposal{
		ID:            mconsensus.ProposalID(hash),
		Summary:       []byte(hash),
		ConsensusData: data,
	}

	m.c.addPendingConsensus(proposal, payload)
	m.updates <- mconsensus.ProposalCreated{Proposal: &proposal}
	return nil
}

// CheckProposal re-derives the proposal from its payload and compares
// the resulting hash against the proposal id. A match stages the
// change and reports valid; anything else reports invalid.
func (m *ProposalManager) CheckProposal(id mconsensus.ProposalID) error {
	pc, ok := m.c.pendingConsensusProposal(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownProposal, id)
	}

	hash, _, err := m.c.ProposeChange(pc.payload)
	if err != nil {
		m.c.log.Warn("Received proposal failed validation", "proposal_id", id, "err", err)
		m.updates <- mconsensus.ProposalInvalid{ID: id}
		return nil
	}

	if mconsensus.ProposalID(hash) != id {
		m.c.log.Warn(
			"Received proposal hash mismatch",
			"proposal_id", id,
			"derived_hash", hash,
		)
		if err := m.c.Rollback(); err != nil {
			return fmt.Errorf("failed to roll back mismatched proposal: %w", err)
		}
		m.updates <- mconsensus.ProposalInvalid{ID: id}
		return nil
	}

	m.updates <- mconsensus.ProposalValid{ID: id}
	return nil
}

// AcceptProposal commits the staged change for the proposal.
func (m *ProposalManager) AcceptProposal(id mconsensus.ProposalID, data []byte) error {
	if _, ok := m.c.removePendingConsensus(id); !ok {
		return fmt.Errorf("%w: %v", ErrUnknownProposal, id)
	}

	if err := m.c.Commit(); err != nil {
		m.updates <- mconsensus.ProposalAcceptFailed{ID: id, Reason: err.Error()}
		return nil
	}

	m.updates <- mconsensus.ProposalAccepted{ID: id}
	return nil
}

// RejectProposal discards any staged change for the proposal.
func (m *ProposalManager) RejectProposal(id mconsensus.ProposalID) error {
	c, ok := m.c.removePendingConsensus(id)
	if !ok {
		m.c.log.Debug("Reject for untracked proposal", "proposal_id", id)
		return nil
	}

	m.c.log.Info(
		"Rejected circuit proposal",
		"proposal_id", id,
		"circuit", payloadCircuitID(c.payload),
	)
	m.c.rollbackStaged(id)
	return nil
}

// payloadCircuitID extracts the circuit id a payload refers to,
// for log output.
func payloadCircuitID(p Payload) string {
	switch {
	case p.CircuitCreateRequest != nil:
		return p.CircuitCreateRequest.Circuit.CircuitID
	case p.CircuitProposalVote != nil:
		return p.CircuitProposalVote.CircuitID
	default:
		return ""
	}
}
