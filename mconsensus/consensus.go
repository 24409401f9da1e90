package mconsensus

import (
	"encoding/hex"

	"go.dedis.ch/protobuf"
)

// PeerID is an opaque identifier for a consensus peer.
// It is only ever compared for equality or used as a map key;
// the bytes carry no meaning to the consensus framework.
type PeerID string

func (id PeerID) Bytes() []byte {
	return []byte(id)
}

// String returns the hex encoding of the id, for log output.
func (id PeerID) String() string {
	return hex.EncodeToString([]byte(id))
}

// ProposalID is an opaque identifier for a proposal,
// assigned by the proposal manager that created it.
type ProposalID string

func (id ProposalID) Bytes() []byte {
	return []byte(id)
}

// String returns the hex encoding of the id, for log output.
func (id ProposalID) String() string {
	return hex.EncodeToString([]byte(id))
}

// Proposal is a potential change as tracked by a consensus engine.
// The engine treats every field other than ID and ConsensusData
// as opaque bookkeeping for the proposal manager.
type Proposal struct {
	ID ProposalID

	// ID of the proposal this proposal builds on.
	PreviousID ProposalID

	Height uint64

	// Summary of the changes the proposal would apply.
	Summary []byte

	// Opaque data an engine implementation may interpret,
	// for example to override the set of required verifiers.
	ConsensusData []byte
}

// proposalWire is the protobuf form of [Proposal].
type proposalWire struct {
	ID            []byte
	PreviousID    []byte
	Height        uint64
	Summary       []byte
	ConsensusData []byte
}

// MarshalBinary returns the protobuf encoding of the proposal.
func (p Proposal) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&proposalWire{
		ID:            []byte(p.ID),
		PreviousID:    []byte(p.PreviousID),
		Height:        p.Height,
		Summary:       p.Summary,
		ConsensusData: p.ConsensusData,
	})
}

// UnmarshalBinary decodes a protobuf-encoded proposal.
func (p *Proposal) UnmarshalBinary(b []byte) error {
	var w proposalWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	p.ID = ProposalID(w.ID)
	p.PreviousID = ProposalID(w.PreviousID)
	p.Height = w.Height
	p.Summary = w.Summary
	p.ConsensusData = w.ConsensusData
	return nil
}

// ConsensusMessage is an engine-defined message received from another peer,
// paired with the id of the peer that sent it.
type ConsensusMessage struct {
	Message []byte
	Origin  PeerID
}

// consensusMessageWire is the protobuf form of [ConsensusMessage].
type consensusMessageWire struct {
	Message []byte
	Origin  []byte
}

// MarshalBinary returns the protobuf encoding of the message envelope.
func (m ConsensusMessage) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&consensusMessageWire{
		Message: m.Message,
		Origin:  []byte(m.Origin),
	})
}

// UnmarshalBinary decodes a protobuf-encoded message envelope.
func (m *ConsensusMessage) UnmarshalBinary(b []byte) error {
	var w consensusMessageWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	m.Message = w.Message
	m.Origin = PeerID(w.Origin)
	return nil
}

// StartupState is the initial state an engine is given when it starts.
type StartupState struct {
	// The identifier of this consensus peer.
	ID PeerID

	// The other peers participating in consensus, not including ID.
	PeerIDs []PeerID

	// The last proposal that was accepted, if any.
	LastProposal *Proposal
}
