package madmin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.dedis.ch/protobuf"
)

// ProposalType is the kind of change a circuit proposal describes.
type ProposalType uint32

const (
	ProposalUnset ProposalType = iota
	ProposalCreate
)

// Vote is a member's position on an open circuit proposal.
type Vote uint32

const (
	VoteUnset Vote = iota
	VoteAccept
	VoteReject
)

func (v Vote) String() string {
	switch v {
	case VoteUnset:
		return "UNSET"
	case VoteAccept:
		return "ACCEPT"
	case VoteReject:
		return "REJECT"
	default:
		return fmt.Sprintf("Vote(%d)", uint32(v))
	}
}

// VoteRecord is one member's recorded vote on a proposal.
type VoteRecord struct {
	// Public key of the voter.
	PublicKey []byte

	Vote Vote

	VoterNodeID string
}

// CircuitProposal is a proposed change to the circuit directory,
// held open until the members vote on it.
type CircuitProposal struct {
	Type ProposalType

	CircuitID string

	// Hex sha256 of the proposed circuit's encoding.
	CircuitHash string

	Circuit Circuit

	// Votes received so far, in arrival order.
	Votes []VoteRecord

	// Public key of the member that requested the change.
	Requester []byte

	RequesterNodeID string
}

// circuitProposalWire mirrors CircuitProposal for the codec, which
// dispatches to BinaryMarshaler implementations and so must be handed
// a type without the methods.
type circuitProposalWire CircuitProposal

// MarshalBinary returns the protobuf encoding of the proposal.
func (p CircuitProposal) MarshalBinary() ([]byte, error) {
	w := circuitProposalWire(p)
	return protobuf.Encode(&w)
}

// UnmarshalBinary decodes a protobuf-encoded proposal.
func (p *CircuitProposal) UnmarshalBinary(b []byte) error {
	var w circuitProposalWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	*p = CircuitProposal(w)
	return nil
}

// Hash returns the hex sha256 of the proposal's encoding. The hash is
// the consensus proposal id for the staged change; it covers the vote
// records, so every vote on a circuit yields a distinct id.
func (p CircuitProposal) Hash() (string, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode proposal for hashing: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
