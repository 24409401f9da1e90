package mtwophase

import (
	"fmt"

	"go.dedis.ch/protobuf"

	"github.com/meshwork-engine/meshwork/mconsensus"
)

// MessageType distinguishes the two-phase protocol messages.
type MessageType uint32

const (
	MessageTypeUnset MessageType = iota
	MessageTypeProposalVerificationRequest
	MessageTypeProposalVerificationResponse
	MessageTypeProposalResult
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeUnset:
		return "UNSET"
	case MessageTypeProposalVerificationRequest:
		return "PROPOSAL_VERIFICATION_REQUEST"
	case MessageTypeProposalVerificationResponse:
		return "PROPOSAL_VERIFICATION_RESPONSE"
	case MessageTypeProposalResult:
		return "PROPOSAL_RESULT"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(t))
	}
}

// VerificationResponse is a participant's answer to a verification request.
type VerificationResponse uint32

const (
	VerificationResponseUnset VerificationResponse = iota
	VerificationResponseVerified
	VerificationResponseFailed
)

// Result is the proposer's final decision on a proposal.
type Result uint32

const (
	ResultUnset Result = iota
	ResultApply
	ResultReject
)

// Message is the wire form of a two-phase protocol message.
// Only the fields relevant to Type are set; the rest stay at their
// zero, unset values.
type Message struct {
	Type       MessageType
	ProposalID []byte

	// Set when Type is MessageTypeProposalVerificationResponse.
	VerificationResponse VerificationResponse

	// Set when Type is MessageTypeProposalResult.
	Result Result
}

// messageWire keeps the protobuf field numbering stable
// independent of the exported struct.
type messageWire struct {
	Type                 uint32
	ProposalID           []byte
	VerificationResponse uint32
	Result               uint32
}

func (m Message) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&messageWire{
		Type:                 uint32(m.Type),
		ProposalID:           m.ProposalID,
		VerificationResponse: uint32(m.VerificationResponse),
		Result:               uint32(m.Result),
	})
}

func (m *Message) UnmarshalBinary(b []byte) error {
	var w messageWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	m.Type = MessageType(w.Type)
	m.ProposalID = w.ProposalID
	m.VerificationResponse = VerificationResponse(w.VerificationResponse)
	m.Result = Result(w.Result)
	return nil
}

// RequiredVerifiers is the consensus data a proposal may carry
// to override the default set of verifying peers.
type RequiredVerifiers struct {
	Verifiers [][]byte
}

// requiredVerifiersWire mirrors RequiredVerifiers for the codec,
// which dispatches to BinaryMarshaler implementations and so must be
// handed a type without the methods.
type requiredVerifiersWire RequiredVerifiers

func (rv RequiredVerifiers) MarshalBinary() ([]byte, error) {
	w := requiredVerifiersWire(rv)
	return protobuf.Encode(&w)
}

func (rv *RequiredVerifiers) UnmarshalBinary(b []byte) error {
	var w requiredVerifiersWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	*rv = RequiredVerifiers(w)
	return nil
}

// PeerIDs returns the verifiers as consensus peer ids.
func (rv RequiredVerifiers) PeerIDs() []mconsensus.PeerID {
	ids := make([]mconsensus.PeerID, len(rv.Verifiers))
	for i, v := range rv.Verifiers {
		ids[i] = mconsensus.PeerID(v)
	}
	return ids
}
