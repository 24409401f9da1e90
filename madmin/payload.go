package madmin

import (
	"fmt"

	"go.dedis.ch/protobuf"
)

// Action is the operation a management payload requests.
type Action uint32

const (
	ActionUnset Action = iota
	ActionCircuitCreateRequest
	ActionCircuitProposalVote
)

func (a Action) String() string {
	switch a {
	case ActionUnset:
		return "UNSET"
	case ActionCircuitCreateRequest:
		return "CIRCUIT_CREATE_REQUEST"
	case ActionCircuitProposalVote:
		return "CIRCUIT_PROPOSAL_VOTE"
	default:
		return fmt.Sprintf("Action(%d)", uint32(a))
	}
}

// Header identifies the action and the requester of a payload.
// It travels as encoded bytes inside [Payload] so that the signature
// covers the exact bytes the requester signed.
type Header struct {
	Action Action

	// The requester's public key.
	Requester []byte

	// The node the requester submitted the payload through.
	RequesterNodeID string
}

type headerWire struct {
	Action          uint32
	Requester       []byte
	RequesterNodeID string
}

// MarshalBinary returns the protobuf encoding of the header.
func (h Header) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&headerWire{
		Action:          uint32(h.Action),
		Requester:       h.Requester,
		RequesterNodeID: h.RequesterNodeID,
	})
}

// UnmarshalBinary decodes a protobuf-encoded header.
func (h *Header) UnmarshalBinary(b []byte) error {
	var w headerWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	h.Action = Action(w.Action)
	h.Requester = w.Requester
	h.RequesterNodeID = w.RequesterNodeID
	return nil
}

// CircuitCreateRequest asks for a new circuit to be proposed.
type CircuitCreateRequest struct {
	Circuit Circuit
}

// CircuitProposalVote casts a vote on an open circuit proposal.
type CircuitProposalVote struct {
	CircuitID string

	// Hash of the circuit being voted on; must match the open
	// proposal's circuit hash.
	CircuitHash string

	Vote Vote
}

// Payload is a signed circuit management request.
type Payload struct {
	// Encoded [Header] bytes; the signature covers exactly these.
	Header []byte

	Signature []byte

	// Set when the header action is ActionCircuitCreateRequest.
	CircuitCreateRequest *CircuitCreateRequest

	// Set when the header action is ActionCircuitProposalVote.
	CircuitProposalVote *CircuitProposalVote
}

// DecodeHeader decodes the payload's header bytes.
func (p Payload) DecodeHeader() (Header, error) {
	var h Header
	if err := h.UnmarshalBinary(p.Header); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidMessageFormat, err)
	}
	return h, nil
}

// payloadWire mirrors Payload for the codec, which dispatches to
// BinaryMarshaler implementations and so must be handed a type
// without the methods.
type payloadWire Payload

// MarshalBinary returns the protobuf encoding of the payload.
func (p Payload) MarshalBinary() ([]byte, error) {
	w := payloadWire(p)
	return protobuf.Encode(&w)
}

// UnmarshalBinary decodes a protobuf-encoded payload.
func (p *Payload) UnmarshalBinary(b []byte) error {
	var w payloadWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	*p = Payload(w)
	return nil
}
