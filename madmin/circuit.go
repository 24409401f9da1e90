package madmin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.dedis.ch/protobuf"
)

// AuthorizationType is how peers on a circuit authorize each other.
type AuthorizationType uint32

const (
	AuthorizationUnset AuthorizationType = iota
	AuthorizationTrust
)

// PersistenceType is how services on a circuit persist state.
type PersistenceType uint32

const (
	PersistenceUnset PersistenceType = iota
	PersistenceAny
)

// DurabilityType is the durability requirement for circuit messages.
type DurabilityType uint32

const (
	DurabilityUnset DurabilityType = iota
	DurabilityNone
)

// RouteType is how messages are routed between circuit services.
type RouteType uint32

const (
	RouteUnset RouteType = iota
	RouteAny
)

// Member is one node participating in a circuit.
type Member struct {
	NodeID   string
	Endpoint string
}

// ServiceArgument is one key/value pair configuring a service.
type ServiceArgument struct {
	Key   string
	Value string
}

// Service is one service in a circuit's roster.
type Service struct {
	ServiceID   string
	ServiceType string

	// Node ids allowed to run the service. Must be members.
	AllowedNodes []string

	Arguments []ServiceArgument
}

// Circuit is a definition of a communication circuit between nodes.
type Circuit struct {
	CircuitID string

	Roster  []Service
	Members []Member

	AuthorizationType AuthorizationType
	Persistence       PersistenceType
	Durability        DurabilityType
	Routes            RouteType

	// Scopes the circuit to the application that manages it,
	// and scopes event delivery to interested subscribers.
	CircuitManagementType string

	ApplicationMetadata []byte
}

// MemberNodeIDs returns the node ids of all members, in order.
func (c Circuit) MemberNodeIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.NodeID
	}
	return ids
}

// circuitWire mirrors Circuit for the codec, which dispatches to
// BinaryMarshaler implementations and so must be handed a type
// without the methods.
type circuitWire Circuit

// MarshalBinary returns the protobuf encoding of the circuit.
func (c Circuit) MarshalBinary() ([]byte, error) {
	w := circuitWire(c)
	return protobuf.Encode(&w)
}

// UnmarshalBinary decodes a protobuf-encoded circuit.
func (c *Circuit) UnmarshalBinary(b []byte) error {
	var w circuitWire
	if err := protobuf.Decode(b, &w); err != nil {
		return err
	}
	*c = Circuit(w)
	return nil
}

// Hash returns the hex sha256 of the circuit's encoding, recorded on
// the circuit's proposal and checked against incoming votes.
func (c Circuit) Hash() (string, error) {
	b, err := c.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode circuit for hashing: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
