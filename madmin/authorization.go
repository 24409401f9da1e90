package madmin

import "fmt"

// PeerAuthorizationState is the authorization standing of a peer node.
type PeerAuthorizationState uint8

const (
	_ PeerAuthorizationState = iota // Zero value reserved.

	PeerAuthorized
	PeerUnauthorized
)

func (s PeerAuthorizationState) String() string {
	switch s {
	case PeerAuthorized:
		return "authorized"
	case PeerUnauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("PeerAuthorizationState(%d)", uint8(s))
	}
}

// AuthorizationCallback receives a node's new authorization standing.
type AuthorizationCallback func(nodeID string, state PeerAuthorizationState)

// AuthorizationInquisitor answers whether a node has completed
// authorization with the local node, and pushes changes in standing to
// registered callbacks. The coordinator registers
// [Coordinator.OnAuthorizationChange] at construction.
type AuthorizationInquisitor interface {
	IsAuthorized(nodeID string) bool

	RegisterCallback(cb AuthorizationCallback) error
}
