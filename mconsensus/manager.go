package mconsensus

// ProposalManager is the interface between a consensus engine
// and the component that creates, verifies and applies proposals.
//
// All methods are asynchronous: the outcome of a call is reported
// as a [ProposalUpdate] on the engine's update channel,
// not through the return value.
// The returned error only indicates that the request itself
// could not be made.
type ProposalManager interface {
	// CreateProposal requests creation of a new proposal.
	// consensusData, which may be nil, is attached to the resulting
	// proposal for the engine's own use. unpeeredPeers, which may be
	// nil, lists peers the proposal must not depend on.
	//
	// The outcome arrives as a [ProposalCreated] update,
	// with a nil proposal if there was nothing to propose.
	CreateProposal(consensusData []byte, unpeeredPeers []PeerID) error

	// CheckProposal requests verification of the proposal with the
	// given id. The outcome arrives as a [ProposalValid] or
	// [ProposalInvalid] update.
	CheckProposal(id ProposalID) error

	// AcceptProposal marks the proposal as accepted by consensus
	// and requests that it be applied. data, which may be nil,
	// is implementation-defined keying material for the commit.
	//
	// The outcome arrives as a [ProposalAccepted] or
	// [ProposalAcceptFailed] update.
	AcceptProposal(id ProposalID, data []byte) error

	// RejectProposal marks the proposal as rejected by consensus
	// and requests that any pending state for it be discarded.
	RejectProposal(id ProposalID) error
}

// NetworkSender sends consensus messages to other peers.
// The message bytes are engine-defined; implementations wrap them
// in a [ConsensusMessage] envelope identifying the local peer.
type NetworkSender interface {
	// SendTo sends a message to a single peer.
	SendTo(peer PeerID, message []byte) error

	// Broadcast sends a message to all consensus peers.
	Broadcast(message []byte) error
}
