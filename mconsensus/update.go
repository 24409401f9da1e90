package mconsensus

// ProposalUpdate is an event about a proposal,
// delivered to a consensus engine on its update channel.
//
// Exactly one concrete type backs each value;
// engines switch on the concrete type.
type ProposalUpdate interface {
	isProposalUpdate()
}

// ProposalCreated reports the outcome of an earlier
// [ProposalManager.CreateProposal] call.
// Proposal is nil when the manager had nothing to propose.
type ProposalCreated struct {
	Proposal *Proposal
}

// ProposalReceived reports a proposal received from the given peer.
type ProposalReceived struct {
	Proposal *Proposal
	Origin   PeerID
}

// ProposalValid reports that a proposal checked with
// [ProposalManager.CheckProposal] passed verification.
type ProposalValid struct {
	ID ProposalID
}

// ProposalInvalid reports that a proposal checked with
// [ProposalManager.CheckProposal] failed verification.
type ProposalInvalid struct {
	ID ProposalID
}

// ProposalAccepted reports that an accepted proposal was applied.
type ProposalAccepted struct {
	ID ProposalID
}

// ProposalAcceptFailed reports that applying an accepted proposal failed.
type ProposalAcceptFailed struct {
	ID     ProposalID
	Reason string
}

// Shutdown instructs the engine to stop.
type Shutdown struct{}

func (ProposalCreated) isProposalUpdate()      {}
func (ProposalReceived) isProposalUpdate()     {}
func (ProposalValid) isProposalUpdate()        {}
func (ProposalInvalid) isProposalUpdate()      {}
func (ProposalAccepted) isProposalUpdate()     {}
func (ProposalAcceptFailed) isProposalUpdate() {}
func (Shutdown) isProposalUpdate()             {}
