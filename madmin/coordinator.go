// Package madmin admits circuit management payloads into consensus.
//
// The coordinator validates signed payloads, holds them until every
// affected peer is connected and authorized, and feeds them one at a
// time through a consensus engine via its [ProposalManager]. Committed
// proposals are opened for voting and announced to subscribers of the
// circuit's management type.
package madmin

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/meshwork-engine/meshwork/mconsensus"
)

// payloadKind distinguishes what an unpeered payload becomes
// once its peers are ready.
type payloadKind uint8

const (
	_ payloadKind = iota // Zero value reserved.

	// A locally submitted payload, queued for proposal creation.
	payloadCircuit

	// A proposal received from another node, handed to the engine.
	payloadConsensus
)

// unpeeredPayload is a payload waiting for member nodes to finish
// authorization.
type unpeeredPayload struct {
	// Node ids the payload is still waiting on.
	awaiting []string

	kind    payloadKind
	payload Payload

	// Set for payloadConsensus.
	proposal *mconsensus.Proposal
	origin   mconsensus.PeerID
}

// pendingConsensusProposal pairs an in-flight consensus proposal with
// the payload it was derived from.
type pendingConsensusProposal struct {
	proposal mconsensus.Proposal
	payload  Payload
}

// pendingChange is the single slot for a change that has been
// validated but not yet committed or rolled back.
type pendingChange struct {
	proposal CircuitProposal

	// What the change does; decides the event emitted on commit.
	action Action

	// Hash of the staged proposal, which is its consensus proposal
	// id.
	expectedHash string
}

// Coordinator is the admission pipeline for circuit management
// payloads. All methods are safe for concurrent use; a single mutex
// guards the coordinator's state.
type Coordinator struct {
	log *slog.Logger

	nodeID string

	peers      PeerConnector
	inquisitor AuthorizationInquisitor

	// Nil means no verifier is configured; Submit then fails closed.
	verifier SignatureVerifier

	// Outcomes and received proposals for the consensus engine.
	// Must be buffered; see the engine's constructor.
	updates chan<- mconsensus.ProposalUpdate

	mu sync.Mutex

	pending *pendingChange

	// Member node ids of the pending change, used as the required
	// verifier set when the change becomes a consensus proposal.
	currentVerifiers []string

	// Circuit id -> committed-but-unvoted proposal.
	openProposals map[string]CircuitProposal

	// Circuit id -> circuit, for circuits whose proposals passed
	// the vote.
	circuits map[string]Circuit

	unpeered []unpeeredPayload

	// Payloads whose peers are all connected and authorized,
	// in submission order.
	pendingPayloads []Payload

	pendingConsensus map[mconsensus.ProposalID]pendingConsensusProposal

	subscribers *subscriberMap
	mailbox     *mailbox
}

// NewCoordinator returns a coordinator for the given local node,
// registered with the inquisitor for authorization changes.
//
// verifier may be nil, in which case Submit rejects every payload.
// updates carries proposal updates to the consensus engine and must be
// a buffered channel.
func NewCoordinator(
	log *slog.Logger,
	nodeID string,
	peers PeerConnector,
	inquisitor AuthorizationInquisitor,
	verifier SignatureVerifier,
	updates chan<- mconsensus.ProposalUpdate,
) (*Coordinator, error) {
	c := &Coordinator{
		log: log,

		nodeID: nodeID,

		peers:      peers,
		inquisitor: inquisitor,
		verifier:   verifier,

		updates: updates,

		openProposals:    make(map[string]CircuitProposal),
		circuits:         make(map[string]Circuit),
		pendingConsensus: make(map[mconsensus.ProposalID]pendingConsensusProposal),

		subscribers: newSubscriberMap(),
		mailbox:     newMailbox(),
	}

	if err := inquisitor.RegisterCallback(c.OnAuthorizationChange); err != nil {
		return nil, fmt.Errorf("failed to register authorization callback: %w", err)
	}
	return c, nil
}

// NodeID returns the local node id the coordinator validates against.
func (c *Coordinator) NodeID() string {
	return c.nodeID
}

// Submit validates a payload end to end, connects its member peers,
// and queues it for consensus. It is the entry point for locally
// submitted payloads.
func (c *Coordinator) Submit(payload Payload) error {
	header, err := payload.DecodeHeader()
	if err != nil {
		return err
	}

	if err := c.verifySignature(header, payload); err != nil {
		return err
	}

	switch header.Action {
	case ActionCircuitCreateRequest:
		return c.ProposeCircuit(payload)
	case ActionCircuitProposalVote:
		return c.ProposeVote(payload)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownAction, header.Action)
	}
}

// verifySignature checks the payload signature against the requester
// key in the header. With no verifier configured every payload is
// rejected rather than admitted unsigned.
func (c *Coordinator) verifySignature(header Header, payload Payload) error {
	if len(header.Requester) == 0 {
		return fmt.Errorf("%w: requester public key is not set", ErrUndefinedSigner)
	}
	if c.verifier == nil {
		return fmt.Errorf("%w: no signature verifier configured", ErrUndefinedSigner)
	}
	if len(payload.Signature) == 0 {
		return fmt.Errorf("%w: payload is not signed", ErrInvalidSignature)
	}

	ok, err := c.verifier.Verify(payload.Header, payload.Signature, header.Requester)
	if err != nil {
		return fmt.Errorf("failed to verify payload signature: %w", err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// ProposeCircuit connects to the circuit's member nodes and queues the
// payload for consensus. If any member has not completed authorization
// the payload waits in the unpeered queue until
// [Coordinator.OnAuthorizationChange] reports it authorized.
func (c *Coordinator) ProposeCircuit(payload Payload) error {
	if payload.CircuitCreateRequest == nil {
		return fmt.Errorf("%w: create request missing from payload", ErrInvalidMessageFormat)
	}

	awaiting, err := c.connectMembers(payload.CircuitCreateRequest.Circuit)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(awaiting) > 0 {
		c.log.Debug(
			"Payload waiting on peer authorization",
			"circuit", payload.CircuitCreateRequest.Circuit.CircuitID,
			"awaiting", awaiting,
		)
		c.unpeered = append(c.unpeered, unpeeredPayload{
			awaiting: awaiting,
			kind:     payloadCircuit,
			payload:  payload,
		})
		return nil
	}

	c.pendingPayloads = append(c.pendingPayloads, payload)
	return nil
}

// ProposeVote queues a vote on an open circuit proposal for
// consensus, applying the same peering gate as circuit proposals.
// A vote for a circuit with no open proposal is rejected.
func (c *Coordinator) ProposeVote(payload Payload) error {
	if payload.CircuitProposalVote == nil {
		return fmt.Errorf("%w: vote missing from payload", ErrInvalidMessageFormat)
	}
	circuitID := payload.CircuitProposalVote.CircuitID

	c.mu.Lock()
	proposal, open := c.openProposals[circuitID]
	c.mu.Unlock()
	if !open {
		return fmt.Errorf(
			"%w: received vote for circuit %q with no open proposal",
			ErrUnknownProposal, circuitID,
		)
	}

	awaiting, err := c.connectMembers(proposal.Circuit)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(awaiting) > 0 {
		c.log.Debug(
			"Vote waiting on peer authorization",
			"circuit", circuitID,
			"awaiting", awaiting,
		)
		c.unpeered = append(c.unpeered, unpeeredPayload{
			awaiting: awaiting,
			kind:     payloadCircuit,
			payload:  payload,
		})
		return nil
	}

	c.pendingPayloads = append(c.pendingPayloads, payload)
	return nil
}

// HandleProposedCircuit accepts a circuit proposal received from
// another node, applying the same peering gate as locally submitted
// payloads before handing the proposal to the consensus engine.
func (c *Coordinator) HandleProposedCircuit(
	proposal mconsensus.Proposal,
	payload Payload,
	origin mconsensus.PeerID,
) error {
	if payload.CircuitCreateRequest == nil {
		return fmt.Errorf("%w: create request missing from payload", ErrInvalidMessageFormat)
	}

	awaiting, err := c.connectMembers(payload.CircuitCreateRequest.Circuit)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(awaiting) > 0 {
		c.log.Debug(
			"Received proposal waiting on peer authorization",
			"circuit", payload.CircuitCreateRequest.Circuit.CircuitID,
			"awaiting", awaiting,
		)
		c.unpeered = append(c.unpeered, unpeeredPayload{
			awaiting: awaiting,
			kind:     payloadConsensus,
			payload:  payload,
			proposal: &proposal,
			origin:   origin,
		})
		return nil
	}

	c.admitProposalLocked(proposal, payload, origin)
	return nil
}

// connectMembers connects to every member except the local node and
// returns the node ids that have not completed authorization yet.
func (c *Coordinator) connectMembers(circuit Circuit) ([]string, error) {
	var awaiting []string
	for _, m := range circuit.Members {
		if m.NodeID == c.nodeID {
			continue
		}

		if err := c.peers.ConnectPeer(m.NodeID, []string{m.Endpoint}); err != nil {
			return nil, fmt.Errorf("failed to connect circuit member: %w", err)
		}
		if !c.inquisitor.IsAuthorized(m.NodeID) {
			awaiting = append(awaiting, m.NodeID)
		}
	}
	return awaiting, nil
}

// admitProposalLocked registers a received proposal and forwards it to
// the consensus engine. The lock must be held.
func (c *Coordinator) admitProposalLocked(
	proposal mconsensus.Proposal,
	payload Payload,
	origin mconsensus.PeerID,
) {
	c.pendingConsensus[proposal.ID] = pendingConsensusProposal{
		proposal: proposal,
		payload:  payload,
	}
	c.updates <- mconsensus.ProposalReceived{
		Proposal: &proposal,
		Origin:   origin,
	}
}

// OnAuthorizationChange updates the unpeered queue with a node's new
// authorization standing. An authorized node is removed from every
// waiting list, and payloads left with nothing to wait on are
// admitted. An unauthorized node abandons every payload waiting on
// it: the whole waiting list is cleared without admitting the
// payload, which then sits with an empty list until the next
// authorization event of any node admits it.
func (c *Coordinator) OnAuthorizationChange(nodeID string, state PeerAuthorizationState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.unpeered[:0]
	for _, up := range c.unpeered {
		switch state {
		case PeerAuthorized:
			up.awaiting = slices.DeleteFunc(up.awaiting, func(id string) bool {
				return id == nodeID
			})

			if len(up.awaiting) == 0 {
				switch up.kind {
				case payloadCircuit:
					c.pendingPayloads = append(c.pendingPayloads, up.payload)
				case payloadConsensus:
					c.admitProposalLocked(*up.proposal, up.payload, up.origin)
				}
				continue
			}

		case PeerUnauthorized:
			if slices.Contains(up.awaiting, nodeID) {
				up.awaiting = nil
			}
		}

		kept = append(kept, up)
	}
	c.unpeered = kept

	c.log.Debug(
		"Processed authorization change",
		"node_id", nodeID,
		"state", state,
		"still_unpeered", len(c.unpeered),
	)
}

// PopPendingCircuitPayload removes and returns the oldest payload that
// is ready for consensus, if any.
func (c *Coordinator) PopPendingCircuitPayload() (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingPayloads) == 0 {
		return Payload{}, false
	}
	payload := c.pendingPayloads[0]
	c.pendingPayloads = c.pendingPayloads[1:]
	return payload, true
}

// ProposeChange validates the payload and stages it as the pending
// change, replacing any change already staged. It returns the expected
// hash of the staged proposal, which doubles as the consensus proposal
// id.
func (c *Coordinator) ProposeChange(payload Payload) (string, CircuitProposal, error) {
	header, err := payload.DecodeHeader()
	if err != nil {
		return "", CircuitProposal{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch header.Action {
	case ActionCircuitCreateRequest:
		if payload.CircuitCreateRequest == nil {
			return "", CircuitProposal{}, fmt.Errorf(
				"%w: create request missing from payload", ErrInvalidMessageFormat,
			)
		}
		circuit := payload.CircuitCreateRequest.Circuit

		if err := c.validateCreateCircuit(header, circuit); err != nil {
			return "", CircuitProposal{}, err
		}

		circuitHash, err := circuit.Hash()
		if err != nil {
			return "", CircuitProposal{}, err
		}

		proposal := CircuitProposal{
			Type:            ProposalCreate,
			CircuitID:       circuit.CircuitID,
			CircuitHash:     circuitHash,
			Circuit:         circuit,
			Requester:       header.Requester,
			RequesterNodeID: header.RequesterNodeID,
		}

		return c.stageChangeLocked(proposal, header.Action)

	case ActionCircuitProposalVote:
		if payload.CircuitProposalVote == nil {
			return "", CircuitProposal{}, fmt.Errorf(
				"%w: vote missing from payload", ErrInvalidMessageFormat,
			)
		}
		vote := *payload.CircuitProposalVote

		proposal, open := c.openProposals[vote.CircuitID]
		if !open {
			return "", CircuitProposal{}, fmt.Errorf(
				"%w: received vote for circuit %q with no open proposal",
				ErrUnknownProposal, vote.CircuitID,
			)
		}

		if err := c.validateCircuitVote(header, vote, proposal); err != nil {
			return "", CircuitProposal{}, err
		}

		proposal.Votes = append(slices.Clone(proposal.Votes), VoteRecord{
			PublicKey:   header.Requester,
			Vote:        vote.Vote,
			VoterNodeID: header.RequesterNodeID,
		})

		return c.stageChangeLocked(proposal, header.Action)

	case ActionUnset:
		return "", CircuitProposal{}, fmt.Errorf("%w: action is not set", ErrUnknownAction)

	default:
		return "", CircuitProposal{}, fmt.Errorf("%w: %v", ErrUnknownAction, header.Action)
	}
}

// stageChangeLocked fills the pending-change slot with the proposal.
// The lock must be held.
func (c *Coordinator) stageChangeLocked(proposal CircuitProposal, action Action) (string, CircuitProposal, error) {
	hash, err := proposal.Hash()
	if err != nil {
		return "", CircuitProposal{}, err
	}

	if c.pending != nil {
		c.log.Warn(
			"Replacing pending change",
			"old_circuit", c.pending.proposal.CircuitID,
			"new_circuit", proposal.CircuitID,
		)
	}
	c.pending = &pendingChange{
		proposal:     proposal,
		action:       action,
		expectedHash: hash,
	}
	c.currentVerifiers = proposal.Circuit.MemberNodeIDs()

	return hash, proposal, nil
}

// proposalStatus is where an open proposal's vote stands.
type proposalStatus uint8

const (
	proposalPending proposalStatus = iota
	proposalAccepted
	proposalRejected
)

// checkApproved reports the proposal's standing. Any reject vote
// rejects it outright; accept votes from exactly the members other
// than the requester accept it.
func checkApproved(p CircuitProposal) proposalStatus {
	received := make(map[string]struct{}, len(p.Votes))
	for _, rec := range p.Votes {
		if rec.Vote == VoteReject {
			return proposalRejected
		}
		received[rec.VoterNodeID] = struct{}{}
	}

	required := make(map[string]struct{}, len(p.Circuit.Members))
	for _, m := range p.Circuit.Members {
		if m.NodeID != p.RequesterNodeID {
			required[m.NodeID] = struct{}{}
		}
	}

	if maps.Equal(received, required) {
		return proposalAccepted
	}
	return proposalPending
}

// Commit applies the pending change and announces the outcome to
// subscribers of the circuit's management type. A change still
// awaiting votes opens (or updates) the proposal; one with every
// required vote commits the circuit; one with a reject vote closes
// the proposal.
func (c *Coordinator) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return ErrNoPendingChanges
	}

	proposal := c.pending.proposal
	action := c.pending.action
	c.pending = nil
	c.currentVerifiers = nil

	managementType := proposal.Circuit.CircuitManagementType

	var event Event
	switch checkApproved(proposal) {
	case proposalAccepted:
		delete(c.openProposals, proposal.CircuitID)
		c.circuits[proposal.CircuitID] = proposal.Circuit
		event = Event{Kind: EventProposalAccepted, Proposal: proposal}
		c.log.Info(
			"Committed circuit",
			"circuit", proposal.CircuitID,
			"management_type", managementType,
		)

	case proposalRejected:
		delete(c.openProposals, proposal.CircuitID)
		event = Event{Kind: EventProposalRejected, Proposal: proposal}
		c.log.Info(
			"Circuit proposal rejected by vote",
			"circuit", proposal.CircuitID,
			"management_type", managementType,
		)

	default:
		c.openProposals[proposal.CircuitID] = proposal

		kind := EventProposalSubmitted
		if action == ActionCircuitProposalVote {
			kind = EventProposalVote
		}
		event = Event{Kind: kind, Proposal: proposal}
		c.log.Info(
			"Committed circuit proposal",
			"circuit", proposal.CircuitID,
			"management_type", managementType,
			"votes", len(proposal.Votes),
		)
	}

	c.mailbox.add(event)
	c.subscribers.broadcast(c.log, managementType, event)
	return nil
}

// Rollback discards the pending change. With nothing pending it only
// logs; rolling back an empty slot is not an error.
func (c *Coordinator) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		c.log.Info("Rollback requested with no pending changes")
		return nil
	}

	c.log.Info("Discarding pending change", "circuit", c.pending.proposal.CircuitID)
	c.pending = nil
	c.currentVerifiers = nil
	return nil
}

// rollbackStaged discards the pending change only if it was derived
// for the given proposal id. A rejected competing proposal must not
// take down the change staged for the proposal still in flight.
func (c *Coordinator) rollbackStaged(id mconsensus.ProposalID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.expectedHash != string(id) {
		return
	}

	c.log.Info("Discarding pending change", "circuit", c.pending.proposal.CircuitID)
	c.pending = nil
	c.currentVerifiers = nil
}

// CurrentVerifiers returns the member node ids of the pending change.
func (c *Coordinator) CurrentVerifiers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.currentVerifiers)
}

// OpenProposal returns the open proposal for the circuit id, if any.
func (c *Coordinator) OpenProposal(circuitID string) (CircuitProposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.openProposals[circuitID]
	return p, ok
}

// AddCircuit records a circuit whose proposal has passed its vote,
// closing the open proposal.
func (c *Coordinator) AddCircuit(circuit Circuit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.openProposals, circuit.CircuitID)
	c.circuits[circuit.CircuitID] = circuit
}

// AddSubscriber registers a subscriber for events scoped to the given
// circuit management type.
func (c *Coordinator) AddSubscriber(managementType string, sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers.add(managementType, sub)
}

// SendEvent records the event in the mailbox and delivers it to
// subscribers of the management type.
func (c *Coordinator) SendEvent(managementType string, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailbox.add(event)
	c.subscribers.broadcast(c.log, managementType, event)
}

// EventsSince returns retained events with id greater than afterID,
// filtered to the management type. Events older than the mailbox
// retention are gone.
func (c *Coordinator) EventsSince(afterID uint64, managementType string) []StoredEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []StoredEvent
	for _, se := range c.mailbox.since(afterID) {
		if se.Event.Proposal.Circuit.CircuitManagementType == managementType {
			out = append(out, se)
		}
	}
	return out
}

func (c *Coordinator) pendingConsensusProposal(id mconsensus.ProposalID) (pendingConsensusProposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pendingConsensus[id]
	return pc, ok
}

func (c *Coordinator) addPendingConsensus(proposal mconsensus.Proposal, payload Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingConsensus[proposal.ID] = pendingConsensusProposal{
		proposal: proposal,
		payload:  payload,
	}
}

func (c *Coordinator) removePendingConsensus(id mconsensus.ProposalID) (pendingConsensusProposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pendingConsensus[id]
	if ok {
		delete(c.pendingConsensus, id)
	}
	return pc, ok
}
