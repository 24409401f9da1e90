// Package mtwophase provides a two-phase commit consensus engine.
//
// The engine evaluates one proposal at a time. The peer whose proposal
// manager created the proposal broadcasts a verification request and
// collects point-to-point responses from every required verifier; when
// all verifiers have answered VERIFIED it broadcasts an APPLY result,
// and on the first FAILED answer it broadcasts a REJECT result.
// Every other peer verifies the proposal locally and applies or rejects
// it according to the broadcast result.
package mtwophase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshwork-engine/meshwork/mconsensus"
)

// Config holds the engine's timing settings.
type Config struct {
	// How long one loop iteration waits for a consensus message.
	MessagePollInterval time.Duration

	// How long one loop iteration waits for a proposal update.
	UpdatePollInterval time.Duration
}

// DefaultConfig returns the config used in production.
func DefaultConfig() Config {
	return Config{
		MessagePollInterval: 100 * time.Millisecond,
		UpdatePollInterval:  100 * time.Millisecond,
	}
}

// engineState is the phase of the engine's proposal cycle.
type engineState uint8

const (
	_ engineState = iota // Zero value reserved.

	// No proposal in flight; the next loop iteration asks the
	// proposal manager for one.
	stateIdle

	// A CreateProposal request is outstanding.
	stateAwaitingProposal

	// A proposal is being evaluated, locally or network-wide.
	stateEvaluatingProposal
)

func (s engineState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateAwaitingProposal:
		return "AwaitingProposal"
	case stateEvaluatingProposal:
		return "EvaluatingProposal"
	default:
		return fmt.Sprintf("engineState(%d)", uint8(s))
	}
}

// evaluation is the engine's bookkeeping for the proposal
// currently in stateEvaluatingProposal.
type evaluation struct {
	proposalID mconsensus.ProposalID

	// The peer whose manager created the proposal.
	// Equal to the engine's own id when this engine proposed.
	proposer mconsensus.PeerID

	// Peers that have answered VERIFIED. Only the proposer fills this.
	verified map[mconsensus.PeerID]struct{}

	// Peers that must answer before the proposal can be applied.
	// Only the proposer fills this.
	required map[mconsensus.PeerID]struct{}
}

// Engine runs the two-phase protocol for a single consensus network.
//
// All engine state is owned by the run goroutine started in [New];
// other components interact with the engine only through the message
// and update channels given at construction.
type Engine struct {
	log *slog.Logger
	cfg Config

	id    mconsensus.PeerID
	peers map[mconsensus.PeerID]struct{}

	manager mconsensus.ProposalManager
	sender  mconsensus.NetworkSender

	messages <-chan mconsensus.ConsensusMessage
	updates  <-chan mconsensus.ProposalUpdate

	state engineState
	eval  *evaluation

	// Proposal ids whose verification requests arrived before the
	// proposal itself. Replayed once the id is under evaluation.
	backlog []mconsensus.ProposalID

	done chan struct{}
}

// New starts a two-phase engine and returns it.
// startup.PeerIDs is the default set of required verifiers; a proposal
// may override it by carrying [RequiredVerifiers] consensus data.
//
// The engine runs until ctx is canceled, a [mconsensus.Shutdown] update
// arrives, or either input channel is closed. Use [Engine.Wait] to
// block until it has stopped.
//
// The updates channel must be buffered when the proposal manager
// reports outcomes synchronously from within its method calls,
// as the engine is the sole reader of that channel.
func New(
	ctx context.Context,
	log *slog.Logger,
	cfg Config,
	startup mconsensus.StartupState,
	manager mconsensus.ProposalManager,
	sender mconsensus.NetworkSender,
	messages <-chan mconsensus.ConsensusMessage,
	updates <-chan mconsensus.ProposalUpdate,
) *Engine {
	peers := make(map[mconsensus.PeerID]struct{}, len(startup.PeerIDs))
	for _, p := range startup.PeerIDs {
		if p == startup.ID {
			continue
		}
		peers[p] = struct{}{}
	}

	e := &Engine{
		log: log,
		cfg: cfg,

		id:    startup.ID,
		peers: peers,

		manager: manager,
		sender:  sender,

		messages: messages,
		updates:  updates,

		state: stateIdle,

		done: make(chan struct{}),
	}

	go e.run(ctx)
	return e
}

// Wait blocks until the engine's run goroutine has exited.
func (e *Engine) Wait() {
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	msgTimer := time.NewTimer(e.cfg.MessagePollInterval)
	defer msgTimer.Stop()
	updTimer := time.NewTimer(e.cfg.UpdatePollInterval)
	defer updTimer.Stop()

	for {
		if e.state == stateIdle {
			if err := e.manager.CreateProposal(nil, nil); err != nil {
				e.log.Error("Failed to request proposal creation", "err", err)
			} else {
				e.state = stateAwaitingProposal
			}
		}

		e.replayBacklog()

		if !msgTimer.Stop() {
			select {
			case <-msgTimer.C:
			default:
			}
		}
		msgTimer.Reset(e.cfg.MessagePollInterval)

		select {
		case <-ctx.Done():
			e.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		case msg, ok := <-e.messages:
			if !ok {
				e.log.Info("Consensus message channel closed; stopping")
				return
			}
			if err := e.handleMessage(msg); err != nil {
				e.log.Warn(
					"Failed to handle consensus message",
					"origin", msg.Origin,
					"err", err,
				)
			}
		case <-msgTimer.C:
			// No message this iteration.
		}

		if !updTimer.Stop() {
			select {
			case <-updTimer.C:
			default:
			}
		}
		updTimer.Reset(e.cfg.UpdatePollInterval)

		select {
		case <-ctx.Done():
			e.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		case u, ok := <-e.updates:
			if !ok {
				e.log.Info("Proposal update channel closed; stopping")
				return
			}
			if _, isShutdown := u.(mconsensus.Shutdown); isShutdown {
				e.log.Info("Received shutdown; stopping")
				return
			}
			if err := e.handleUpdate(u); err != nil {
				e.log.Warn("Failed to handle proposal update", "err", err)
			}
		case <-updTimer.C:
			// No update this iteration.
		}
	}
}

// replayBacklog re-dispatches a backlogged verification request once
// its proposal is the one under evaluation.
func (e *Engine) replayBacklog() {
	if e.state != stateEvaluatingProposal {
		return
	}

	for i, id := range e.backlog {
		if id != e.eval.proposalID {
			continue
		}

		e.backlog = append(e.backlog[:i], e.backlog[i+1:]...)
		if err := e.manager.CheckProposal(id); err != nil {
			e.log.Error(
				"Failed to check backlogged proposal",
				"proposal_id", id,
				"err", err,
			)
		}
		return
	}
}

func (e *Engine) handleMessage(cm mconsensus.ConsensusMessage) error {
	var msg Message
	if err := msg.UnmarshalBinary(cm.Message); err != nil {
		return fmt.Errorf("failed to decode two-phase message: %w", err)
	}

	id := mconsensus.ProposalID(msg.ProposalID)

	switch msg.Type {
	case MessageTypeProposalVerificationRequest:
		if e.evaluating(id) {
			if err := e.manager.CheckProposal(id); err != nil {
				return fmt.Errorf("failed to check proposal %v: %w", id, err)
			}
			return nil
		}

		e.log.Debug("Backlogging verification request", "proposal_id", id)
		e.backlog = append(e.backlog, id)
		return nil

	case MessageTypeProposalVerificationResponse:
		if !e.evaluating(id) {
			e.log.Warn(
				"Ignoring verification response for proposal not being evaluated",
				"proposal_id", id,
				"origin", cm.Origin,
			)
			return nil
		}
		if e.eval.proposer != e.id {
			e.log.Warn(
				"Ignoring verification response; not the proposer",
				"proposal_id", id,
				"origin", cm.Origin,
			)
			return nil
		}

		switch msg.VerificationResponse {
		case VerificationResponseVerified:
			e.eval.verified[cm.Origin] = struct{}{}
			if e.quorum() {
				return e.completeCoordination(ResultApply)
			}
			return nil
		case VerificationResponseFailed:
			return e.completeCoordination(ResultReject)
		default:
			return fmt.Errorf("verification response not set in message from %v", cm.Origin)
		}

	case MessageTypeProposalResult:
		switch msg.Result {
		case ResultApply:
			if !e.evaluating(id) {
				e.log.Warn(
					"Ignoring apply result for proposal not being evaluated",
					"proposal_id", id,
				)
				return nil
			}
			e.state = stateIdle
			e.eval = nil
			if err := e.manager.AcceptProposal(id, nil); err != nil {
				return fmt.Errorf("failed to accept proposal %v: %w", id, err)
			}
			return nil
		case ResultReject:
			// The reject is forwarded to the manager even when this
			// engine never saw the proposal, so any pending state for
			// it is discarded.
			if e.evaluating(id) {
				e.state = stateIdle
				e.eval = nil
			}
			if err := e.manager.RejectProposal(id); err != nil {
				return fmt.Errorf("failed to reject proposal %v: %w", id, err)
			}
			return nil
		default:
			return fmt.Errorf("result not set in message from %v", cm.Origin)
		}

	default:
		return fmt.Errorf("unknown message type %v from %v", msg.Type, cm.Origin)
	}
}

func (e *Engine) handleUpdate(u mconsensus.ProposalUpdate) error {
	switch u := u.(type) {
	case mconsensus.ProposalCreated:
		return e.handleProposalCreated(u.Proposal)

	case mconsensus.ProposalReceived:
		return e.handleProposalReceived(u.Proposal, u.Origin)

	case mconsensus.ProposalValid:
		if !e.evaluating(u.ID) {
			e.log.Warn("Ignoring valid update for proposal not being evaluated", "proposal_id", u.ID)
			return nil
		}
		if e.eval.proposer == e.id {
			// The proposer does not verify its own proposal.
			e.log.Debug("Ignoring valid update for own proposal", "proposal_id", u.ID)
			return nil
		}
		return e.sendVerificationResponse(u.ID, VerificationResponseVerified)

	case mconsensus.ProposalInvalid:
		if !e.evaluating(u.ID) {
			e.log.Warn("Ignoring invalid update for proposal not being evaluated", "proposal_id", u.ID)
			return nil
		}
		if e.eval.proposer == e.id {
			return e.completeCoordination(ResultReject)
		}
		return e.sendVerificationResponse(u.ID, VerificationResponseFailed)

	case mconsensus.ProposalAccepted:
		e.log.Info("Proposal applied", "proposal_id", u.ID)
		return nil

	case mconsensus.ProposalAcceptFailed:
		e.log.Error("Failed to apply accepted proposal", "proposal_id", u.ID, "reason", u.Reason)
		return nil

	default:
		return fmt.Errorf("unhandled proposal update type %T", u)
	}
}

func (e *Engine) handleProposalCreated(p *mconsensus.Proposal) error {
	if e.state != stateAwaitingProposal {
		e.log.Warn("Ignoring proposal creation outcome; no creation outstanding", "state", e.state)
		return nil
	}

	if p == nil {
		// Nothing to propose right now.
		e.state = stateIdle
		return nil
	}

	required, err := e.requiredVerifiers(p)
	if err != nil {
		e.state = stateIdle
		if rejErr := e.manager.RejectProposal(p.ID); rejErr != nil {
			e.log.Error("Failed to reject proposal", "proposal_id", p.ID, "err", rejErr)
		}
		return fmt.Errorf("failed to determine required verifiers for proposal %v: %w", p.ID, err)
	}

	e.state = stateEvaluatingProposal
	e.eval = &evaluation{
		proposalID: p.ID,
		proposer:   e.id,
		verified:   make(map[mconsensus.PeerID]struct{}, len(required)),
		required:   required,
	}

	if len(required) == 0 {
		// No other verifiers; the proposal stands on its own.
		return e.completeCoordination(ResultApply)
	}

	msg, err := Message{
		Type:       MessageTypeProposalVerificationRequest,
		ProposalID: p.ID.Bytes(),
	}.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode verification request: %w", err)
	}
	if err := e.sender.Broadcast(msg); err != nil {
		return fmt.Errorf("failed to broadcast verification request: %w", err)
	}

	e.log.Debug(
		"Requested proposal verification",
		"proposal_id", p.ID,
		"required_verifiers", len(required),
	)
	return nil
}

func (e *Engine) handleProposalReceived(p *mconsensus.Proposal, origin mconsensus.PeerID) error {
	if p == nil {
		return errors.New("received nil proposal")
	}

	if e.state == stateEvaluatingProposal {
		if e.eval.proposalID == p.ID {
			// Already evaluating this proposal.
			return nil
		}

		// Only one proposal is evaluated at a time; a competing
		// proposal is rejected outright rather than queued.
		e.log.Warn(
			"Rejecting proposal received while evaluating another",
			"proposal_id", p.ID,
			"evaluating", e.eval.proposalID,
			"origin", origin,
		)
		if err := e.manager.RejectProposal(p.ID); err != nil {
			return fmt.Errorf("failed to reject competing proposal %v: %w", p.ID, err)
		}
		return nil
	}

	e.state = stateEvaluatingProposal
	e.eval = &evaluation{
		proposalID: p.ID,
		proposer:   origin,
	}

	e.log.Debug("Evaluating received proposal", "proposal_id", p.ID, "proposer", origin)
	return nil
}

// requiredVerifiers determines which peers must verify the proposal:
// the peers named in the proposal's consensus data when present,
// otherwise every peer known at startup. The local peer is excluded
// either way.
func (e *Engine) requiredVerifiers(p *mconsensus.Proposal) (map[mconsensus.PeerID]struct{}, error) {
	if len(p.ConsensusData) == 0 {
		required := make(map[mconsensus.PeerID]struct{}, len(e.peers))
		for peer := range e.peers {
			required[peer] = struct{}{}
		}
		return required, nil
	}

	var rv RequiredVerifiers
	if err := rv.UnmarshalBinary(p.ConsensusData); err != nil {
		return nil, fmt.Errorf("failed to decode required verifiers: %w", err)
	}

	required := make(map[mconsensus.PeerID]struct{}, len(rv.Verifiers))
	for _, id := range rv.PeerIDs() {
		if id == e.id {
			continue
		}
		required[id] = struct{}{}
	}
	return required, nil
}

// quorum reports whether every required verifier has answered VERIFIED.
func (e *Engine) quorum() bool {
	if len(e.eval.verified) != len(e.eval.required) {
		return false
	}
	for peer := range e.eval.required {
		if _, ok := e.eval.verified[peer]; !ok {
			return false
		}
	}
	return true
}

// completeCoordination finishes the proposer's coordination of the
// current proposal: the manager applies or discards it, the result is
// broadcast, and the engine returns to idle.
func (e *Engine) completeCoordination(result Result) error {
	id := e.eval.proposalID
	e.state = stateIdle
	e.eval = nil

	switch result {
	case ResultApply:
		if err := e.manager.AcceptProposal(id, nil); err != nil {
			return fmt.Errorf("failed to accept proposal %v: %w", id, err)
		}
	case ResultReject:
		if err := e.manager.RejectProposal(id); err != nil {
			return fmt.Errorf("failed to reject proposal %v: %w", id, err)
		}
	default:
		return fmt.Errorf("cannot complete coordination with result %d", result)
	}

	msg, err := Message{
		Type:       MessageTypeProposalResult,
		ProposalID: id.Bytes(),
		Result:     result,
	}.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode proposal result: %w", err)
	}
	if err := e.sender.Broadcast(msg); err != nil {
		return fmt.Errorf("failed to broadcast proposal result: %w", err)
	}

	e.log.Info("Completed proposal coordination", "proposal_id", id, "applied", result == ResultApply)
	return nil
}

func (e *Engine) sendVerificationResponse(id mconsensus.ProposalID, resp VerificationResponse) error {
	msg, err := Message{
		Type:                 MessageTypeProposalVerificationResponse,
		ProposalID:           id.Bytes(),
		VerificationResponse: resp,
	}.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode verification response: %w", err)
	}
	if err := e.sender.SendTo(e.eval.proposer, msg); err != nil {
		return fmt.Errorf("failed to send verification response to %v: %w", e.eval.proposer, err)
	}
	return nil
}

func (e *Engine) evaluating(id mconsensus.ProposalID) bool {
	return e.state == stateEvaluatingProposal && e.eval.proposalID == id
}
