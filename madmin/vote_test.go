package madmin_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshwork-engine/meshwork/madmin"
)

// openTestProposal stages and commits a create payload from the
// fixture's signer as node-a, leaving the proposal open for voting.
// It returns the open proposal.
func openTestProposal(t *testing.T, f *coordFixture, circuit madmin.Circuit) madmin.CircuitProposal {
	t.Helper()

	payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", circuit)
	_, _, err := f.Coordinator.ProposeChange(payload)
	require.NoError(t, err)
	require.NoError(t, f.Coordinator.Commit())

	open, ok := f.Coordinator.OpenProposal(circuit.CircuitID)
	require.True(t, ok)
	return open
}

func TestSubmit_VoteUnknownCircuit(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")

	voter := newSigner(t)
	payload := voter.SignedVotePayload(t, "node-b", "no-such-circuit", "hash", madmin.VoteAccept)
	require.ErrorIs(t, f.Coordinator.Submit(payload), madmin.ErrUnknownProposal)
}

// An accept vote from the only member besides the requester completes
// the vote: the proposal closes and the circuit is committed.
func TestVote_AcceptCommitsCircuit(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")

	sub := &eventRecorder{}
	f.Coordinator.AddSubscriber("meshtest", sub)

	open := openTestProposal(t, f, testCircuit())

	voter := newSigner(t)
	votePayload := voter.SignedVotePayload(t, "node-b", "circuit-01", open.CircuitHash, madmin.VoteAccept)

	// The vote enters through Submit like any payload.
	require.NoError(t, f.Coordinator.Submit(votePayload))

	got, ok := f.Coordinator.PopPendingCircuitPayload()
	require.True(t, ok)
	require.Equal(t, votePayload, got)

	hash, proposal, err := f.Coordinator.ProposeChange(got)
	require.NoError(t, err)
	require.Len(t, proposal.Votes, 1)
	require.Equal(t, "node-b", proposal.Votes[0].VoterNodeID)
	require.Equal(t, madmin.VoteAccept, proposal.Votes[0].Vote)
	require.NotEmpty(t, hash)

	require.NoError(t, f.Coordinator.Commit())

	_, ok = f.Coordinator.OpenProposal("circuit-01")
	require.False(t, ok)

	events := sub.Events()
	require.Len(t, events, 2)
	require.Equal(t, madmin.EventProposalSubmitted, events[0].Kind)
	require.Equal(t, madmin.EventProposalAccepted, events[1].Kind)
	require.Equal(t, proposal, events[1].Proposal)

	// The circuit now exists, so a fresh create for the same id fails.
	create := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", testCircuit())
	_, _, err = f.Coordinator.ProposeChange(create)
	require.ErrorIs(t, err, madmin.ErrValidationFailed)
}

// A reject vote closes the proposal without committing the circuit,
// freeing the circuit id for a new proposal.
func TestVote_RejectClosesProposal(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")

	sub := &eventRecorder{}
	f.Coordinator.AddSubscriber("meshtest", sub)

	open := openTestProposal(t, f, testCircuit())

	voter := newSigner(t)
	votePayload := voter.SignedVotePayload(t, "node-b", "circuit-01", open.CircuitHash, madmin.VoteReject)

	_, _, err := f.Coordinator.ProposeChange(votePayload)
	require.NoError(t, err)
	require.NoError(t, f.Coordinator.Commit())

	_, ok := f.Coordinator.OpenProposal("circuit-01")
	require.False(t, ok)

	events := sub.Events()
	require.Len(t, events, 2)
	require.Equal(t, madmin.EventProposalRejected, events[1].Kind)

	// The circuit was not committed; proposing it again is allowed.
	create := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", testCircuit())
	_, _, err = f.Coordinator.ProposeChange(create)
	require.NoError(t, err)
}

// On a three-member circuit one accept vote leaves the proposal open
// with the vote recorded; the second accept completes it.
func TestVote_PendingUntilAllMembersVote(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b", "node-c")

	sub := &eventRecorder{}
	f.Coordinator.AddSubscriber("meshtest", sub)

	circuit := testCircuit()
	circuit.Members = append(circuit.Members, madmin.Member{
		NodeID:   "node-c",
		Endpoint: "tcp://node-c:8000",
	})
	open := openTestProposal(t, f, circuit)

	voterB := newSigner(t)
	voteB := voterB.SignedVotePayload(t, "node-b", "circuit-01", open.CircuitHash, madmin.VoteAccept)
	_, _, err := f.Coordinator.ProposeChange(voteB)
	require.NoError(t, err)
	require.NoError(t, f.Coordinator.Commit())

	// Still open, with node-b's vote recorded.
	updated, ok := f.Coordinator.OpenProposal("circuit-01")
	require.True(t, ok)
	require.Len(t, updated.Votes, 1)

	events := sub.Events()
	require.Len(t, events, 2)
	require.Equal(t, madmin.EventProposalVote, events[1].Kind)

	// node-b cannot vote twice.
	again := voterB.SignedVotePayload(t, "node-b", "circuit-01", open.CircuitHash, madmin.VoteAccept)
	_, _, err = f.Coordinator.ProposeChange(again)
	require.ErrorIs(t, err, madmin.ErrValidationFailed)

	voterC := newSigner(t)
	voteC := voterC.SignedVotePayload(t, "node-c", "circuit-01", open.CircuitHash, madmin.VoteAccept)
	_, _, err = f.Coordinator.ProposeChange(voteC)
	require.NoError(t, err)
	require.NoError(t, f.Coordinator.Commit())

	_, ok = f.Coordinator.OpenProposal("circuit-01")
	require.False(t, ok)
	events = sub.Events()
	require.Len(t, events, 3)
	require.Equal(t, madmin.EventProposalAccepted, events[2].Kind)
}

func TestVote_ValidationFailures(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	open := openTestProposal(t, f, testCircuit())

	voter := newSigner(t)

	t.Run("vote from requester node", func(t *testing.T) {
		payload := f.Signer.SignedVotePayload(t, "node-a", "circuit-01", open.CircuitHash, madmin.VoteAccept)
		_, _, err := f.Coordinator.ProposeChange(payload)
		require.ErrorIs(t, err, madmin.ErrValidationFailed)
	})

	t.Run("vote from non-member", func(t *testing.T) {
		payload := voter.SignedVotePayload(t, "node-z", "circuit-01", open.CircuitHash, madmin.VoteAccept)
		_, _, err := f.Coordinator.ProposeChange(payload)
		require.ErrorIs(t, err, madmin.ErrValidationFailed)
	})

	t.Run("circuit hash mismatch", func(t *testing.T) {
		payload := voter.SignedVotePayload(t, "node-b", "circuit-01", "stale-hash", madmin.VoteAccept)
		_, _, err := f.Coordinator.ProposeChange(payload)
		require.ErrorIs(t, err, madmin.ErrValidationFailed)
	})

	t.Run("unset vote", func(t *testing.T) {
		payload := voter.SignedVotePayload(t, "node-b", "circuit-01", open.CircuitHash, madmin.VoteUnset)
		_, _, err := f.Coordinator.ProposeChange(payload)
		require.ErrorIs(t, err, madmin.ErrValidationFailed)
	})

	t.Run("unknown circuit", func(t *testing.T) {
		payload := voter.SignedVotePayload(t, "node-b", "circuit-99", open.CircuitHash, madmin.VoteAccept)
		_, _, err := f.Coordinator.ProposeChange(payload)
		require.ErrorIs(t, err, madmin.ErrUnknownProposal)
	})
}
