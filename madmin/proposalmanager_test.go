package madmin_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshwork-engine/meshwork/madmin"
	"github.com/meshwork-engine/meshwork/mconsensus"
	"github.com/meshwork-engine/meshwork/mconsensus/mtwophase"
)

func nextUpdate(t *testing.T, updates <-chan mconsensus.ProposalUpdate) mconsensus.ProposalUpdate {
	t.Helper()

	select {
	case u := <-updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for proposal update")
		return nil
	}
}

func TestCreateProposal_EmptyQueue(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	require.NoError(t, pm.CreateProposal(nil, nil))

	u := nextUpdate(t, f.Updates)
	created, ok := u.(mconsensus.ProposalCreated)
	require.True(t, ok)
	require.Nil(t, created.Proposal)
}

func TestCreateProposal_FromSubmittedPayload(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	circuit := testCircuit()
	payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", circuit)
	require.NoError(t, f.Coordinator.Submit(payload))

	require.NoError(t, pm.CreateProposal(nil, nil))

	u := nextUpdate(t, f.Updates)
	created, ok := u.(mconsensus.ProposalCreated)
	require.True(t, ok)
	require.NotNil(t, created.Proposal)

	// The proposal id is the hash of the derived circuit proposal.
	_, hash := expectedProposal(t, f.Signer, "node-a", circuit)
	require.Equal(t, mconsensus.ProposalID(hash), created.Proposal.ID)

	// The member nodes ride along as the required verifier set.
	var rv mtwophase.RequiredVerifiers
	require.NoError(t, rv.UnmarshalBinary(created.Proposal.ConsensusData))
	require.Equal(t, [][]byte{[]byte("node-a"), []byte("node-b")}, rv.Verifiers)

	// The change is staged; a consensus accept commits it.
	require.NoError(t, pm.AcceptProposal(created.Proposal.ID, nil))

	u = nextUpdate(t, f.Updates)
	_, ok = u.(mconsensus.ProposalAccepted)
	require.True(t, ok)

	_, ok = f.Coordinator.OpenProposal("circuit-01")
	require.True(t, ok)
}

// The participant path: a proposal received from another node is
// checked against its payload and committed on accept.
func TestHandleProposedCircuit_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	circuit := testCircuit()
	payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-b", circuit)

	_, hash := expectedProposal(t, f.Signer, "node-b", circuit)
	proposal := mconsensus.Proposal{
		ID:      mconsensus.ProposalID(hash),
		Summary: []byte(hash),
	}

	origin := mconsensus.PeerID("node-b")
	require.NoError(t, f.Coordinator.HandleProposedCircuit(proposal, payload, origin))

	u := nextUpdate(t, f.Updates)
	received, ok := u.(mconsensus.ProposalReceived)
	require.True(t, ok)
	require.Equal(t, proposal.ID, received.Proposal.ID)
	require.Equal(t, origin, received.Origin)

	require.NoError(t, pm.CheckProposal(proposal.ID))

	u = nextUpdate(t, f.Updates)
	valid, ok := u.(mconsensus.ProposalValid)
	require.True(t, ok)
	require.Equal(t, proposal.ID, valid.ID)

	require.NoError(t, pm.AcceptProposal(proposal.ID, nil))

	u = nextUpdate(t, f.Updates)
	_, ok = u.(mconsensus.ProposalAccepted)
	require.True(t, ok)

	_, ok = f.Coordinator.OpenProposal("circuit-01")
	require.True(t, ok)
}

// A proposal whose id does not match the hash derived from its
// payload is reported invalid and its staged change discarded.
func TestCheckProposal_HashMismatch(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-b", testCircuit())
	proposal := mconsensus.Proposal{ID: mconsensus.ProposalID("bogus-proposal-id")}

	require.NoError(t, f.Coordinator.HandleProposedCircuit(proposal, payload, "node-b"))
	nextUpdate(t, f.Updates) // ProposalReceived

	require.NoError(t, pm.CheckProposal(proposal.ID))

	u := nextUpdate(t, f.Updates)
	invalid, ok := u.(mconsensus.ProposalInvalid)
	require.True(t, ok)
	require.Equal(t, proposal.ID, invalid.ID)

	require.ErrorIs(t, f.Coordinator.Commit(), madmin.ErrNoPendingChanges)
}

func TestCheckProposal_Unknown(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	require.ErrorIs(t, pm.CheckProposal("ghost"), madmin.ErrUnknownProposal)
}

func TestAcceptProposal_Unknown(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	require.ErrorIs(t, pm.AcceptProposal("ghost", nil), madmin.ErrUnknownProposal)
}

// Rejecting a competing proposal leaves the change staged for the
// proposal still in flight.
func TestRejectProposal_CompetingProposal(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", testCircuit())
	require.NoError(t, f.Coordinator.Submit(payload))
	require.NoError(t, pm.CreateProposal(nil, nil))

	u := nextUpdate(t, f.Updates)
	created := u.(mconsensus.ProposalCreated)

	// A competing proposal from another node arrives and consensus
	// rejects it.
	other := testCircuit()
	other.CircuitID = "circuit-02"
	competingPayload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-b", other)
	competing := mconsensus.Proposal{ID: mconsensus.ProposalID("competing-id")}

	require.NoError(t, f.Coordinator.HandleProposedCircuit(competing, competingPayload, "node-b"))
	nextUpdate(t, f.Updates) // ProposalReceived

	require.NoError(t, pm.RejectProposal(competing.ID))

	// Our own proposal can still be committed.
	require.NoError(t, pm.AcceptProposal(created.Proposal.ID, nil))
	u = nextUpdate(t, f.Updates)
	_, ok := u.(mconsensus.ProposalAccepted)
	require.True(t, ok)
}

// Rejecting the in-flight proposal discards its staged change.
func TestRejectProposal_OwnProposal(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")
	pm := madmin.NewProposalManager(f.Coordinator, f.Updates)

	payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", testCircuit())
	require.NoError(t, f.Coordinator.Submit(payload))
	require.NoError(t, pm.CreateProposal(nil, nil))

	u := nextUpdate(t, f.Updates)
	created := u.(mconsensus.ProposalCreated)

	require.NoError(t, pm.RejectProposal(created.Proposal.ID))
	require.ErrorIs(t, f.Coordinator.Commit(), madmin.ErrNoPendingChanges)
}
