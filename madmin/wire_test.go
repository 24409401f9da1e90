package madmin_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshwork-engine/meshwork/madmin"
)

// The payload wire form round-trips with either body kind, nested
// circuit included.
func TestPayload_WireRoundTrip(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	create := s.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", testCircuit())
	b, err := create.MarshalBinary()
	require.NoError(t, err)

	var gotCreate madmin.Payload
	require.NoError(t, gotCreate.UnmarshalBinary(b))
	require.Equal(t, create, gotCreate)

	vote := s.SignedVotePayload(t, "node-b", "circuit-01", "hash", madmin.VoteAccept)
	b, err = vote.MarshalBinary()
	require.NoError(t, err)

	var gotVote madmin.Payload
	require.NoError(t, gotVote.UnmarshalBinary(b))
	require.Equal(t, vote, gotVote)
}

// Recording a vote changes the proposal's hash while leaving the
// circuit hash alone.
func TestCircuitProposal_HashCoversVotes(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	proposal, hash := expectedProposal(t, s, "node-a", testCircuit())

	voted := proposal
	voted.Votes = []madmin.VoteRecord{{
		PublicKey:   []byte("voter key"),
		Vote:        madmin.VoteAccept,
		VoterNodeID: "node-b",
	}}

	votedHash, err := voted.Hash()
	require.NoError(t, err)
	require.NotEqual(t, hash, votedHash)
	require.Equal(t, proposal.CircuitHash, voted.CircuitHash)
}
