package mtwophase_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshwork-engine/meshwork/mconsensus"
	"github.com/meshwork-engine/meshwork/mconsensus/mtwophase"
)

func TestMessage_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := mtwophase.Message{
		Type:                 mtwophase.MessageTypeProposalVerificationResponse,
		ProposalID:           []byte{1, 2, 3},
		VerificationResponse: mtwophase.VerificationResponseFailed,
	}

	b, err := orig.MarshalBinary()
	require.NoError(t, err)

	var got mtwophase.Message
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, orig, got)

	// Fields not set for this message type stay at their
	// unset sentinels.
	require.Equal(t, mtwophase.ResultUnset, got.Result)
}

func TestRequiredVerifiers_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := mtwophase.RequiredVerifiers{
		Verifiers: [][]byte{{1}, {2}, {3}},
	}

	b, err := orig.MarshalBinary()
	require.NoError(t, err)

	var got mtwophase.RequiredVerifiers
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, orig, got)

	require.Equal(t, []mconsensus.PeerID{
		mconsensus.PeerID([]byte{1}),
		mconsensus.PeerID([]byte{2}),
		mconsensus.PeerID([]byte{3}),
	}, got.PeerIDs())
}
