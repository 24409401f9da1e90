package madmin_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshwork-engine/meshwork/madmin"
)

func TestProposeChange_CircuitValidation(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		mutate func(c *madmin.Circuit)
	}{
		{
			name:   "empty circuit id",
			mutate: func(c *madmin.Circuit) { c.CircuitID = "" },
		},
		{
			name:   "empty management type",
			mutate: func(c *madmin.Circuit) { c.CircuitManagementType = "" },
		},
		{
			name:   "unset authorization type",
			mutate: func(c *madmin.Circuit) { c.AuthorizationType = madmin.AuthorizationUnset },
		},
		{
			name:   "unset persistence type",
			mutate: func(c *madmin.Circuit) { c.Persistence = madmin.PersistenceUnset },
		},
		{
			name:   "unset durability type",
			mutate: func(c *madmin.Circuit) { c.Durability = madmin.DurabilityUnset },
		},
		{
			name:   "unset route type",
			mutate: func(c *madmin.Circuit) { c.Routes = madmin.RouteUnset },
		},
		{
			name:   "no members",
			mutate: func(c *madmin.Circuit) { c.Members = nil },
		},
		{
			name: "local node not a member",
			mutate: func(c *madmin.Circuit) {
				c.Members = []madmin.Member{
					{NodeID: "node-b", Endpoint: "tcp://node-b:8000"},
					{NodeID: "node-c", Endpoint: "tcp://node-c:8000"},
				}
				c.Roster = []madmin.Service{
					{ServiceID: "svc-01", ServiceType: "ledger", AllowedNodes: []string{"node-b"}},
				}
			},
		},
		{
			name: "duplicate member node id",
			mutate: func(c *madmin.Circuit) {
				c.Members = append(c.Members, madmin.Member{
					NodeID: "node-b", Endpoint: "tcp://node-b:9000",
				})
			},
		},
		{
			name: "duplicate member endpoint",
			mutate: func(c *madmin.Circuit) {
				c.Members = append(c.Members, madmin.Member{
					NodeID: "node-c", Endpoint: "tcp://node-b:8000",
				})
			},
		},
		{
			name: "empty member endpoint",
			mutate: func(c *madmin.Circuit) {
				c.Members[1].Endpoint = ""
			},
		},
		{
			name:   "no services",
			mutate: func(c *madmin.Circuit) { c.Roster = nil },
		},
		{
			name: "empty service id",
			mutate: func(c *madmin.Circuit) {
				c.Roster[0].ServiceID = ""
			},
		},
		{
			name: "duplicate service id",
			mutate: func(c *madmin.Circuit) {
				c.Roster[1].ServiceID = c.Roster[0].ServiceID
			},
		},
		{
			name: "service with no allowed nodes",
			mutate: func(c *madmin.Circuit) {
				c.Roster[0].AllowedNodes = nil
			},
		},
		{
			name: "service allowing a non-member",
			mutate: func(c *madmin.Circuit) {
				c.Roster[0].AllowedNodes = []string{"node-z"}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newCoordFixture(t, "node-b")

			circuit := testCircuit()
			tc.mutate(&circuit)

			payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "node-a", circuit)
			_, _, err := f.Coordinator.ProposeChange(payload)
			require.ErrorIs(t, err, madmin.ErrValidationFailed)
		})
	}
}

func TestProposeChange_RequesterValidation(t *testing.T) {
	t.Parallel()

	f := newCoordFixture(t, "node-b")

	t.Run("missing requester node id", func(t *testing.T) {
		payload := f.Signer.SignedPayload(t, madmin.ActionCircuitCreateRequest, "", testCircuit())
		_, _, err := f.Coordinator.ProposeChange(payload)
		require.ErrorIs(t, err, madmin.ErrValidationFailed)
	})

	t.Run("missing requester key", func(t *testing.T) {
		header, err := madmin.Header{
			Action:          madmin.ActionCircuitCreateRequest,
			RequesterNodeID: "node-a",
		}.MarshalBinary()
		require.NoError(t, err)

		payload := madmin.Payload{
			Header:               header,
			CircuitCreateRequest: &madmin.CircuitCreateRequest{Circuit: testCircuit()},
		}
		_, _, err = f.Coordinator.ProposeChange(payload)
		require.ErrorIs(t, err, madmin.ErrValidationFailed)
	})
}
