package madmin

import "fmt"

// validateCreateCircuit checks everything about a circuit create
// request other than the signature: the requester, the circuit
// definition, and that the circuit id is not already taken by an open
// proposal or a committed circuit.
//
// The coordinator's lock must be held.
func (c *Coordinator) validateCreateCircuit(header Header, circuit Circuit) error {
	if len(header.Requester) == 0 {
		return fmt.Errorf("%w: requester public key is not set", ErrValidationFailed)
	}
	if header.RequesterNodeID == "" {
		return fmt.Errorf("%w: requester node id is not set", ErrValidationFailed)
	}

	if _, open := c.openProposals[circuit.CircuitID]; open {
		return fmt.Errorf(
			"%w: a proposal for circuit %q is already open",
			ErrValidationFailed, circuit.CircuitID,
		)
	}
	if _, exists := c.circuits[circuit.CircuitID]; exists {
		return fmt.Errorf(
			"%w: circuit %q already exists",
			ErrValidationFailed, circuit.CircuitID,
		)
	}

	return c.validateCircuit(circuit)
}

// validateCircuitVote checks a vote against the open proposal it
// targets.
//
// The coordinator's lock must be held.
func (c *Coordinator) validateCircuitVote(header Header, vote CircuitProposalVote, proposal CircuitProposal) error {
	if len(header.Requester) == 0 {
		return fmt.Errorf("%w: requester public key is not set", ErrValidationFailed)
	}
	if header.RequesterNodeID == "" {
		return fmt.Errorf("%w: requester node id is not set", ErrValidationFailed)
	}

	if vote.Vote == VoteUnset {
		return fmt.Errorf("%w: vote must be set", ErrValidationFailed)
	}

	if header.RequesterNodeID == proposal.RequesterNodeID {
		return fmt.Errorf(
			"%w: received vote from requester node %q",
			ErrValidationFailed, header.RequesterNodeID,
		)
	}

	member := false
	for _, m := range proposal.Circuit.Members {
		if m.NodeID == header.RequesterNodeID {
			member = true
			break
		}
	}
	if !member {
		return fmt.Errorf(
			"%w: voter %q is not a member of circuit %q",
			ErrValidationFailed, header.RequesterNodeID, proposal.CircuitID,
		)
	}

	for _, rec := range proposal.Votes {
		if rec.VoterNodeID == header.RequesterNodeID {
			return fmt.Errorf(
				"%w: duplicate vote from %q for circuit %q",
				ErrValidationFailed, header.RequesterNodeID, proposal.CircuitID,
			)
		}
	}

	if vote.CircuitHash != proposal.CircuitHash {
		return fmt.Errorf(
			"%w: circuit hash does not match the open proposal for %q",
			ErrValidationFailed, proposal.CircuitID,
		)
	}

	return nil
}

// validateCircuit checks the circuit definition itself.
func (c *Coordinator) validateCircuit(circuit Circuit) error {
	if circuit.CircuitID == "" {
		return fmt.Errorf("%w: circuit id must be set", ErrValidationFailed)
	}
	if circuit.CircuitManagementType == "" {
		return fmt.Errorf("%w: circuit management type must be set", ErrValidationFailed)
	}

	if circuit.AuthorizationType == AuthorizationUnset {
		return fmt.Errorf("%w: authorization type must be set", ErrValidationFailed)
	}
	if circuit.Persistence == PersistenceUnset {
		return fmt.Errorf("%w: persistence type must be set", ErrValidationFailed)
	}
	if circuit.Durability == DurabilityUnset {
		return fmt.Errorf("%w: durability type must be set", ErrValidationFailed)
	}
	if circuit.Routes == RouteUnset {
		return fmt.Errorf("%w: route type must be set", ErrValidationFailed)
	}

	if len(circuit.Members) == 0 {
		return fmt.Errorf("%w: circuit must have members", ErrValidationFailed)
	}

	members := make(map[string]struct{}, len(circuit.Members))
	endpoints := make(map[string]struct{}, len(circuit.Members))
	for _, m := range circuit.Members {
		if m.NodeID == "" {
			return fmt.Errorf("%w: member node id must be set", ErrValidationFailed)
		}
		if _, dup := members[m.NodeID]; dup {
			return fmt.Errorf("%w: duplicate member node id %q", ErrValidationFailed, m.NodeID)
		}
		members[m.NodeID] = struct{}{}

		if m.Endpoint == "" {
			return fmt.Errorf("%w: member %q endpoint must be set", ErrValidationFailed, m.NodeID)
		}
		if _, dup := endpoints[m.Endpoint]; dup {
			return fmt.Errorf("%w: duplicate member endpoint %q", ErrValidationFailed, m.Endpoint)
		}
		endpoints[m.Endpoint] = struct{}{}
	}

	if _, ok := members[c.nodeID]; !ok {
		return fmt.Errorf(
			"%w: local node %q is not a member of the circuit",
			ErrValidationFailed, c.nodeID,
		)
	}

	if len(circuit.Roster) == 0 {
		return fmt.Errorf("%w: circuit must have services", ErrValidationFailed)
	}

	services := make(map[string]struct{}, len(circuit.Roster))
	for _, svc := range circuit.Roster {
		if svc.ServiceID == "" {
			return fmt.Errorf("%w: service id must be set", ErrValidationFailed)
		}
		if _, dup := services[svc.ServiceID]; dup {
			return fmt.Errorf("%w: duplicate service id %q", ErrValidationFailed, svc.ServiceID)
		}
		services[svc.ServiceID] = struct{}{}

		if len(svc.AllowedNodes) == 0 {
			return fmt.Errorf(
				"%w: service %q must have allowed nodes",
				ErrValidationFailed, svc.ServiceID,
			)
		}
		for _, node := range svc.AllowedNodes {
			if _, member := members[node]; !member {
				return fmt.Errorf(
					"%w: service %q allows non-member node %q",
					ErrValidationFailed, svc.ServiceID, node,
				)
			}
		}
	}

	return nil
}
