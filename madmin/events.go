package madmin

import (
	"errors"
	"log/slog"
)

// EventKind distinguishes admission events.
type EventKind uint8

const (
	_ EventKind = iota // Zero value reserved.

	// A proposed change was committed and is now open for voting.
	EventProposalSubmitted

	// A member's vote was recorded on an open proposal.
	EventProposalVote

	// A proposal received every required vote and its circuit was
	// committed.
	EventProposalAccepted

	// A proposal received a reject vote and was closed.
	EventProposalRejected
)

// Event is one admission event delivered to subscribers of the
// proposal's circuit management type.
type Event struct {
	Kind     EventKind
	Proposal CircuitProposal
}

// StoredEvent is an event with its mailbox sequence number.
type StoredEvent struct {
	ID    uint64
	Event Event
}

// Subscriber receives admission events for one management type.
type Subscriber interface {
	// HandleEvent processes one event. Returning [ErrUnsubscribe]
	// removes the subscriber; any other error is logged and the
	// subscription kept.
	HandleEvent(event Event) error
}

// ErrUnsubscribe is returned by a [Subscriber] to end its
// subscription.
var ErrUnsubscribe = errors.New("unsubscribe")

// subscriberMap holds subscribers per circuit management type.
// Callers synchronize access.
type subscriberMap struct {
	subs map[string][]Subscriber
}

func newSubscriberMap() *subscriberMap {
	return &subscriberMap{subs: make(map[string][]Subscriber)}
}

func (m *subscriberMap) add(managementType string, sub Subscriber) {
	m.subs[managementType] = append(m.subs[managementType], sub)
}

func (m *subscriberMap) broadcast(log *slog.Logger, managementType string, event Event) {
	subs := m.subs[managementType]
	kept := subs[:0]
	for _, sub := range subs {
		err := sub.HandleEvent(event)
		switch {
		case err == nil:
			kept = append(kept, sub)
		case errors.Is(err, ErrUnsubscribe):
			// Dropped.
		default:
			log.Warn(
				"Subscriber failed to handle event",
				"management_type", managementType,
				"err", err,
			)
			kept = append(kept, sub)
		}
	}
	m.subs[managementType] = kept
}

// mailboxCapacity bounds the event history kept for late subscribers.
const mailboxCapacity = 100

// mailbox is a bounded in-memory event history.
// Callers synchronize access.
type mailbox struct {
	nextID uint64
	events []StoredEvent
}

func newMailbox() *mailbox {
	return &mailbox{nextID: 1}
}

func (m *mailbox) add(event Event) StoredEvent {
	se := StoredEvent{ID: m.nextID, Event: event}
	m.nextID++

	m.events = append(m.events, se)
	if len(m.events) > mailboxCapacity {
		m.events = m.events[len(m.events)-mailboxCapacity:]
	}
	return se
}

// since returns the retained events with id greater than afterID,
// oldest first.
func (m *mailbox) since(afterID uint64) []StoredEvent {
	var out []StoredEvent
	for _, se := range m.events {
		if se.ID > afterID {
			out = append(out, se)
		}
	}
	return out
}
