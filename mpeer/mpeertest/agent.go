// Package mpeertest provides an in-memory connection agent
// for peer manager and admission tests.
package mpeertest

import (
	"fmt"
	"sync"

	"github.com/meshwork-engine/meshwork/mpeer"
)

// ConnectionRequest records one RequestConnection call.
type ConnectionRequest struct {
	Endpoint     string
	ConnectionID string
}

// Agent is an in-memory [mpeer.ConnectionAgent].
//
// Endpoints are reachable unless marked otherwise. By default a
// successful connection request immediately emits a Connected
// notification, mimicking a connection layer that establishes
// connections instantly. Safe for concurrent use.
type Agent struct {
	mu sync.Mutex

	unreachable map[string]struct{}
	active      map[string]string // endpoint -> connection id

	requested []ConnectionRequest
	removed   []string

	subs      map[int]chan<- mpeer.ConnectionNotification
	nextSubID int

	manualConnect bool
}

func NewAgent() *Agent {
	return &Agent{
		unreachable: make(map[string]struct{}),
		active:      make(map[string]string),
		subs:        make(map[int]chan<- mpeer.ConnectionNotification),
	}
}

// SetManualConnect disables the automatic Connected notification on a
// successful connection request; tests then drive connection state
// entirely through [Agent.Notify].
func (a *Agent) SetManualConnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manualConnect = true
}

// SetUnreachable makes connection requests for the endpoints fail.
func (a *Agent) SetUnreachable(endpoints ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range endpoints {
		a.unreachable[e] = struct{}{}
	}
}

// SetReachable undoes SetUnreachable for the endpoints.
func (a *Agent) SetReachable(endpoints ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range endpoints {
		delete(a.unreachable, e)
	}
}

// Requested returns a copy of all recorded connection requests,
// in order.
func (a *Agent) Requested() []ConnectionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ConnectionRequest, len(a.requested))
	copy(out, a.requested)
	return out
}

// Removed returns a copy of the endpoints whose connections were
// removed, in order.
func (a *Agent) Removed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.removed))
	copy(out, a.removed)
	return out
}

// Notify delivers a notification to every subscriber.
func (a *Agent) Notify(n mpeer.ConnectionNotification) {
	a.mu.Lock()
	subs := make([]chan<- mpeer.ConnectionNotification, 0, len(a.subs))
	for _, ch := range a.subs {
		subs = append(subs, ch)
	}
	a.mu.Unlock()

	for _, ch := range subs {
		ch <- n
	}
}

func (a *Agent) RequestConnection(endpoint, connectionID string) error {
	a.mu.Lock()

	a.requested = append(a.requested, ConnectionRequest{
		Endpoint:     endpoint,
		ConnectionID: connectionID,
	})

	if _, bad := a.unreachable[endpoint]; bad {
		a.mu.Unlock()
		return fmt.Errorf("endpoint %q unreachable", endpoint)
	}

	a.active[endpoint] = connectionID
	manual := a.manualConnect
	a.mu.Unlock()

	if !manual {
		a.Notify(mpeer.ConnectionNotification{
			Kind:     mpeer.ConnectionConnected,
			Endpoint: endpoint,
		})
	}
	return nil
}

func (a *Agent) RemoveConnection(endpoint string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[endpoint]; !ok {
		return false, nil
	}
	delete(a.active, endpoint)
	a.removed = append(a.removed, endpoint)
	return true, nil
}

func (a *Agent) Subscribe(ch chan<- mpeer.ConnectionNotification) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSubID
	a.nextSubID++
	a.subs[id] = ch
	return id, nil
}

func (a *Agent) Unsubscribe(id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.subs[id]; !ok {
		return fmt.Errorf("no subscription with id %d", id)
	}
	delete(a.subs, id)
	return nil
}
