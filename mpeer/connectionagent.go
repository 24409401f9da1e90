package mpeer

import "fmt"

// ConnectionEventKind distinguishes connection-layer notifications.
type ConnectionEventKind uint8

const (
	_ ConnectionEventKind = iota // Zero value reserved.

	// A connection to the endpoint was established.
	ConnectionConnected

	// The connection to the endpoint dropped.
	// The connection layer keeps retrying on its own.
	ConnectionDisconnected

	// A reconnection attempt to the endpoint failed.
	ConnectionReconnectionFailed
)

func (k ConnectionEventKind) String() string {
	switch k {
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionReconnectionFailed:
		return "reconnection_failed"
	default:
		return fmt.Sprintf("ConnectionEventKind(%d)", uint8(k))
	}
}

// ConnectionNotification is one event from the connection layer.
type ConnectionNotification struct {
	Kind     ConnectionEventKind
	Endpoint string

	// How many reconnection attempts have been made.
	// Only set for ConnectionReconnectionFailed.
	Attempts uint64
}

// ConnectionAgent is the connection layer underneath the peer manager.
// Establishing a connection is asynchronous: RequestConnection returning
// nil means the request was taken, and the outcome arrives later as a
// [ConnectionNotification] on subscribed channels.
type ConnectionAgent interface {
	// RequestConnection asks for a connection to the endpoint,
	// tagged with the manager-assigned connection id.
	// A non-nil error means the endpoint was rejected outright.
	RequestConnection(endpoint, connectionID string) error

	// RemoveConnection closes the connection to the endpoint.
	// The first return is false when there was no connection.
	RemoveConnection(endpoint string) (bool, error)

	// Subscribe registers a channel for notifications and returns a
	// subscription id for Unsubscribe. Sends must not block the
	// agent; the channel should be buffered.
	Subscribe(ch chan<- ConnectionNotification) (int, error)

	// Unsubscribe removes a previously registered channel.
	Unsubscribe(id int) error
}
