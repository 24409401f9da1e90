package mlibp2p

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/meshwork-engine/meshwork/mconsensus"
)

// incomingBufferSize is the buffer for the channel returned by
// [PubSubSender.Messages].
const incomingBufferSize = 32

// PubSubSender is an [mconsensus.NetworkSender] over gossipsub.
//
// Broadcasts go to a shared topic derived from the network id, and
// direct sends go to a per-peer topic that each peer joins for itself.
// Every published message is wrapped in an [mconsensus.ConsensusMessage]
// envelope carrying the sender's id.
type PubSubSender struct {
	log *slog.Logger

	ctx context.Context

	ps   *pubsub.PubSub
	self mconsensus.PeerID

	broadcastTopic *pubsub.Topic
	selfTopic      *pubsub.Topic

	mu sync.Mutex
	// Lazily joined direct topics for other peers.
	peerTopics map[mconsensus.PeerID]*pubsub.Topic

	topicPrefix string
}

// NewPubSubSender joins the broadcast topic for networkID and the
// direct topic for self. ctx bounds all publishes and subscription
// reads made through the sender.
func NewPubSubSender(
	ctx context.Context,
	log *slog.Logger,
	ps *pubsub.PubSub,
	networkID string,
	self mconsensus.PeerID,
) (*PubSubSender, error) {
	prefix := "/meshwork/consensus/" + networkID

	broadcast, err := ps.Join(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to join broadcast topic: %w", err)
	}

	selfTopic, err := ps.Join(directTopicName(prefix, self))
	if err != nil {
		return nil, fmt.Errorf("failed to join direct topic: %w", err)
	}

	return &PubSubSender{
		log: log,

		ctx: ctx,

		ps:   ps,
		self: self,

		broadcastTopic: broadcast,
		selfTopic:      selfTopic,

		peerTopics: make(map[mconsensus.PeerID]*pubsub.Topic),

		topicPrefix: prefix,
	}, nil
}

func directTopicName(prefix string, peer mconsensus.PeerID) string {
	return prefix + "/peer/" + hex.EncodeToString(peer.Bytes())
}

func (s *PubSubSender) Broadcast(message []byte) error {
	b, err := s.envelope(message)
	if err != nil {
		return err
	}
	if err := s.broadcastTopic.Publish(s.ctx, b); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}
	return nil
}

func (s *PubSubSender) SendTo(peer mconsensus.PeerID, message []byte) error {
	t, err := s.topicFor(peer)
	if err != nil {
		return err
	}

	b, err := s.envelope(message)
	if err != nil {
		return err
	}
	if err := t.Publish(s.ctx, b); err != nil {
		return fmt.Errorf("failed to publish to peer %v: %w", peer, err)
	}
	return nil
}

func (s *PubSubSender) envelope(message []byte) ([]byte, error) {
	b, err := mconsensus.ConsensusMessage{
		Message: message,
		Origin:  s.self,
	}.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message envelope: %w", err)
	}
	return b, nil
}

func (s *PubSubSender) topicFor(peer mconsensus.PeerID) (*pubsub.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.peerTopics[peer]; ok {
		return t, nil
	}

	t, err := s.ps.Join(directTopicName(s.topicPrefix, peer))
	if err != nil {
		return nil, fmt.Errorf("failed to join topic for peer %v: %w", peer, err)
	}
	s.peerTopics[peer] = t
	return t, nil
}

// Messages subscribes to the broadcast topic and this peer's direct
// topic and returns a channel of decoded envelopes. Messages that
// originated from self, or that fail to decode, are dropped.
//
// Call Messages at most once per sender.
func (s *PubSubSender) Messages() (<-chan mconsensus.ConsensusMessage, error) {
	broadcastSub, err := s.broadcastTopic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to broadcast topic: %w", err)
	}

	directSub, err := s.selfTopic.Subscribe()
	if err != nil {
		broadcastSub.Cancel()
		return nil, fmt.Errorf("failed to subscribe to direct topic: %w", err)
	}

	out := make(chan mconsensus.ConsensusMessage, incomingBufferSize)
	go s.receive(broadcastSub, out)
	go s.receive(directSub, out)
	return out, nil
}

func (s *PubSubSender) receive(sub *pubsub.Subscription, out chan<- mconsensus.ConsensusMessage) {
	defer sub.Cancel()

	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			// Context cancellation or subscription teardown.
			return
		}

		var cm mconsensus.ConsensusMessage
		if err := cm.UnmarshalBinary(msg.Data); err != nil {
			s.log.Warn(
				"Dropping undecodable consensus message",
				"topic", sub.Topic(),
				"err", err,
			)
			continue
		}

		if cm.Origin == s.self {
			// Gossipsub can loop our own messages back.
			continue
		}

		select {
		case out <- cm:
		case <-s.ctx.Done():
			return
		}
	}
}
