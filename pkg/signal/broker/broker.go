package broker

import (
	"sync"

	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

// Broker dispatches pushes and pulls to the right TopicLog by
// inspecting the event's topic field. It owns no other state: topic
// isolation and FIFO/expiry behavior all live on TopicLog.
type Broker struct {
	mu     sync.Mutex
	topics map[types.Topic]*TopicLog
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{topics: make(map[types.Topic]*TopicLog)}
}

// Push delivers event to its addressed topic, creating the topic's log
// on first use. Returns ErrMissingTopicKey if the event names neither a
// room nor a channel.
func (b *Broker) Push(event types.SignalingEvent) error {
	topic, err := event.Topic()
	if err != nil {
		return err
	}
	b.logFor(topic, true).Push(event)
	return nil
}

// PullRequest names the topic to read and the cursor to read after.
type PullRequest struct {
	Topic types.Topic
	After *types.EventId
}

// Pull returns the events strictly after req.After on req.Topic. A pull
// against a topic with no publisher yet (no TopicLog created) returns an
// empty slice rather than an error.
func (b *Broker) Pull(req PullRequest) []types.SignalingEvent {
	log := b.logFor(req.Topic, false)
	if log == nil {
		return []types.SignalingEvent{}
	}
	return log.Pull(req.After)
}

func (b *Broker) logFor(topic types.Topic, createIfAbsent bool) *TopicLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.topics[topic]
	if !ok {
		if !createIfAbsent {
			return nil
		}
		log = NewTopicLog()
		b.topics[topic] = log
	}
	return log
}
