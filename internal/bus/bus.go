// Package bus carries "synchronization complete" notifications between agents. Messages are
// addressed to a target agent ID and delivered only to subscribers of that ID.
package bus

import (
	"log/slog"
	"sync"
)

// DefaultBufferSize is the number of undelivered messages a subscription holds before
// further messages are dropped
const DefaultBufferSize = 16

// SyncComplete announces that a synchronization on the source agent produced changes
// destined for the target agent
type SyncComplete struct {
	SourceAgentID   string `json:"sourceAgentId"`
	SourceAgentName string `json:"sourceAgentName"`
	TargetAgentID   string `json:"targetAgentId"`
}

// Bus routes SyncComplete messages to subscribers keyed by target agent ID
type Bus struct {
	bufferSize int

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// Option configures a Bus
type Option func(*Bus)

// WithBufferSize sets the per-subscription buffer
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// New creates a Bus
func New(opts ...Option) *Bus {
	b := &Bus{
		bufferSize: DefaultBufferSize,
		subs:       make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription receives the messages addressed to one agent
type Subscription struct {
	bus     *Bus
	agentID string
	ch      chan SyncComplete
	once    sync.Once
}

// C returns the channel messages are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan SyncComplete {
	return s.ch
}

// Close unsubscribes and closes the channel. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if subs, ok := s.bus.subs[s.agentID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.subs, s.agentID)
			}
		}
		close(s.ch)
	})
}

// Subscribe registers for messages addressed to agentID
func (b *Bus) Subscribe(agentID string) *Subscription {
	s := &Subscription{
		bus:     b,
		agentID: agentID,
		ch:      make(chan SyncComplete, b.bufferSize),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[agentID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.subs[agentID] = subs
	}
	subs[s] = struct{}{}
	return s
}

// Publish delivers the message to every subscriber of its target and returns how many
// received it. It never blocks; a subscriber with a full buffer misses the message.
func (b *Bus) Publish(msg SyncComplete) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for s := range b.subs[msg.TargetAgentID] {
		select {
		case s.ch <- msg:
			delivered++
		default:
			slog.Warn("Dropping sync complete notification, subscriber is not keeping up",
				"source_agent", msg.SourceAgentName,
				"target_agent", msg.TargetAgentID)
		}
	}
	return delivered
}
