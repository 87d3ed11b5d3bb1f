package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stats mirrors the original AgentCommunicator's counters: how many
// messages were sent, how many were actually delivered into a queue,
// how many expired off a queue unread, and how many broadcasts went out.
type Stats struct {
	MessagesSent      int64
	MessagesDelivered int64
	MessagesExpired   int64
	BroadcastCount    int64
}

// Bus is the inter-agent message bus: one bounded queue per registered
// agent, typed subscriptions, broadcast delivery, and an optional
// redacted history ring buffer. The registration table is guarded by a
// single lock held only for O(1) map operations, never across a
// suspension point.
type Bus struct {
	mu       sync.RWMutex
	queues   map[string]*agentQueue
	subs     map[string]Subscription
	statsMu  sync.Mutex
	stats    Stats
	history  *ring
	messageTimeout time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Options configures a Bus at construction time.
type Options struct {
	// MessageTimeout is how old a queued message may get before the
	// background sweep drops it. Zero disables the sweep's effect
	// (messages never expire by age).
	MessageTimeout time.Duration
	// HistorySize enables a bounded history ring buffer when > 0.
	HistorySize int
	// SanitizeHistory redacts obvious secrets before appending to history.
	SanitizeHistory bool
}

// New creates a Bus and starts its background sweep loop. Call Shutdown
// to stop the loop cleanly.
func New(opts Options) *Bus {
	b := &Bus{
		queues:         make(map[string]*agentQueue),
		subs:           make(map[string]Subscription),
		messageTimeout: opts.MessageTimeout,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	if opts.HistorySize > 0 {
		b.history = newRing(opts.HistorySize, opts.SanitizeHistory)
	}
	go b.sweepLoop()
	return b
}

// RegisterOptions configures one agent's mailbox.
type RegisterOptions struct {
	MaxSize int
	Policy  OverflowPolicy
}

// Register creates a bounded mailbox for agentID. Re-registering an
// already-known agent replaces its queue and drops any pending messages.
func (b *Bus) Register(agentID string, opts RegisterOptions) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[agentID] = newAgentQueue(opts.MaxSize, opts.Policy)
}

// Unregister destroys agentID's queue and subscriptions.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, agentID)
	delete(b.subs, agentID)
}

// Subscribe restricts which message types agentID accepts, with an
// optional predicate. An empty types set paired with a nil filter means
// "accept everything" (no subscription on record is equivalent).
func (b *Bus) Subscribe(agentID string, types []MessageType, filter func(AgentMessage) bool) {
	set := make(map[MessageType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[agentID] = Subscription{Types: set, Filter: filter}
}

// Unsubscribe removes agentID's subscription, reverting it to
// accept-everything.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, agentID)
}

var errUnknownReceiver = fmt.Errorf("bus: unknown receiver")

// Send delivers msg to its ReceiverID, filling Timestamp and
// CorrelationID if the caller left them zero. Returns an error for an
// unregistered receiver. A subscription that rejects the message type
// is not an error: the message is simply not enqueued (§8 invariant
// ii).
func (b *Bus) Send(ctx context.Context, msg AgentMessage) error {
	msg.fillDefaults()

	b.mu.RLock()
	q, ok := b.queues[msg.ReceiverID]
	sub, hasSub := b.subs[msg.ReceiverID]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errUnknownReceiver, msg.ReceiverID)
	}

	b.statsMu.Lock()
	b.stats.MessagesSent++
	b.statsMu.Unlock()

	if hasSub && !sub.accepts(msg) {
		return nil
	}

	b.enqueue(ctx, q, msg)
	b.recordHistory(msg)
	return nil
}

// enqueue applies the queue's overflow policy, blocking cooperatively
// (polling, never holding a lock) when the policy is OverflowBlock.
func (b *Bus) enqueue(ctx context.Context, q *agentQueue, msg AgentMessage) {
	if q.policy == OverflowBlock {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for q.full() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
	if q.push(msg) {
		b.statsMu.Lock()
		b.stats.MessagesDelivered++
		b.statsMu.Unlock()
	}
}

// Broadcast delivers a per-receiver copy of msg to every registered
// agent except the sender and any id in exclude. Cross-receiver
// ordering is not guaranteed.
func (b *Bus) Broadcast(ctx context.Context, msg AgentMessage, exclude ...string) {
	msg.fillDefaults()
	excl := make(map[string]bool, len(exclude)+1)
	excl[msg.SenderID] = true
	for _, id := range exclude {
		excl[id] = true
	}

	b.mu.RLock()
	targets := make([]string, 0, len(b.queues))
	for id := range b.queues {
		if !excl[id] {
			targets = append(targets, id)
		}
	}
	b.mu.RUnlock()

	b.statsMu.Lock()
	b.stats.BroadcastCount++
	b.statsMu.Unlock()

	for _, id := range targets {
		copyMsg := msg
		copyMsg.ReceiverID = id
		b.mu.RLock()
		q, ok := b.queues[id]
		sub, hasSub := b.subs[id]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		if hasSub && !sub.accepts(copyMsg) {
			continue
		}
		b.enqueue(ctx, q, copyMsg)
		b.recordHistory(copyMsg)
	}
}

// Receive blocks cooperatively (polling at ≤100ms granularity) until a
// message arrives for agentID or timeout elapses. A zero timeout means
// "return immediately with whatever is queued."
func (b *Bus) Receive(ctx context.Context, agentID string, timeout time.Duration) (AgentMessage, bool, error) {
	b.mu.RLock()
	q, ok := b.queues[agentID]
	b.mu.RUnlock()
	if !ok {
		return AgentMessage{}, false, fmt.Errorf("%w: %s", errUnknownReceiver, agentID)
	}

	if msg, ok := q.pop(); ok {
		return msg, true, nil
	}
	if timeout <= 0 {
		return AgentMessage{}, false, nil
	}

	poll := 50 * time.Millisecond
	if poll > timeout {
		poll = timeout
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return AgentMessage{}, false, ctx.Err()
		case <-q.notify:
			if msg, ok := q.pop(); ok {
				return msg, true, nil
			}
		case <-ticker.C:
			if msg, ok := q.pop(); ok {
				return msg, true, nil
			}
			if time.Now().After(deadline) {
				return AgentMessage{}, false, nil
			}
		}
	}
}

// QueueDepth reports how many messages are currently queued for
// agentID; used by the monitoring subsystem (C9).
func (b *Bus) QueueDepth(agentID string) int {
	b.mu.RLock()
	q, ok := b.queues[agentID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.depth()
}

// Stats returns a snapshot of the bus's cumulative counters.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// sweepLoop drops messages older than messageTimeout from every queue
// once per minute. It exits cleanly when Shutdown is called.
func (b *Bus) sweepLoop() {
	defer close(b.doneCh)
	if b.messageTimeout <= 0 {
		<-b.stopCh
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweepOnce()
		}
	}
}

func (b *Bus) sweepOnce() {
	cutoff := time.Now().Add(-b.messageTimeout)
	isExpired := func(m AgentMessage) bool { return m.Timestamp.Before(cutoff) }

	b.mu.RLock()
	queues := make([]*agentQueue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.RUnlock()

	var expired int64
	for _, q := range queues {
		expired += int64(q.dropOlderThan(isExpired))
	}
	if expired > 0 {
		b.statsMu.Lock()
		b.stats.MessagesExpired += expired
		b.statsMu.Unlock()
	}
}

// Shutdown cancels the background sweep loop and waits for it to exit.
func (b *Bus) Shutdown() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

func (b *Bus) recordHistory(msg AgentMessage) {
	if b.history != nil {
		b.history.add(msg)
	}
}

// History returns the retained (and possibly sanitised) message history,
// oldest first. Empty if history was not enabled.
func (b *Bus) History() []AgentMessage {
	if b.history == nil {
		return nil
	}
	return b.history.snapshot()
}

// ring is a bounded ring buffer of messages, optionally redacting
// secrets before storage.
type ring struct {
	mu       sync.Mutex
	buf      []AgentMessage
	cap      int
	sanitize bool
}

func newRing(cap int, sanitize bool) *ring {
	return &ring{buf: make([]AgentMessage, 0, cap), cap: cap, sanitize: sanitize}
}

func (r *ring) add(msg AgentMessage) {
	if r.sanitize {
		msg = redactMessage(msg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, msg)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

func (r *ring) snapshot() []AgentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AgentMessage, len(r.buf))
	copy(out, r.buf)
	return out
}
