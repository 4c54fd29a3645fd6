// Package registry tracks live change-feed subscriptions. It deduplicates
// channels per (topic, filter) pair within a scope, ties every subscription
// to the lifetime of its owning scope, and guards the unsubscribe race with
// generation tombstones so that a consumer that has been torn down never
// receives another dispatch.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/feed"
	"github.com/opsdash/realtime/model"
	"github.com/opsdash/realtime/roles"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultConfirmTimeout is how long the registry waits for the change feed to
// confirm that a channel is live before treating the subscription as failed.
const DefaultConfirmTimeout = 5000 * time.Millisecond

// Callback receives change events for a subscription. Callbacks must be
// prepared to run after their consumer has logically shut down: a dispatch
// already in flight when the subscription is torn down is still delivered.
type Callback func(event model.ChangeEvent)

// Status reports the health of the connection to the change feed.
type Status struct {
	Connected bool
	Err       error
}

// Handle identifies one subscription: a callback registered against a
// (topic, filter) pair within a scope.
type Handle struct {
	id       string
	scopeID  string
	topic    string
	filter   *feed.Filter
	callback Callback

	// generation is bumped on unsubscribe. A dispatch compares the
	// generation it captured at registration against the current value and
	// is suppressed when they differ, which closes the window between an
	// unsubscribe and a callback that the feed already has in flight.
	mu         sync.Mutex
	generation uint64
}

// ID returns the handle's opaque identifier.
func (h *Handle) ID() string {
	return h.id
}

// Topic returns the topic the handle is subscribed to.
func (h *Handle) Topic() string {
	return h.topic
}

func (h *Handle) currentGeneration() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

func (h *Handle) bumpGeneration() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generation++
}

// subscriber records a handle's membership in a channel along with the
// generation it registered at.
type subscriber struct {
	handle     *Handle
	generation uint64
}

// channelRef is one live feed channel shared by every handle in a scope that
// subscribed to the same (topic, filter) pair.
type channelRef struct {
	channel     feed.Channel
	subscribers map[string]*subscriber

	// live is closed once the channel is confirmed; openErr holds the
	// failure if confirmation never arrived. Later subscribers to the same
	// pair wait on the same confirmation as the one that opened the channel.
	live    chan struct{}
	openErr error
}

// scope owns the subscriptions of one dashboard lifecycle.
type scope struct {
	channels map[string]*channelRef
	handles  map[string]*Handle
}

// Registry manages scoped subscriptions against a change-feed client. A
// registry is safe for concurrent use. Construct one per process and pass it
// to each dashboard; the registry has no package-level instance.
type Registry struct {
	client         feed.Client
	log            *logrus.Entry
	confirmTimeout time.Duration

	mu     sync.Mutex
	scopes map[string]*scope
}

// Option adjusts registry construction.
type Option func(*Registry)

// WithConfirmTimeout overrides the channel-live confirmation timeout.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		r.confirmTimeout = timeout
	}
}

// New returns a registry backed by the given change-feed client.
func New(client feed.Client, log *logrus.Entry, options ...Option) *Registry {
	registry := &Registry{
		client:         client,
		log:            log,
		confirmTimeout: DefaultConfirmTimeout,
		scopes:         make(map[string]*scope),
	}
	for _, option := range options {
		option(registry)
	}
	return registry
}

// Subscribe registers a callback against a (topic, filter) pair within a
// scope. If the scope already holds a live channel for the pair, the new
// callback shares it instead of opening a second channel. Subscribe waits
// for the channel-live confirmation, bounded by the confirmation timeout; on
// timeout or open failure it cleans up after itself, leaves no dangling
// handle, and does not retry.
func (r *Registry) Subscribe(
	ctx context.Context,
	scopeID string,
	topic string,
	callback Callback,
	filter *feed.Filter,
) (*Handle, error) {
	key := feed.ChannelName(topic, filter)

	handle := &Handle{
		id:       uuid.NewString(),
		scopeID:  scopeID,
		topic:    topic,
		filter:   filter,
		callback: callback,
	}

	r.mu.Lock()

	sc, ok := r.scopes[scopeID]
	if !ok {
		sc = &scope{
			channels: make(map[string]*channelRef),
			handles:  make(map[string]*Handle),
		}
		r.scopes[scopeID] = sc
	}

	ref, ok := sc.channels[key]
	if !ok {
		// First subscription to this pair in this scope: open a channel.
		ref = &channelRef{
			subscribers: make(map[string]*subscriber),
			live:        make(chan struct{}),
		}
		sc.channels[key] = ref

		channel, err := r.client.Subscribe(topic, filter, r.dispatcher(ref))
		if err != nil {
			delete(sc.channels, key)
			r.dropScopeIfEmptyLocked(scopeID, sc)
			r.mu.Unlock()
			return nil, err
		}
		ref.channel = channel

		go r.awaitConfirmation(ref, channel)
	}

	ref.subscribers[handle.id] = &subscriber{handle: handle, generation: handle.currentGeneration()}
	sc.handles[handle.id] = handle
	r.mu.Unlock()

	// Wait for the channel to become live.
	err := r.waitLive(ctx, ref)
	if err != nil {
		r.Unsubscribe(handle)
		return nil, err
	}

	return handle, nil
}

// awaitConfirmation watches a channel's confirmation and records the result
// on the ref so that every waiter sees the same outcome.
func (r *Registry) awaitConfirmation(ref *channelRef, channel feed.Channel) {
	err := <-channel.Confirmed()
	r.mu.Lock()
	ref.openErr = err
	close(ref.live)
	r.mu.Unlock()
}

// waitLive blocks until a channel is confirmed live, the confirmation
// timeout expires, or the context is cancelled.
func (r *Registry) waitLive(ctx context.Context, ref *channelRef) error {
	timer := time.NewTimer(r.confirmTimeout)
	defer timer.Stop()

	select {
	case <-ref.live:
		r.mu.Lock()
		err := ref.openErr
		r.mu.Unlock()
		return err
	case <-timer.C:
		return common.NewTimeoutError(
			"no channel-live confirmation within %s", r.confirmTimeout)
	case <-ctx.Done():
		// A caller-cancelled subscribe is not a confirmation timeout.
		return errors.Wrap(ctx.Err(), "subscription abandoned before confirmation")
	}
}

// dispatcher builds the event function handed to the feed client for one
// channel. Each dispatch snapshots the subscriber list, then invokes every
// callback whose registration generation is still current. Callbacks run
// outside the registry lock and panics are contained so that one faulty
// consumer can't break another's subscriptions.
func (r *Registry) dispatcher(ref *channelRef) feed.EventFunc {
	return func(event model.ChangeEvent) {
		r.mu.Lock()
		snapshot := make([]*subscriber, 0, len(ref.subscribers))
		for _, sub := range ref.subscribers {
			snapshot = append(snapshot, sub)
		}
		r.mu.Unlock()

		for _, sub := range snapshot {
			if sub.handle.currentGeneration() != sub.generation {
				// Tombstoned after the snapshot was taken.
				continue
			}
			r.invoke(sub.handle, event)
		}
	}
}

// invoke runs a single callback, containing any panic it raises.
func (r *Registry) invoke(handle *Handle, event model.ChangeEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.log.WithFields(logrus.Fields{
				"scope": handle.scopeID,
				"topic": handle.topic,
			}).Errorf("subscription callback panicked: %v", recovered)
		}
	}()
	handle.callback(event)
}

// Unsubscribe removes a single subscription. The handle's generation is
// bumped first, so a dispatch already in flight for the prior generation is
// delivered but nothing after it. The underlying channel is torn down once
// its last subscriber is gone. Unsubscribing an unknown or already-removed
// handle is a no-op.
func (r *Registry) Unsubscribe(handle *Handle) {
	if handle == nil {
		return
	}
	handle.bumpGeneration()

	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.scopes[handle.scopeID]
	if !ok {
		return
	}
	if _, ok = sc.handles[handle.id]; !ok {
		return
	}
	delete(sc.handles, handle.id)

	key := feed.ChannelName(handle.topic, handle.filter)
	ref, ok := sc.channels[key]
	if ok {
		delete(ref.subscribers, handle.id)
		if len(ref.subscribers) == 0 {
			delete(sc.channels, key)
			r.teardownLocked(ref)
		}
	}

	r.dropScopeIfEmptyLocked(handle.scopeID, sc)
}

// UnsubscribeAll removes every subscription owned by a scope. The call is
// idempotent: tearing down a scope that holds nothing is a no-op.
func (r *Registry) UnsubscribeAll(scopeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.scopes[scopeID]
	if !ok {
		return
	}
	delete(r.scopes, scopeID)

	for _, handle := range sc.handles {
		handle.bumpGeneration()
	}
	for _, ref := range sc.channels {
		r.teardownLocked(ref)
	}
}

// teardownLocked requests channel teardown from the feed client. The request
// runs outside the lock; a teardown failure is logged rather than surfaced
// because the subscription state has already been discarded.
func (r *Registry) teardownLocked(ref *channelRef) {
	channel := ref.channel
	if channel == nil {
		return
	}
	go func() {
		if err := r.client.Unsubscribe(channel); err != nil {
			r.log.WithError(err).Warnf("unable to tear down channel `%s`", channel.Name())
		}
	}()
}

// dropScopeIfEmptyLocked removes a scope's bookkeeping once it owns nothing.
func (r *Registry) dropScopeIfEmptyLocked(scopeID string, sc *scope) {
	if len(sc.handles) == 0 && len(sc.channels) == 0 {
		delete(r.scopes, scopeID)
	}
}

// HealthCheck probes the connection to the change feed. Dashboards use the
// result to decide whether to fall back to manual polling.
func (r *Registry) HealthCheck(ctx context.Context) Status {
	err := r.client.Ping(ctx)
	if err != nil {
		return Status{Connected: false, Err: err}
	}
	return Status{Connected: true}
}

// LiveHandles returns the number of subscriptions currently owned by a scope.
func (r *Registry) LiveHandles(scopeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scopes[scopeID]
	if !ok {
		return 0
	}
	return len(sc.handles)
}

// LiveChannels returns the number of live feed channels across all scopes.
func (r *Registry) LiveChannels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, sc := range r.scopes {
		total += len(sc.channels)
	}
	return total
}

// Set is the collection of subscriptions opened by one scoped subscribe
// call. A set is owned by exactly one scope and must never be shared across
// dashboard lifecycles.
type Set struct {
	registry *Registry
	scopeID  string
	handles  []*Handle
}

// ScopeID returns the scope that owns the set.
func (s *Set) ScopeID() string {
	return s.scopeID
}

// Handles returns the subscriptions in the set.
func (s *Set) Handles() []*Handle {
	return s.handles
}

// Unsubscribe tears down every subscription owned by the set's scope.
func (s *Set) Unsubscribe() {
	s.registry.UnsubscribeAll(s.scopeID)
}

// SubscribeScoped subscribes one callback to several topics under a single
// scope. Topics that fail to confirm are reported in a PartialBatchError
// while the successfully opened topics stay live, so a dashboard can run
// with partial real-time coverage rather than none.
func (r *Registry) SubscribeScoped(
	ctx context.Context,
	scopeID string,
	topics []string,
	callback Callback,
) (*Set, error) {
	set := &Set{registry: r, scopeID: scopeID}

	var failed []string
	for _, topic := range topics {
		handle, err := r.Subscribe(ctx, scopeID, topic, callback, nil)
		if err != nil {
			r.log.WithError(err).Warnf("unable to subscribe scope `%s` to `%s`", scopeID, topic)
			failed = append(failed, topic)
			continue
		}
		set.handles = append(set.handles, handle)
	}

	if len(failed) != 0 {
		return set, common.NewPartialBatchError(failed)
	}
	return set, nil
}

// SubscribeRole subscribes one callback to every topic the role's dashboards
// care about. An unmapped role yields an empty set and a warning, never an
// error: the dashboard simply runs without real-time updates.
func (r *Registry) SubscribeRole(
	ctx context.Context,
	scopeID string,
	role roles.Role,
	callback Callback,
) (*Set, error) {
	topics, ok := roles.TopicsForRole(role)
	if !ok {
		r.log.Warnf("no topic mapping for role `%s`; scope `%s` gets no real-time updates", role, scopeID)
		return &Set{registry: r, scopeID: scopeID}, nil
	}
	return r.SubscribeScoped(ctx, scopeID, topics, callback)
}
