package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsdash/realtime/feed"
	"github.com/opsdash/realtime/model"
	"github.com/opsdash/realtime/registry"
	"github.com/opsdash/realtime/roles"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// mockSubscriber implements Subscriber, capturing the callbacks a view
// registers so tests can play change events into it.
type mockSubscriber struct {
	mu               sync.Mutex
	callbacks        []registry.Callback
	subscribeRoleErr error
	subscribeErr     error
	unsubscribed     []string
	health           registry.Status

	// fireOnSubscribe delivers one event on the callback as soon as the
	// role subscription is registered, before SubscribeRole returns.
	fireOnSubscribe bool
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{health: registry.Status{Connected: true}}
}

func (m *mockSubscriber) Subscribe(
	_ context.Context,
	_ string,
	_ string,
	callback registry.Callback,
	_ *feed.Filter,
) (*registry.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.callbacks = append(m.callbacks, callback)
	return &registry.Handle{}, nil
}

func (m *mockSubscriber) SubscribeRole(
	_ context.Context,
	_ string,
	_ roles.Role,
	callback registry.Callback,
) (*registry.Set, error) {
	m.mu.Lock()
	if m.subscribeRoleErr != nil {
		m.mu.Unlock()
		return nil, m.subscribeRoleErr
	}
	m.callbacks = append(m.callbacks, callback)
	fire := m.fireOnSubscribe
	m.mu.Unlock()
	if fire {
		callback(insertEvent(roles.TopicInventory))
	}
	return &registry.Set{}, nil
}

func (m *mockSubscriber) UnsubscribeAll(scopeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, scopeID)
}

func (m *mockSubscriber) HealthCheck(_ context.Context) registry.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *mockSubscriber) fire(event model.ChangeEvent) {
	m.mu.Lock()
	callbacks := make([]registry.Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()
	for _, callback := range callbacks {
		callback(event)
	}
}

// gatedLoader is a snapshot loader whose reloads can be held open so tests
// can control when a reload is "in flight".
type gatedLoader struct {
	count   int32
	gated   int32
	started chan struct{}
	release chan struct{}
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (l *gatedLoader) load(_ context.Context) error {
	atomic.AddInt32(&l.count, 1)
	if atomic.LoadInt32(&l.gated) == 1 {
		l.started <- struct{}{}
		<-l.release
	}
	return nil
}

func (l *gatedLoader) loads() int32 {
	return atomic.LoadInt32(&l.count)
}

func testLog() *logrus.Entry {
	return logrus.WithField("test", "dashboard")
}

func insertEvent(topic string) model.ChangeEvent {
	return model.ChangeEvent{Topic: topic, Kind: model.EventInsert, ReceivedAt: time.Now()}
}

func TestMountAndUnmountLifecycle(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	loader := newGatedLoader()
	view := NewView(Config{
		Role:     roles.Employee,
		UserID:   "u1",
		Registry: subscriber,
		Load:     loader.load,
		Log:      testLog(),
	})

	assert.Equal(StateIdle, view.State())
	assert.NoError(view.Mount(context.Background()))
	assert.Equal(StateSubscribed, view.State())
	assert.True(view.Connected())
	assert.Equal(int32(1), loader.loads(), "mounting loads exactly one snapshot")
	assert.Len(subscriber.callbacks, 2, "the role set and the notification feed are both subscribed")

	scopeID := view.ScopeID()
	assert.NotEmpty(scopeID)

	view.Unmount()
	assert.Equal(StateIdle, view.State())
	assert.False(view.Connected())
	assert.Equal([]string{scopeID}, subscriber.unsubscribed, "unmounting tears down the view's scope")
}

func TestMountSnapshotFailure(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	view := NewView(Config{
		Role:     roles.Employee,
		Registry: subscriber,
		Load:     func(context.Context) error { return errors.New("the store is unreachable") },
		Log:      testLog(),
	})

	assert.Error(view.Mount(context.Background()))
	assert.Equal(StateIdle, view.State(), "a failed mount returns to idle")
	assert.Empty(subscriber.callbacks, "no subscriptions are opened when the snapshot fails")
}

func TestMountDegradesOnSubscriptionFailure(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	subscriber.subscribeRoleErr = errors.New("the feed is down")
	loader := newGatedLoader()
	view := NewView(Config{
		Role:     roles.Employee,
		Registry: subscriber,
		Load:     loader.load,
		Log:      testLog(),
	})

	// The mount still succeeds; the view just has no live coverage.
	assert.NoError(view.Mount(context.Background()))
	assert.Equal(StateSubscribed, view.State())
	assert.False(view.Connected(), "a view without subscriptions reports disconnected")
	assert.Equal(int32(1), loader.loads())
}

func TestEventDuringMountSchedulesReload(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	subscriber.fireOnSubscribe = true
	loader := newGatedLoader()
	view := NewView(Config{
		Role:     roles.Employee,
		Registry: subscriber,
		Load:     loader.load,
		Log:      testLog(),
	})

	assert.NoError(view.Mount(context.Background()))

	// The subscription is live before Mount returns, so an event delivered
	// in that window must still schedule a reload.
	assert.Eventually(func() bool { return loader.loads() == 2 },
		time.Second, 5*time.Millisecond,
		"an event delivered while the mount is completing must schedule a reload")
	assert.Eventually(func() bool { return view.State() == StateSubscribed },
		time.Second, 5*time.Millisecond)
	assert.True(view.Connected())
}

func TestEventCoalescing(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	loader := newGatedLoader()
	view := NewView(Config{
		Role:     roles.Employee,
		Registry: subscriber,
		Load:     loader.load,
		Log:      testLog(),
	})
	assert.NoError(view.Mount(context.Background()))

	// Hold reloads open from here on.
	atomic.StoreInt32(&loader.gated, 1)

	// The first event schedules one reload.
	subscriber.fire(insertEvent(roles.TopicInventory))
	<-loader.started
	assert.Equal(StateReloadPending, view.State())

	// A burst of events while the reload is in flight coalesces into a
	// single trailing reload.
	for i := 0; i < 5; i++ {
		subscriber.fire(insertEvent(roles.TopicInventory))
	}

	// Release the in-flight reload; the trailing reload starts.
	loader.release <- struct{}{}
	<-loader.started

	// Release the trailing reload; the view settles with no further loads.
	loader.release <- struct{}{}
	assert.Eventually(func() bool { return view.State() == StateSubscribed },
		time.Second, 5*time.Millisecond)
	assert.Equal(int32(3), loader.loads(),
		"six events must cost one snapshot, one reload, and one trailing reload")
}

func TestUnmountDiscardsPendingReload(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	loader := newGatedLoader()
	view := NewView(Config{
		Role:     roles.Employee,
		Registry: subscriber,
		Load:     loader.load,
		Log:      testLog(),
	})
	assert.NoError(view.Mount(context.Background()))

	atomic.StoreInt32(&loader.gated, 1)

	// Schedule a reload and queue a trailing one behind it.
	subscriber.fire(insertEvent(roles.TopicInventory))
	<-loader.started
	subscriber.fire(insertEvent(roles.TopicInventory))

	// Unmount while the reload is in flight, then let it finish. The
	// trailing reload must be discarded.
	view.Unmount()
	loader.release <- struct{}{}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(int32(2), loader.loads(), "no reload may run after unmount")
	assert.Equal(StateIdle, view.State())
}

func TestStaleEventAfterUnmountIsIgnored(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	loader := newGatedLoader()
	view := NewView(Config{
		Role:     roles.Employee,
		Registry: subscriber,
		Load:     loader.load,
		Log:      testLog(),
	})
	assert.NoError(view.Mount(context.Background()))
	view.Unmount()

	// A dispatch that was already in flight when the view unmounted is
	// delivered but has no effect.
	assert.NotPanics(func() {
		subscriber.fire(insertEvent(roles.TopicInventory))
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(int32(1), loader.loads(), "only the mount-time snapshot may have loaded")
}

func TestCheckHealthUpdatesConnected(t *testing.T) {
	assert := assert.New(t)
	subscriber := newMockSubscriber()
	loader := newGatedLoader()
	view := NewView(Config{
		Role:     roles.Employee,
		Registry: subscriber,
		Load:     loader.load,
		Log:      testLog(),
	})
	assert.NoError(view.Mount(context.Background()))
	assert.True(view.Connected())

	subscriber.mu.Lock()
	subscriber.health = registry.Status{Connected: false, Err: errors.New("gone")}
	subscriber.mu.Unlock()

	status := view.CheckHealth(context.Background())
	assert.False(status.Connected)
	assert.False(view.Connected(), "the disconnected indicator follows the health check")
}
