// Package dashboard implements the consumption pattern every dashboard view
// follows against the change feed: load a snapshot, subscribe for the view's
// role, coalesce bursts of change events into a bounded number of full
// reloads, and tear everything down on unmount.
package dashboard

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/opsdash/realtime/feed"
	"github.com/opsdash/realtime/model"
	"github.com/opsdash/realtime/registry"
	"github.com/opsdash/realtime/roles"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is a dashboard view's position in its reconciliation lifecycle.
type State string

// The view states.
const (
	StateIdle          State = "idle"
	StateLoading       State = "loading"
	StateSubscribed    State = "subscribed"
	StateReloadPending State = "reload_pending"
	StateUnsubscribing State = "unsubscribing"
)

// SnapshotFunc performs a full re-fetch of the view's backing resources.
// Reloads are always full snapshots rather than incremental patches: a
// missed change event is caught by the next reload, so the feed only ever
// has to be a hint.
type SnapshotFunc func(ctx context.Context) error

// Subscriber is the slice of the registry a view needs. *registry.Registry
// satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, scopeID, topic string, callback registry.Callback, filter *feed.Filter) (*registry.Handle, error)
	SubscribeRole(ctx context.Context, scopeID string, role roles.Role, callback registry.Callback) (*registry.Set, error)
	UnsubscribeAll(scopeID string)
	HealthCheck(ctx context.Context) registry.Status
}

// Config carries everything a view needs to run its lifecycle.
type Config struct {
	// ScopeID names the subscription scope owned by this view. Left empty,
	// a fresh scope ID is generated per mount cycle.
	ScopeID string

	// Role selects the topic set the view subscribes to.
	Role roles.Role

	// UserID, when set, additionally subscribes the view to its own
	// recipient-filtered notifications feed.
	UserID string

	Registry Subscriber
	Load     SnapshotFunc
	Log      *logrus.Entry
}

// View drives one dashboard's reconciliation lifecycle:
//
//	Idle -> Loading -> Subscribed <-> ReloadPending -> Unsubscribing -> Idle
//
// A view is owned by exactly one mount/unmount cycle and must not be shared.
type View struct {
	cfg Config

	mu        sync.Mutex
	state     State
	scopeID   string
	mounted   bool
	trailing  bool
	connected bool
	cancel    context.CancelFunc
	runCtx    context.Context
}

// NewView returns an unmounted view.
func NewView(cfg Config) *View {
	return &View{
		cfg:   cfg,
		state: StateIdle,
	}
}

// State returns the view's current lifecycle state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Connected reports whether the view has live real-time coverage. A view
// that lost its subscriptions keeps serving its last snapshot and shows a
// disconnected indicator; reads and writes against the store are unaffected.
func (v *View) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// ScopeID returns the subscription scope owned by the current mount cycle.
func (v *View) ScopeID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scopeID
}

// Mount loads the initial snapshot and opens the view's subscriptions. A
// snapshot failure fails the mount. A subscription failure does not: the
// view degrades to snapshot-only operation with Connected reporting false.
func (v *View) Mount(ctx context.Context) error {
	wrapMsg := "unable to mount the dashboard view"

	v.mu.Lock()
	if v.state != StateIdle {
		v.mu.Unlock()
		return errors.Errorf("%s: the view is already mounted", wrapMsg)
	}
	v.state = StateLoading
	v.scopeID = v.cfg.ScopeID
	if v.scopeID == "" {
		v.scopeID = uuid.NewString()
	}
	v.runCtx, v.cancel = context.WithCancel(context.Background())
	v.mu.Unlock()

	// Load the initial snapshot.
	if err := v.cfg.Load(ctx); err != nil {
		v.mu.Lock()
		v.state = StateIdle
		v.cancel()
		v.mu.Unlock()
		return errors.Wrap(err, wrapMsg)
	}

	// Mark the view live before opening any subscription: events can start
	// flowing the moment a channel confirms, and one that lands before the
	// mount finishes must still schedule a reload.
	v.mu.Lock()
	v.state = StateSubscribed
	v.mounted = true
	v.mu.Unlock()

	// Open the role-scoped subscriptions.
	connected := true
	if _, err := v.cfg.Registry.SubscribeRole(ctx, v.currentScopeID(), v.cfg.Role, v.onEvent); err != nil {
		v.cfg.Log.WithError(err).Warn("dashboard subscriptions are incomplete; falling back to snapshots")
		connected = false
	}

	// Subscribe to the user's own notification feed.
	if v.cfg.UserID != "" {
		filter := &feed.Filter{Column: "recipient_id", Value: v.cfg.UserID}
		_, err := v.cfg.Registry.Subscribe(ctx, v.currentScopeID(), roles.TopicNotifications, v.onEvent, filter)
		if err != nil {
			v.cfg.Log.WithError(err).Warn("notification feed subscription failed")
			connected = false
		}
	}

	v.mu.Lock()
	if v.mounted {
		v.connected = connected
	}
	v.mu.Unlock()

	return nil
}

func (v *View) currentScopeID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scopeID
}

// onEvent is the view's subscription callback. The first event while
// subscribed schedules one reload; events arriving while a reload is pending
// or in flight coalesce into at most one trailing reload, so a burst of N
// events costs O(1) extra work rather than N reloads.
func (v *View) onEvent(event model.ChangeEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// A stale dispatch may still arrive after teardown began; the mounted
	// flag is the consumer-side liveness check.
	if !v.mounted {
		return
	}

	switch v.state {
	case StateSubscribed:
		v.state = StateReloadPending
		go v.runReload()
	case StateReloadPending:
		v.trailing = true
	default:
		v.cfg.Log.Debugf("ignoring a %s event on `%s` in state %s", event.Kind, event.Topic, v.state)
	}
}

// runReload performs the scheduled reload, plus the single trailing reload
// if more events arrived while it was in flight.
func (v *View) runReload() {
	for {
		v.mu.Lock()
		if !v.mounted {
			v.mu.Unlock()
			return
		}
		ctx := v.runCtx
		v.mu.Unlock()

		if err := v.cfg.Load(ctx); err != nil {
			v.cfg.Log.WithError(err).Warn("dashboard reload failed; keeping the previous snapshot")
		}

		v.mu.Lock()
		if !v.mounted {
			v.mu.Unlock()
			return
		}
		if v.trailing {
			v.trailing = false
			v.mu.Unlock()
			continue
		}
		v.state = StateSubscribed
		v.mu.Unlock()
		return
	}
}

// Refresh re-runs the snapshot load outside the event-driven path. The
// polling fallback uses it while the feed connection is down.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return errors.New("unable to refresh an unmounted view")
	}
	v.mu.Unlock()
	return v.cfg.Load(ctx)
}

// CheckHealth probes the registry's connection to the change feed and
// updates the view's disconnected indicator.
func (v *View) CheckHealth(ctx context.Context) registry.Status {
	status := v.cfg.Registry.HealthCheck(ctx)
	v.mu.Lock()
	if v.mounted {
		v.connected = status.Connected
	}
	v.mu.Unlock()
	return status
}

// Unmount tears down the view's subscriptions and discards any pending
// reload. Unmounting an idle view is a no-op.
func (v *View) Unmount() {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.state = StateUnsubscribing
	v.mounted = false
	v.trailing = false
	v.connected = false
	scopeID := v.scopeID
	cancel := v.cancel
	v.mu.Unlock()

	cancel()
	v.cfg.Registry.UnsubscribeAll(scopeID)

	v.mu.Lock()
	v.state = StateIdle
	v.mu.Unlock()
}
