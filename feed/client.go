// Package feed defines the boundary to the change-feed service: a subscribe
// primitive keyed by table and filter that asynchronously confirms a live
// channel and then delivers row-level change events until cancelled.
package feed

import (
	"context"
	"fmt"

	"github.com/opsdash/realtime/model"
)

// EventFunc is called once for every change event delivered on a channel.
type EventFunc func(event model.ChangeEvent)

// Filter is a single-column equality predicate narrowing a subscription to
// the rows a consumer cares about, such as the recipient column of the
// notifications table.
type Filter struct {
	Column string
	Value  string
}

// Key returns a stable string form of the filter, used for channel naming
// and for subscription deduplication.
func (f *Filter) Key() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

// ChannelName returns the logical channel name for a table and optional
// filter. The convention is one channel per table, named "{table}_changes",
// with a filter discriminator appended for filtered subscriptions.
func ChannelName(table string, filter *Filter) string {
	if filter == nil {
		return fmt.Sprintf("%s_changes", table)
	}
	return fmt.Sprintf("%s_changes:%s", table, filter.Key())
}

// Channel is a live subscription to one table's change events. Liveness is
// confirmed asynchronously: the channel exists as soon as Subscribe returns,
// but events only begin to flow once Confirmed yields a nil error. There is
// no latency bound on confirmation; callers impose their own deadline.
type Channel interface {
	// Name returns the logical channel name.
	Name() string

	// Confirmed yields nil once the channel is live, or the error that
	// prevented it from ever becoming live. It yields at most one value.
	Confirmed() <-chan error
}

// Client is the change-feed service boundary.
type Client interface {
	// Subscribe opens a channel for the table's change events. Events
	// matching the filter (or all events, for a nil filter) are passed to
	// onEvent from the channel's delivery goroutine, in the order the feed
	// emits them. Delivery is at-least-once and is not gap-free across a
	// reconnect.
	Subscribe(table string, filter *Filter, onEvent EventFunc) (Channel, error)

	// Unsubscribe tears the channel down. No new deliveries occur after
	// Unsubscribe returns.
	Unsubscribe(channel Channel) error

	// Ping probes the connection to the change-feed service.
	Ping(ctx context.Context) error
}
