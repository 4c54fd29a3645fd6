package model

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// EventKind discriminates the three row-level change events emitted by the
// change feed.
type EventKind string

// The change event kinds.
const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Valid returns true if the event kind is one of the recognized kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// ChangeEvent is a single row-level change delivered by the change feed.
// Delivery is at-least-once and is not guaranteed to be gap-free across a
// reconnect, so consumers must treat every event as a hint to reconcile
// rather than as an authoritative delta. NewRecord is present for inserts
// and updates; OldRecord is present for updates and deletes.
type ChangeEvent struct {
	Topic      string          `json:"table"`
	Kind       EventKind       `json:"type"`
	NewRecord  json.RawMessage `json:"new,omitempty"`
	OldRecord  json.RawMessage `json:"old,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// DecodeNew unmarshals the new record into the given destination. An error
// is returned if the event carries no new record.
func (e *ChangeEvent) DecodeNew(dest interface{}) error {
	if len(e.NewRecord) == 0 {
		return errors.Errorf("%s event on `%s` carries no new record", e.Kind, e.Topic)
	}
	return errors.Wrap(json.Unmarshal(e.NewRecord, dest), "unable to decode the new record")
}

// DecodeOld unmarshals the old record into the given destination. An error
// is returned if the event carries no old record.
func (e *ChangeEvent) DecodeOld(dest interface{}) error {
	if len(e.OldRecord) == 0 {
		return errors.Errorf("%s event on `%s` carries no old record", e.Kind, e.Topic)
	}
	return errors.Wrap(json.Unmarshal(e.OldRecord, dest), "unable to decode the old record")
}
