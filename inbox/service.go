// Package inbox implements the per-user notification ledger: creation,
// broadcast fan-out, filtered listing, unread counting, and the monotonic
// read transition. Rows written here surface on the notifications change
// feed, which is how live dashboards learn about them.
package inbox

import (
	"context"
	"time"

	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/db"
	"github.com/opsdash/realtime/model"
	"github.com/sirupsen/logrus"
)

// Service provides the notification inbox operations. Construct one per
// process and inject it wherever notifications are produced or consumed.
type Service struct {
	store Store
	log   *logrus.Entry
	clock func() time.Time
}

// NewService returns an inbox service over the given store.
func NewService(store Store, log *logrus.Entry) *Service {
	return &Service{
		store: store,
		log:   log,
		clock: time.Now,
	}
}

// Create records a single notification and returns it with its assigned ID
// and creation timestamp. The priority defaults to medium when empty. A
// ValidationError is returned for a missing recipient, an unrecognized type,
// or an unrecognized priority.
func (s *Service) Create(
	ctx context.Context,
	recipientID string,
	notificationType model.NotificationType,
	title string,
	message string,
	related *model.RelatedEntity,
	priority model.Priority,
) (*model.Notification, error) {
	if recipientID == "" {
		return nil, common.NewValidationError("a notification requires a recipient")
	}
	if !notificationType.Valid() {
		return nil, common.NewValidationError("unrecognized notification type `%s`", notificationType)
	}
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, common.NewValidationError("unrecognized priority `%s`", priority)
	}

	notification := &model.Notification{
		RecipientID:   recipientID,
		Type:          notificationType,
		Title:         title,
		Message:       message,
		Priority:      priority,
		RelatedEntity: related,
	}
	err := s.store.InsertNotification(ctx, notification)
	if err != nil {
		return nil, err
	}

	return notification, nil
}

// CreateFromEvent records the notification shaped by a domain-event builder
// for the given recipient.
func (s *Service) CreateFromEvent(ctx context.Context, recipientID string, draft Draft) (*model.Notification, error) {
	return s.Create(ctx, recipientID, draft.Type, draft.Title, draft.Message, draft.RelatedEntity, draft.Priority)
}

// CreateBroadcast fans an announcement out to every active user. The fan-out
// is deliberately not atomic: an insertion that fails for one recipient
// leaves the others committed, and the failures are reported in a
// PartialBatchError alongside the notifications that were recorded. One
// unreachable account must not block notifying everyone else.
func (s *Service) CreateBroadcast(
	ctx context.Context,
	title string,
	message string,
	priority model.Priority,
) ([]*model.Notification, error) {
	recipients, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, err
	}

	draft := SystemAnnouncement(title, message, priority)

	created := make([]*model.Notification, 0, len(recipients))
	var failed []string
	for _, recipientID := range recipients {
		notification, err := s.CreateFromEvent(ctx, recipientID, draft)
		if err != nil {
			s.log.WithError(err).Warnf("broadcast delivery to `%s` failed", recipientID)
			failed = append(failed, recipientID)
			continue
		}
		created = append(created, notification)
	}

	if len(failed) != 0 {
		return created, common.NewPartialBatchError(failed)
	}
	return created, nil
}

// GetForUser lists a recipient's notifications, most recent first, applying
// the given filters.
func (s *Service) GetForUser(
	ctx context.Context,
	recipientID string,
	filters db.ListFilters,
) ([]*model.Notification, error) {
	if recipientID == "" {
		return nil, common.NewValidationError("a notification listing requires a recipient")
	}
	return s.store.ListNotifications(ctx, recipientID, filters)
}

// GetUnreadCount returns the number of unread notifications for a recipient.
func (s *Service) GetUnreadCount(ctx context.Context, recipientID string) (int64, error) {
	if recipientID == "" {
		return 0, common.NewValidationError("an unread count requires a recipient")
	}
	return s.store.CountUnreadNotifications(ctx, recipientID)
}

// MarkAsRead transitions a notification to read, setting its read timestamp.
// The transition is monotonic and idempotent: marking an already-read
// notification is a no-op that preserves the original read timestamp. A
// NotFoundError is returned if the notification doesn't exist.
func (s *Service) MarkAsRead(ctx context.Context, id string) (*model.Notification, error) {
	transitioned, err := s.store.MarkNotificationRead(ctx, id, s.clock())
	if err != nil {
		return nil, err
	}

	// The guarded update reports no transition both for an already-read
	// notification and for a missing one; the lookup tells them apart and
	// returns the terminal state either way.
	notification, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		s.log.Debugf("notification `%s` was already read", id)
	}
	return notification, nil
}

// MarkAllAsRead transitions every unread notification for a recipient to
// read, returning the number of notifications that were updated.
func (s *Service) MarkAllAsRead(ctx context.Context, recipientID string) (int64, error) {
	if recipientID == "" {
		return 0, common.NewValidationError("a bulk read transition requires a recipient")
	}
	return s.store.MarkAllNotificationsRead(ctx, recipientID, s.clock())
}

// Delete permanently removes a notification. The service keeps no separate
// unread-counter cache: a caller that cached an unread count and deletes an
// unread notification is responsible for its own decrement.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteNotification(ctx, id)
}
