package inbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/opsdash/realtime/db"
	"github.com/opsdash/realtime/model"
	"github.com/pkg/errors"
)

// Store describes the ledger operations the inbox service needs. The
// production implementation is SQLStore; tests substitute a mock.
type Store interface {
	InsertNotification(ctx context.Context, notification *model.Notification) error
	ListNotifications(ctx context.Context, recipientID string, filters db.ListFilters) ([]*model.Notification, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int64, error)
	MarkNotificationRead(ctx context.Context, id string, readAt time.Time) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string, readAt time.Time) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
	ListActiveUsers(ctx context.Context) ([]string, error)
}

// SQLStore implements Store over the notification ledger database. Every
// operation runs in its own transaction.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a Store backed by the given database.
func NewSQLStore(database *sql.DB) *SQLStore {
	return &SQLStore{db: database}
}

// inTransaction runs fn inside a transaction, committing if fn succeeds and
// rolling back otherwise.
func (s *SQLStore) inTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	wrapMsg := "unable to run the ledger transaction"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// InsertNotification saves a notification to the ledger.
func (s *SQLStore) InsertNotification(ctx context.Context, notification *model.Notification) error {
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		return db.InsertNotification(ctx, tx, notification)
	})
}

// ListNotifications lists a recipient's notifications, most recent first.
func (s *SQLStore) ListNotifications(
	ctx context.Context,
	recipientID string,
	filters db.ListFilters,
) ([]*model.Notification, error) {
	var notifications []*model.Notification
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		notifications, err = db.ListNotifications(ctx, tx, recipientID, filters)
		return err
	})
	return notifications, err
}

// GetNotification looks up a single notification.
func (s *SQLStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	var notification *model.Notification
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		notification, err = db.GetNotification(ctx, tx, id)
		return err
	})
	return notification, err
}

// CountUnreadNotifications counts a recipient's unread notifications.
func (s *SQLStore) CountUnreadNotifications(ctx context.Context, recipientID string) (int64, error) {
	var total int64
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		total, err = db.CountUnreadNotifications(ctx, tx, recipientID)
		return err
	})
	return total, err
}

// MarkNotificationRead performs the guarded read transition on a single
// notification.
func (s *SQLStore) MarkNotificationRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	var transitioned bool
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		transitioned, err = db.MarkNotificationRead(ctx, tx, id, readAt)
		return err
	})
	return transitioned, err
}

// MarkAllNotificationsRead marks every unread notification for a recipient
// as read.
func (s *SQLStore) MarkAllNotificationsRead(
	ctx context.Context,
	recipientID string,
	readAt time.Time,
) (int64, error) {
	var updated int64
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		updated, err = db.MarkAllNotificationsRead(ctx, tx, recipientID, readAt)
		return err
	})
	return updated, err
}

// DeleteNotification permanently removes a notification.
func (s *SQLStore) DeleteNotification(ctx context.Context, id string) error {
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		return db.DeleteNotification(ctx, tx, id)
	})
}

// ListActiveUsers returns the IDs of every active user account.
func (s *SQLStore) ListActiveUsers(ctx context.Context) ([]string, error) {
	var userIDs []string
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		userIDs, err = db.ListActiveUsers(ctx, tx)
		return err
	})
	return userIDs, err
}
