package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/model"
	"github.com/pkg/errors"

	sq "github.com/Masterminds/squirrel"
)

// ListFilters narrows the result of a notification listing.
type ListFilters struct {
	Types      []model.NotificationType
	Since      *time.Time
	Until      *time.Time
	UnreadOnly bool
	Limit      uint64
	Offset     uint64
}

// notificationColumns is the column list used by every query that scans full
// notification rows.
var notificationColumns = []string{
	"id::text",
	"recipient_id",
	"notification_type",
	"title",
	"message",
	"priority",
	"is_read",
	"read_at",
	"related_entity_type",
	"related_entity_id",
	"related_metadata",
	"created_at",
}

// scanNotification scans a single notification row, reassembling the optional
// related-entity columns into a RelatedEntity structure.
func scanNotification(row sq.RowScanner) (*model.Notification, error) {
	var (
		notification   model.Notification
		readAt         sql.NullTime
		entityType     sql.NullString
		entityID       sql.NullString
		entityMetadata []byte
	)

	err := row.Scan(
		&notification.ID,
		&notification.RecipientID,
		&notification.Type,
		&notification.Title,
		&notification.Message,
		&notification.Priority,
		&notification.IsRead,
		&readAt,
		&entityType,
		&entityID,
		&entityMetadata,
		&notification.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if readAt.Valid {
		notification.ReadAt = &readAt.Time
	}
	if entityType.Valid && entityID.Valid {
		related := &model.RelatedEntity{
			EntityType: entityType.String,
			EntityID:   entityID.String,
		}
		if len(entityMetadata) != 0 {
			err = json.Unmarshal(entityMetadata, &related.Metadata)
			if err != nil {
				return nil, errors.Wrap(err, "unable to decode the related entity metadata")
			}
		}
		notification.RelatedEntity = related
	}

	return &notification, nil
}

// InsertNotification saves a single notification into the database, scanning the
// assigned ID and creation timestamp back into the notification structure.
func InsertNotification(ctx context.Context, tx *sql.Tx, notification *model.Notification) error {
	wrapMsg := "unable to save the notification"

	// Flatten the optional related entity into its columns.
	var entityType, entityID interface{}
	var entityMetadata interface{}
	if notification.RelatedEntity != nil {
		entityType = notification.RelatedEntity.EntityType
		entityID = notification.RelatedEntity.EntityID
		if notification.RelatedEntity.Metadata != nil {
			encoded, err := json.Marshal(notification.RelatedEntity.Metadata)
			if err != nil {
				return errors.Wrap(err, wrapMsg)
			}
			entityMetadata = encoded
		}
	}

	// Build the statement to insert the notification.
	statement, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert("notifications").
		Columns(
			"recipient_id",
			"notification_type",
			"title",
			"message",
			"priority",
			"is_read",
			"related_entity_type",
			"related_entity_id",
			"related_metadata").
		Values(
			notification.RecipientID,
			notification.Type,
			notification.Title,
			notification.Message,
			notification.Priority,
			false,
			entityType,
			entityID,
			entityMetadata).
		Suffix("RETURNING id::text, created_at").
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	// Execute the insert statement, scanning the assigned values into the notification.
	row := tx.QueryRowContext(ctx, statement, args...)
	err = row.Scan(&notification.ID, &notification.CreatedAt)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	return nil
}

// ListNotifications lists the notifications for a recipient, most recent first,
// applying the given filters.
func ListNotifications(
	ctx context.Context,
	tx *sql.Tx,
	recipientID string,
	filters ListFilters,
) ([]*model.Notification, error) {
	wrapMsg := "unable to list notifications"

	// Build the base query.
	builder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"recipient_id": recipientID}).
		OrderBy("created_at DESC")

	// Apply the filters.
	if len(filters.Types) != 0 {
		builder = builder.Where(sq.Eq{"notification_type": filters.Types})
	}
	if filters.Since != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": *filters.Since})
	}
	if filters.Until != nil {
		builder = builder.Where(sq.Lt{"created_at": *filters.Until})
	}
	if filters.UnreadOnly {
		builder = builder.Where(sq.Eq{"is_read": false})
	}
	if filters.Limit != 0 {
		builder = builder.Limit(filters.Limit)
	}
	if filters.Offset != 0 {
		builder = builder.Offset(filters.Offset)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Query the database and scan the results.
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	notifications := make([]*model.Notification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		notifications = append(notifications, notification)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	return notifications, nil
}

// GetNotification looks up a single notification by ID. A NotFoundError is
// returned if the notification doesn't exist.
func GetNotification(ctx context.Context, tx *sql.Tx, id string) (*model.Notification, error) {
	wrapMsg := "unable to look up the notification"

	// Build the query.
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Query the database.
	notification, err := scanNotification(tx.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, common.NewNotFoundError("notification `%s` not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	return notification, nil
}

// CountUnreadNotifications counts the notifications for the recipient that
// haven't been marked as read.
func CountUnreadNotifications(ctx context.Context, tx *sql.Tx, recipientID string) (int64, error) {
	wrapMsg := "unable to count unread notifications"
	var total int64

	// Build the statement to count the unread notifications.
	statement, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("count(*)").
		From("notifications").
		Where(sq.Eq{"recipient_id": recipientID}).
		Where(sq.Eq{"is_read": false}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	// Execute the statement.
	err = tx.QueryRowContext(ctx, statement, args...).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	return total, nil
}

// MarkNotificationRead marks a single notification as read, recording the
// given read timestamp. The update is guarded so that a notification that has
// already been read keeps its original read timestamp; the return value is
// true if this call performed the transition and false if the notification
// was already read. The caller is responsible for distinguishing an
// already-read notification from a missing one.
func MarkNotificationRead(ctx context.Context, tx *sql.Tx, id string, readAt time.Time) (bool, error) {
	wrapMsg := "unable to mark the notification as read"

	// Build the guarded update statement.
	statement, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("notifications").
		Set("is_read", true).
		Set("read_at", readAt).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"is_read": false}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, wrapMsg)
	}

	// Execute the update statement.
	result, err := tx.ExecContext(ctx, statement, args...)
	if err != nil {
		return false, errors.Wrap(err, wrapMsg)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, wrapMsg)
	}

	return rowsAffected == 1, nil
}

// MarkAllNotificationsRead marks every unread notification for the recipient
// as read, returning the number of notifications that were updated.
func MarkAllNotificationsRead(
	ctx context.Context,
	tx *sql.Tx,
	recipientID string,
	readAt time.Time,
) (int64, error) {
	wrapMsg := "unable to mark all notifications as read"

	// Build the update statement.
	statement, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("notifications").
		Set("is_read", true).
		Set("read_at", readAt).
		Where(sq.Eq{"recipient_id": recipientID}).
		Where(sq.Eq{"is_read": false}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	// Execute the update statement.
	result, err := tx.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	return rowsAffected, nil
}

// DeleteNotification permanently removes a notification. A NotFoundError is
// returned if the notification doesn't exist.
func DeleteNotification(ctx context.Context, tx *sql.Tx, id string) error {
	wrapMsg := "unable to delete the notification"

	// Build the delete statement.
	statement, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete("notifications").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	// Execute the delete statement and verify that a row was removed.
	result, err := tx.ExecContext(ctx, statement, args...)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	if rowsAffected == 0 {
		return common.NewNotFoundError("notification `%s` not found", id)
	}

	return nil
}
