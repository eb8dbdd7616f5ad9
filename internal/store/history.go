package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

func (s *SQLStore) InsertHistory(ctx context.Context, record HistoryRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO change_history (id, group_id, item_id, change_kind, old_values, new_values,
			changed_by, was_auto_approved, change_request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`),
		record.ID,
		record.GroupID,
		record.ItemID,
		string(record.Kind),
		record.OldValues,
		record.NewValues,
		record.ChangedBy,
		record.WasAutoApproved,
		nullString(record.ChangeRequestID),
		record.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// HistoryExistsForRequest reports whether a change request was already applied.
func (s *SQLStore) HistoryExistsForRequest(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT EXISTS(SELECT 1 FROM change_history WHERE change_request_id=$1)
	`), requestID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return exists, nil
}

// ListHistory returns the newest entries of a group first.
func (s *SQLStore) ListHistory(ctx context.Context, groupID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT id, group_id, item_id, change_kind, old_values, new_values,
			changed_by, was_auto_approved, change_request_id, created_at
		FROM change_history
		WHERE group_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`), groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]HistoryRecord, 0)
	for rows.Next() {
		var (
			item      HistoryRecord
			requestID sql.NullString
		)
		if err := rows.Scan(
			&item.ID,
			&item.GroupID,
			&item.ItemID,
			&item.Kind,
			&item.OldValues,
			&item.NewValues,
			&item.ChangedBy,
			&item.WasAutoApproved,
			&requestID,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		item.ChangeRequestID = stringPtr(requestID)
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}
