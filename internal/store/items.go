package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const itemColumns = `id, group_id, title, amount, assignee_id, due_date, start_date, end_date,
	recurring, recurrence_pattern, active, created_by, created_at, updated_at`

func scanItem(row scanner) (Item, error) {
	var (
		item     Item
		assignee sql.NullString
		due      sql.NullTime
		start    sql.NullTime
		end      sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.GroupID,
		&item.Title,
		&item.Amount,
		&assignee,
		&due,
		&start,
		&end,
		&item.Recurring,
		&item.RecurrencePattern,
		&item.Active,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Item{}, err
	}
	item.AssigneeID = stringPtr(assignee)
	item.DueDate = timePtr(due)
	item.StartDate = timePtr(start)
	item.EndDate = timePtr(end)
	return item, nil
}

func (s *SQLStore) InsertItem(ctx context.Context, item Item) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`),
		item.ID,
		item.GroupID,
		item.Title,
		item.Amount,
		nullString(item.AssigneeID),
		nullTime(item.DueDate),
		nullTime(item.StartDate),
		nullTime(item.EndDate),
		item.Recurring,
		item.RecurrencePattern,
		item.Active,
		item.CreatedBy,
		item.CreatedAt.UTC(),
		item.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// ResolveItem loads an item, locking its row when called inside a
// transaction so the read-modify-write that follows cannot lose an update.
func (s *SQLStore) ResolveItem(ctx context.Context, itemID string) (Item, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.lock(ctx, s.q(`
		SELECT `+itemColumns+`
		FROM items
		WHERE id=$1
	`)), itemID)
	item, err := scanItem(row)
	if err != nil {
		return Item{}, notFound(err)
	}
	return item, nil
}

// SaveItem writes the mutable fields of an item back.
func (s *SQLStore) SaveItem(ctx context.Context, item Item) error {
	result, err := s.conn(ctx).ExecContext(ctx, s.q(`
		UPDATE items
		SET title=$1, amount=$2, assignee_id=$3, due_date=$4, start_date=$5, end_date=$6,
			recurring=$7, recurrence_pattern=$8, active=$9, updated_at=$10
		WHERE id=$11
	`),
		item.Title,
		item.Amount,
		nullString(item.AssigneeID),
		nullTime(item.DueDate),
		nullTime(item.StartDate),
		nullTime(item.EndDate),
		item.Recurring,
		item.RecurrencePattern,
		item.Active,
		item.UpdatedAt.UTC(),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateItem soft-deletes an item.
func (s *SQLStore) DeactivateItem(ctx context.Context, itemID string, at time.Time) error {
	result, err := s.conn(ctx).ExecContext(ctx, s.q(`
		UPDATE items SET active=$1, updated_at=$2 WHERE id=$3
	`), false, at.UTC(), itemID)
	if err != nil {
		return fmt.Errorf("deactivate item: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
