package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const changeRequestColumns = `id, group_id, item_id, requested_by, change_kind, old_values, new_values, reason,
	status, required_approvals, received_approvals, expires_at, resolved_at, resolution_reason, created_at`

func scanChangeRequest(row scanner) (ChangeRequest, error) {
	var (
		item     ChangeRequest
		resolved sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.GroupID,
		&item.ItemID,
		&item.RequestedBy,
		&item.Kind,
		&item.OldValues,
		&item.NewValues,
		&item.Reason,
		&item.Status,
		&item.RequiredApprovals,
		&item.ReceivedApprovals,
		&item.ExpiresAt,
		&resolved,
		&item.ResolutionReason,
		&item.CreatedAt,
	); err != nil {
		return ChangeRequest{}, err
	}
	item.ExpiresAt = item.ExpiresAt.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	item.ResolvedAt = timePtr(resolved)
	return item, nil
}

func (s *SQLStore) CreateChangeRequest(ctx context.Context, request ChangeRequest) error {
	if request.Status == "" {
		request.Status = StatusPending
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO change_requests (`+changeRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`),
		request.ID,
		request.GroupID,
		request.ItemID,
		request.RequestedBy,
		string(request.Kind),
		request.OldValues,
		request.NewValues,
		request.Reason,
		string(request.Status),
		request.RequiredApprovals,
		request.ReceivedApprovals,
		request.ExpiresAt.UTC(),
		nullTime(request.ResolvedAt),
		request.ResolutionReason,
		request.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

func (s *SQLStore) GetChangeRequest(ctx context.Context, requestID string) (ChangeRequest, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT `+changeRequestColumns+`
		FROM change_requests
		WHERE id=$1
	`), requestID)
	item, err := scanChangeRequest(row)
	if err != nil {
		return ChangeRequest{}, notFound(err)
	}
	return item, nil
}

// LockChangeRequest reads a request and holds its row lock until the
// surrounding transaction ends.
func (s *SQLStore) LockChangeRequest(ctx context.Context, requestID string) (ChangeRequest, error) {
	if _, ok := txFrom(ctx); !ok {
		return ChangeRequest{}, ErrNoTx
	}
	row := s.conn(ctx).QueryRowContext(ctx, s.lock(ctx, s.q(`
		SELECT `+changeRequestColumns+`
		FROM change_requests
		WHERE id=$1
	`)), requestID)
	item, err := scanChangeRequest(row)
	if err != nil {
		return ChangeRequest{}, notFound(err)
	}
	return item, nil
}

// ListPendingForVoter returns pending requests in the voter's active groups
// that the voter neither raised nor voted on yet.
func (s *SQLStore) ListPendingForVoter(ctx context.Context, voterID string) ([]ChangeRequest, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT cr.id, cr.group_id, cr.item_id, cr.requested_by, cr.change_kind, cr.old_values, cr.new_values, cr.reason,
			cr.status, cr.required_approvals, cr.received_approvals, cr.expires_at, cr.resolved_at, cr.resolution_reason, cr.created_at
		FROM change_requests cr
		JOIN group_members gm ON gm.group_id = cr.group_id AND gm.user_id = $1 AND gm.active
		WHERE cr.status = 'pending'
			AND cr.requested_by <> $2
			AND NOT EXISTS (
				SELECT 1 FROM change_votes v WHERE v.change_request_id = cr.id AND v.voter_id = $3
			)
		ORDER BY cr.expires_at ASC, cr.id ASC
	`), voterID, voterID, voterID)
	if err != nil {
		return nil, fmt.Errorf("list pending for voter: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeRequest, 0)
	for rows.Next() {
		item, err := scanChangeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change requests: %w", err)
	}
	return items, nil
}

// ListExpiredPending returns ids of pending requests whose deadline passed,
// in id order after afterID. Pass "" for the first page.
func (s *SQLStore) ListExpiredPending(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listIDs(ctx, "list expired pending", `
		SELECT id FROM change_requests
		WHERE status = 'pending' AND expires_at <= $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, now.UTC(), afterID, limit)
}

// ListQuorumReachedPending returns ids of pending requests that already hold
// enough approvals; these are left over from an approval whose apply failed.
// Pages are keyed on id like ListExpiredPending.
func (s *SQLStore) ListQuorumReachedPending(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listIDs(ctx, "list quorum reached pending", `
		SELECT id FROM change_requests
		WHERE status = 'pending' AND required_approvals > 0 AND received_approvals >= required_approvals
			AND id > $1
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
}

func (s *SQLStore) listIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return ids, nil
}

// IncrementApprovals adds one approval while the request is pending and
// below quorum, and returns the resulting count. The counter never passes
// required_approvals.
func (s *SQLStore) IncrementApprovals(ctx context.Context, requestID string) (int, error) {
	var count int
	err := s.conn(ctx).QueryRowContext(ctx, s.q(`
		UPDATE change_requests
		SET received_approvals = received_approvals + 1
		WHERE id=$1 AND status='pending' AND received_approvals < required_approvals
		RETURNING received_approvals
	`), requestID).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("increment approvals: %w", err)
	}

	err = s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT received_approvals FROM change_requests WHERE id=$1
	`), requestID).Scan(&count)
	if err != nil {
		return 0, notFound(err)
	}
	return count, nil
}

// TransitionStatus moves a pending request to a terminal status. It reports
// false without error when the request was no longer pending.
func (s *SQLStore) TransitionStatus(ctx context.Context, requestID string, to Status, resolvedAt time.Time, reason string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("transition change request: %q is not a terminal status", to)
	}
	result, err := s.conn(ctx).ExecContext(ctx, s.q(`
		UPDATE change_requests
		SET status=$1, resolved_at=$2, resolution_reason=$3
		WHERE id=$4 AND status='pending'
	`), string(to), resolvedAt.UTC(), reason, requestID)
	if err != nil {
		return false, fmt.Errorf("transition change request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition change request: %w", err)
	}
	return affected == 1, nil
}
