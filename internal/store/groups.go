package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tally/api/internal/policy"
)

func (s *SQLStore) InsertGroup(ctx context.Context, group Group) error {
	var (
		mode      sql.NullString
		threshold sql.NullString
		timeout   sql.NullInt64
		shared    sql.NullBool
		recurring sql.NullBool
		deletion  sql.NullBool
	)
	if p := group.Policy; p != nil {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		mode = sql.NullString{String: string(p.Mode), Valid: true}
		threshold = sql.NullString{String: p.PercentageThreshold.String(), Valid: true}
		timeout = sql.NullInt64{Int64: int64(p.TimeoutDays), Valid: true}
		shared = sql.NullBool{Bool: p.SharedRequiresApproval, Valid: true}
		recurring = sql.NullBool{Bool: p.RecurringRequiresApproval, Valid: true}
		deletion = sql.NullBool{Bool: p.DeletionRequiresApproval, Valid: true}
	}
	createdAt := group.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO groups (id, name, approval_mode, percentage_threshold, timeout_days,
			shared_requires_approval, recurring_requires_approval, deletion_requires_approval, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`), group.ID, group.Name, mode, threshold, timeout, shared, recurring, deletion, createdAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *SQLStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var (
		group     Group
		mode      sql.NullString
		threshold sql.NullString
		timeout   sql.NullInt64
		shared    sql.NullBool
		recurring sql.NullBool
		deletion  sql.NullBool
	)
	err := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT id, name, approval_mode, percentage_threshold, timeout_days,
			shared_requires_approval, recurring_requires_approval, deletion_requires_approval, created_at
		FROM groups
		WHERE id=$1
	`), groupID).Scan(&group.ID, &group.Name, &mode, &threshold, &timeout, &shared, &recurring, &deletion, &group.CreatedAt)
	if err != nil {
		return Group{}, notFound(err)
	}

	// Columns left NULL fall back to the store defaults one by one.
	p := s.defaults
	if mode.Valid {
		p.Mode = policy.Mode(mode.String)
	}
	if threshold.Valid {
		parsed, err := decimal.NewFromString(threshold.String)
		if err != nil {
			return Group{}, fmt.Errorf("parse percentage threshold: %w", err)
		}
		p.PercentageThreshold = parsed
	}
	if timeout.Valid {
		p.TimeoutDays = int(timeout.Int64)
	}
	if shared.Valid {
		p.SharedRequiresApproval = shared.Bool
	}
	if recurring.Valid {
		p.RecurringRequiresApproval = recurring.Bool
	}
	if deletion.Valid {
		p.DeletionRequiresApproval = deletion.Bool
	}
	group.Policy = &p
	return group, nil
}

// GroupPolicy returns the effective policy of a group.
func (s *SQLStore) GroupPolicy(ctx context.Context, groupID string) (policy.GroupPolicy, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return policy.GroupPolicy{}, err
	}
	return *group.Policy, nil
}

func (s *SQLStore) AddMember(ctx context.Context, member Member) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO group_members (group_id, user_id, display_name, email, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, user_id) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			email=EXCLUDED.email,
			active=EXCLUDED.active
	`), member.GroupID, member.UserID, member.DisplayName, member.Email, member.Active)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *SQLStore) SetMemberActive(ctx context.Context, groupID, userID string, active bool) error {
	result, err := s.conn(ctx).ExecContext(ctx, s.q(`
		UPDATE group_members SET active=$1 WHERE group_id=$2 AND user_id=$3
	`), active, groupID, userID)
	if err != nil {
		return fmt.Errorf("set member active: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// EligibleVoters lists the active members of a group except the given user.
// An empty excluding lists every active member.
func (s *SQLStore) EligibleVoters(ctx context.Context, groupID, excluding string) ([]Member, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT group_id, user_id, display_name, email, active
		FROM group_members
		WHERE group_id=$1 AND active AND user_id <> $2
		ORDER BY user_id ASC
	`), groupID, excluding)
	if err != nil {
		return nil, fmt.Errorf("list eligible voters: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.GroupID, &item.UserID, &item.DisplayName, &item.Email, &item.Active); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *SQLStore) IsActiveMember(ctx context.Context, groupID, userID string) (bool, error) {
	var active bool
	err := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2 AND active)
	`), groupID, userID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return active, nil
}

// GetMember returns a membership whether or not it is active.
func (s *SQLStore) GetMember(ctx context.Context, groupID, userID string) (Member, error) {
	var member Member
	err := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT group_id, user_id, display_name, email, active
		FROM group_members
		WHERE group_id=$1 AND user_id=$2
	`), groupID, userID).Scan(&member.GroupID, &member.UserID, &member.DisplayName, &member.Email, &member.Active)
	if err != nil {
		return Member{}, notFound(err)
	}
	return member, nil
}
