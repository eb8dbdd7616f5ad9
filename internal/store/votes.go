package store

import (
	"context"
	"fmt"
	"time"
)

// InsertVote records a vote. A second vote by the same voter on the same
// request fails with ErrDuplicate.
func (s *SQLStore) InsertVote(ctx context.Context, vote Vote) error {
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now()
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO change_votes (id, change_request_id, voter_id, decision, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`), vote.ID, vote.ChangeRequestID, vote.VoterID, string(vote.Decision), vote.Reason, vote.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (s *SQLStore) HasVoted(ctx context.Context, requestID, voterID string) (bool, error) {
	var voted bool
	err := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT EXISTS(SELECT 1 FROM change_votes WHERE change_request_id=$1 AND voter_id=$2)
	`), requestID, voterID).Scan(&voted)
	if err != nil {
		return false, fmt.Errorf("check vote: %w", err)
	}
	return voted, nil
}

func (s *SQLStore) ListVotes(ctx context.Context, requestID string) ([]Vote, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT id, change_request_id, voter_id, decision, reason, created_at
		FROM change_votes
		WHERE change_request_id=$1
		ORDER BY created_at ASC, id ASC
	`), requestID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var item Vote
		if err := rows.Scan(&item.ID, &item.ChangeRequestID, &item.VoterID, &item.Decision, &item.Reason, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}
