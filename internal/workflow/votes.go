package workflow

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"tally/api/internal/store"
)

// Vote records a member's decision on a pending request. A reject resolves
// the request at once; the approve that reaches quorum approves it and
// applies the change in the same transaction.
//
// When that apply fails the vote is kept, the request stays pending and the
// returned error is an *ApplyError.
func (s *Service) Vote(ctx context.Context, requestID, voterID string, decision store.Decision, reason string) (store.ChangeRequest, error) {
	if !decision.Valid() {
		return store.ChangeRequest{}, invalidInput("decision must be %q or %q", store.DecisionApprove, store.DecisionReject)
	}
	if voterID == "" {
		return store.ChangeRequest{}, invalidInput("voter is required")
	}
	reason = strings.TrimSpace(reason)

	var (
		result   store.ChangeRequest
		resolved bool
		applyErr error
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		request, err := s.repo.LockChangeRequest(ctx, requestID)
		if err != nil {
			return notFoundAs(err, ErrNotFound, "change request "+requestID)
		}
		if request.Status != store.StatusPending {
			return errors.Wrap(ErrInvalidState, "cannot vote on a resolved request")
		}
		if voterID == request.RequestedBy {
			return errors.Wrap(ErrPermission, "requester cannot vote on their own request")
		}
		eligible, err := s.members.IsActiveMember(ctx, request.GroupID, voterID)
		if err != nil {
			return err
		}
		if !eligible {
			return errors.Wrap(ErrPermission, "voter is not an active member of the group")
		}
		voted, err := s.repo.HasVoted(ctx, requestID, voterID)
		if err != nil {
			return err
		}
		if voted {
			return errors.Wrap(ErrConflict, "already voted")
		}

		err = s.repo.InsertVote(ctx, store.Vote{
			ID:              s.newID("vote"),
			ChangeRequestID: requestID,
			VoterID:         voterID,
			Decision:        decision,
			Reason:          reason,
			CreatedAt:       s.now().UTC(),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return errors.Wrap(ErrConflict, "already voted")
		}
		if err != nil {
			return errors.Wrap(err, "insert vote")
		}

		switch decision {
		case store.DecisionReject:
			resolution := reason
			if resolution == "" {
				resolution = "rejected by " + voterID
			}
			resolved, err = s.reject(ctx, requestID, resolution)
			if err != nil {
				return err
			}
		case store.DecisionApprove:
			count, err := s.repo.IncrementApprovals(ctx, requestID)
			if err != nil {
				return errors.Wrap(err, "count approval")
			}
			request.ReceivedApprovals = count
			if count >= request.RequiredApprovals {
				resolved, applyErr = s.approve(ctx, request)
				if applyErr != nil && !errors.As(applyErr, new(*ApplyError)) {
					return applyErr
				}
			}
		}

		result, err = s.repo.GetChangeRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return store.ChangeRequest{}, err
	}

	s.metrics.Vote(string(decision))
	s.requestLog(result).WithFields(logrus.Fields{
		"voter_id": voterID,
		"decision": decision,
		"status":   result.Status,
	}).Info("workflow: vote recorded")
	if resolved {
		s.resolved(ctx, result)
	}
	if applyErr != nil {
		s.requestLog(result).WithError(applyErr).Error("workflow: approved change could not be applied")
		return result, applyErr
	}
	return result, nil
}
