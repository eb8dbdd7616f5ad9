package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"tally/api/internal/store"
)

const applySavepoint = "apply_change"

// approve moves a request that reached quorum to approved and applies its
// change. Both happen under a savepoint: if apply fails they are undone,
// the request stays pending and an *ApplyError is returned, while the
// caller's earlier writes in the transaction survive.
//
// resolved is false when the request was no longer pending.
func (s *Service) approve(ctx context.Context, request store.ChangeRequest) (resolved bool, err error) {
	mutation, err := DecodeMutation(request.Kind, request.NewValues)
	if err != nil {
		return false, &ApplyError{RequestID: request.ID, Kind: request.Kind, Err: err}
	}
	reason := fmt.Sprintf("approved by quorum (%d/%d)", request.ReceivedApprovals, request.RequiredApprovals)

	err = s.repo.InSavepoint(ctx, applySavepoint, func(ctx context.Context) error {
		moved, err := s.repo.TransitionStatus(ctx, request.ID, store.StatusApproved, s.now().UTC(), reason)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		requestID := request.ID
		if _, err := s.apply(ctx, change{
			GroupID:   request.GroupID,
			ItemID:    request.ItemID,
			Mutation:  mutation,
			OldValues: request.OldValues,
			ChangedBy: request.RequestedBy,
			RequestID: &requestID,
		}); err != nil {
			return err
		}
		resolved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return resolved, nil
}

func (s *Service) reject(ctx context.Context, requestID, reason string) (bool, error) {
	moved, err := s.repo.TransitionStatus(ctx, requestID, store.StatusRejected, s.now().UTC(), reason)
	if err != nil {
		return false, errors.Wrap(err, "reject change request")
	}
	return moved, nil
}

// AutoApprove resolves an expired pending request as auto_approved and
// applies it. Requests that are not pending or not yet expired are left
// alone and reported as not resolved.
func (s *Service) AutoApprove(ctx context.Context, requestID string) (bool, error) {
	var (
		result   store.ChangeRequest
		resolved bool
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		request, err := s.repo.LockChangeRequest(ctx, requestID)
		if err != nil {
			return notFoundAs(err, ErrNotFound, "change request "+requestID)
		}
		now := s.now().UTC()
		if request.Status != store.StatusPending || now.Before(request.ExpiresAt) {
			return nil
		}
		mutation, err := DecodeMutation(request.Kind, request.NewValues)
		if err != nil {
			return &ApplyError{RequestID: request.ID, Kind: request.Kind, Err: err}
		}

		moved, err := s.repo.TransitionStatus(ctx, requestID, store.StatusAutoApproved, now, autoApproveReason(request))
		if err != nil {
			return errors.Wrap(err, "auto-approve change request")
		}
		if !moved {
			return nil
		}
		if _, err := s.apply(ctx, change{
			GroupID:      request.GroupID,
			ItemID:       request.ItemID,
			Mutation:     mutation,
			OldValues:    request.OldValues,
			ChangedBy:    request.RequestedBy,
			AutoApproved: true,
			RequestID:    &requestID,
		}); err != nil {
			return err
		}
		resolved = true
		result, err = s.repo.GetChangeRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return false, err
	}
	if resolved {
		s.resolved(ctx, result)
	}
	return resolved, nil
}

// Resolve retries the approval of a pending request whose quorum was already
// reached, typically after an earlier apply failure. The actor must be the
// requester or an active member of the group; an empty actor is the system.
func (s *Service) Resolve(ctx context.Context, requestID, actorID string) (store.ChangeRequest, error) {
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
			return errors.Wrap(ErrInvalidState, "request is already resolved")
		}
		if actorID != "" && actorID != request.RequestedBy {
			member, err := s.members.IsActiveMember(ctx, request.GroupID, actorID)
			if err != nil {
				return err
			}
			if !member {
				return errors.Wrap(ErrPermission, "actor is not an active member of the group")
			}
		}
		if request.ReceivedApprovals < request.RequiredApprovals {
			return errors.Wrapf(ErrInvalidState, "quorum not reached (%d/%d)", request.ReceivedApprovals, request.RequiredApprovals)
		}

		resolved, applyErr = s.approve(ctx, request)
		if applyErr != nil {
			var target *ApplyError
			if !errors.As(applyErr, &target) {
				return applyErr
			}
		}
		result, err = s.repo.GetChangeRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return store.ChangeRequest{}, err
	}
	if resolved {
		s.resolved(ctx, result)
	}
	if applyErr != nil {
		s.requestLog(result).WithError(applyErr).Error("workflow: retried change could not be applied")
		return result, applyErr
	}
	return result, nil
}

// Cancel withdraws a pending request. Only its requester may cancel it.
func (s *Service) Cancel(ctx context.Context, requestID, requesterID, reason string) (store.ChangeRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by requester"
	}
	var result store.ChangeRequest
	err := s.inTx(ctx, func(ctx context.Context) error {
		request, err := s.repo.LockChangeRequest(ctx, requestID)
		if err != nil {
			return notFoundAs(err, ErrNotFound, "change request "+requestID)
		}
		if request.Status != store.StatusPending {
			return errors.Wrap(ErrInvalidState, "cannot cancel a resolved request")
		}
		if request.RequestedBy != requesterID {
			return errors.Wrap(ErrPermission, "only the requester can cancel a request")
		}
		moved, err := s.repo.TransitionStatus(ctx, requestID, store.StatusCancelled, s.now().UTC(), reason)
		if err != nil {
			return errors.Wrap(err, "cancel change request")
		}
		if !moved {
			return errors.Wrap(ErrInvalidState, "cannot cancel a resolved request")
		}
		result, err = s.repo.GetChangeRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return store.ChangeRequest{}, err
	}
	s.resolved(ctx, result)
	return result, nil
}

// resolved publishes a committed terminal transition.
func (s *Service) resolved(ctx context.Context, request store.ChangeRequest) {
	s.metrics.Resolution(string(request.Status))
	s.requestLog(request).WithFields(logrus.Fields{
		"status":            request.Status,
		"resolution_reason": request.ResolutionReason,
	}).Info("workflow: change request resolved")
	s.notifyResolved(ctx, request)
}

func autoApproveReason(request store.ChangeRequest) string {
	days := int(math.Round(request.ExpiresAt.Sub(request.CreatedAt).Hours() / 24))
	if days < 1 {
		return fmt.Sprintf("auto-approved after %s without objection", request.ExpiresAt.Sub(request.CreatedAt).Round(time.Minute))
	}
	if days == 1 {
		return "auto-approved after 1 day without objection"
	}
	return fmt.Sprintf("auto-approved after %d days without objection", days)
}
