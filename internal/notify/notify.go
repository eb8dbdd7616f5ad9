// Package notify delivers change request events to members and other
// services once the workflow has committed them.
package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"tally/api/internal/store"
)

// Notifier is satisfied by every sink in this package and by the workflow's
// notifier dependency.
type Notifier interface {
	NotifyCreated(ctx context.Context, request store.ChangeRequest, recipients []store.Member) error
	NotifyResolved(ctx context.Context, request store.ChangeRequest) error
}

// Multi fans an event out to every sink. All sinks are tried; their errors
// are joined.
type Multi []Notifier

func (m Multi) NotifyCreated(ctx context.Context, request store.ChangeRequest, recipients []store.Member) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyCreated(ctx, request, recipients); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyResolved(ctx context.Context, request store.ChangeRequest) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyResolved(ctx, request); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes events to a structured logger.
type Log struct {
	log *logrus.Entry
}

func NewLog(log *logrus.Entry) *Log {
	return &Log{log: log}
}

func (l *Log) NotifyCreated(_ context.Context, request store.ChangeRequest, recipients []store.Member) error {
	ids := make([]string, 0, len(recipients))
	for _, member := range recipients {
		ids = append(ids, member.UserID)
	}
	fields(l.log, request).WithFields(logrus.Fields{
		"recipients":         ids,
		"required_approvals": request.RequiredApprovals,
		"expires_at":         request.ExpiresAt,
	}).Info("notify: change request awaiting votes")
	return nil
}

func (l *Log) NotifyResolved(_ context.Context, request store.ChangeRequest) error {
	fields(l.log, request).WithFields(logrus.Fields{
		"status":            request.Status,
		"resolution_reason": request.ResolutionReason,
	}).Info("notify: change request resolved")
	return nil
}

func fields(log *logrus.Entry, request store.ChangeRequest) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"change_request_id": request.ID,
		"group_id":          request.GroupID,
		"item_id":           request.ItemID,
		"requested_by":      request.RequestedBy,
	})
}
