package workflow

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"tally/api/internal/store"
)

// change is everything the applier needs to write one mutation and its
// history record.
type change struct {
	GroupID      string
	ItemID       string
	Mutation     Mutation
	OldValues    store.Values
	ChangedBy    string
	AutoApproved bool
	// RequestID is nil for changes that bypassed approval.
	RequestID *string
}

// apply mutates the item and appends its history record on the transaction
// in ctx. Applying a request that already has a history record is a no-op.
// Every failure is returned as *ApplyError.
func (s *Service) apply(ctx context.Context, c change) (applied bool, err error) {
	defer func() {
		if err != nil {
			s.metrics.ApplyFailure(string(c.Mutation.Kind()))
			requestID := ""
			if c.RequestID != nil {
				requestID = *c.RequestID
			}
			err = &ApplyError{RequestID: requestID, Kind: c.Mutation.Kind(), Err: err}
		}
	}()

	if c.RequestID != nil {
		exists, err := s.repo.HistoryExistsForRequest(ctx, *c.RequestID)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	now := s.now().UTC()
	switch m := c.Mutation.(type) {
	case AmountMutation:
		item, err := s.loadItem(ctx, c)
		if err != nil {
			return false, err
		}
		item.Amount = m.Amount
		item.UpdatedAt = now
		if err := s.targets.SaveItem(ctx, item); err != nil {
			return false, err
		}

	case AssignmentMutation:
		item, err := s.loadItem(ctx, c)
		if err != nil {
			return false, err
		}
		if m.AssigneeID != nil {
			active, err := s.members.IsActiveMember(ctx, c.GroupID, *m.AssigneeID)
			if err != nil {
				return false, err
			}
			if !active {
				return false, fmt.Errorf("assignee %s is not an active member of group %s", *m.AssigneeID, c.GroupID)
			}
		}
		item.AssigneeID = m.AssigneeID
		item.UpdatedAt = now
		if err := s.targets.SaveItem(ctx, item); err != nil {
			return false, err
		}

	case ScheduleMutation:
		item, err := s.loadItem(ctx, c)
		if err != nil {
			return false, err
		}
		item.DueDate = m.DueDate
		item.StartDate = m.StartDate
		item.EndDate = m.EndDate
		item.UpdatedAt = now
		if err := s.targets.SaveItem(ctx, item); err != nil {
			return false, err
		}

	case RecurrenceMutation:
		item, err := s.loadItem(ctx, c)
		if err != nil {
			return false, err
		}
		item.Recurring = m.Recurring
		item.RecurrencePattern = m.Pattern
		item.UpdatedAt = now
		if err := s.targets.SaveItem(ctx, item); err != nil {
			return false, err
		}

	case DeleteMutation:
		if _, err := s.loadItem(ctx, c); err != nil {
			return false, err
		}
		if err := s.targets.DeactivateItem(ctx, c.ItemID, now); err != nil {
			return false, err
		}

	case CreateMutation:
		if m.AssigneeID != nil {
			active, err := s.members.IsActiveMember(ctx, c.GroupID, *m.AssigneeID)
			if err != nil {
				return false, err
			}
			if !active {
				return false, fmt.Errorf("assignee %s is not an active member of group %s", *m.AssigneeID, c.GroupID)
			}
		}
		err := s.targets.InsertItem(ctx, store.Item{
			ID:                c.ItemID,
			GroupID:           c.GroupID,
			Title:             m.Title,
			Amount:            m.Amount,
			AssigneeID:        m.AssigneeID,
			DueDate:           m.DueDate,
			StartDate:         m.StartDate,
			EndDate:           m.EndDate,
			Recurring:         m.Recurring,
			RecurrencePattern: m.Pattern,
			Active:            true,
			CreatedBy:         c.ChangedBy,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if errors.Is(err, store.ErrDuplicate) {
			return false, fmt.Errorf("item %s already exists", c.ItemID)
		}
		if err != nil {
			return false, err
		}

	default:
		return false, fmt.Errorf("unsupported mutation %T", c.Mutation)
	}

	err = s.repo.InsertHistory(ctx, store.HistoryRecord{
		ID:              s.newID("hist"),
		GroupID:         c.GroupID,
		ItemID:          c.ItemID,
		Kind:            c.Mutation.Kind(),
		OldValues:       c.OldValues,
		NewValues:       c.Mutation.Values(),
		ChangedBy:       c.ChangedBy,
		WasAutoApproved: c.AutoApproved,
		ChangeRequestID: c.RequestID,
		CreatedAt:       now,
	})
	if err != nil {
		return false, errors.Wrap(err, "write history")
	}
	return true, nil
}

// loadItem resolves a live item of the change's group.
func (s *Service) loadItem(ctx context.Context, c change) (store.Item, error) {
	item, err := s.targets.ResolveItem(ctx, c.ItemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Item{}, fmt.Errorf("item %s no longer exists", c.ItemID)
		}
		return store.Item{}, err
	}
	if item.GroupID != c.GroupID {
		return store.Item{}, fmt.Errorf("item %s does not belong to group %s", c.ItemID, c.GroupID)
	}
	if !item.Active {
		return store.Item{}, fmt.Errorf("item %s is deleted", c.ItemID)
	}
	return item, nil
}
