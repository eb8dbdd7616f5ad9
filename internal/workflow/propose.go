package workflow

import (
	"context"

	"github.com/go-faster/errors"

	"tally/api/internal/policy"
	"tally/api/internal/store"
)

// Proposal is a change a member wants to make to a shared item. ItemID is
// left empty for KindCreate; the id is allocated on submission.
type Proposal struct {
	GroupID     string
	ItemID      string
	RequestedBy string
	Kind        store.ChangeKind
	// OldValues defaults to a snapshot of the item's affected fields.
	OldValues store.Values
	NewValues store.Values
	Reason    string
}

// Outcome tells the caller whether the change is already applied or now
// waits for votes in Request.
type Outcome struct {
	AppliedImmediately bool
	ItemID             string
	Request            *store.ChangeRequest
}

// ProposeChange applies the change at once when group policy allows it, and
// otherwise opens a change request for the other active members to vote on.
func (s *Service) ProposeChange(ctx context.Context, p Proposal) (Outcome, error) {
	if p.GroupID == "" || p.RequestedBy == "" {
		return Outcome{}, invalidInput("group and requester are required")
	}
	if p.Kind != store.KindCreate && p.ItemID == "" {
		return Outcome{}, invalidInput("item is required for %s changes", p.Kind)
	}
	mutation, err := DecodeMutation(p.Kind, p.NewValues)
	if err != nil {
		return Outcome{}, err
	}

	var (
		outcome    Outcome
		recipients []store.Member
	)
	err = s.inTx(ctx, func(ctx context.Context) error {
		groupPolicy, err := s.policies.GroupPolicy(ctx, p.GroupID)
		if err != nil {
			return notFoundAs(err, ErrInvalidTarget, "group "+p.GroupID)
		}
		member, err := s.members.IsActiveMember(ctx, p.GroupID, p.RequestedBy)
		if err != nil {
			return err
		}
		if !member {
			return errors.Wrap(ErrPermission, "requester is not an active member of the group")
		}

		var item store.Item
		itemID := p.ItemID
		if p.Kind == store.KindCreate {
			if itemID == "" {
				itemID = s.newID("item")
			}
		} else {
			item, err = s.targets.ResolveItem(ctx, itemID)
			if err != nil {
				return notFoundAs(err, ErrInvalidTarget, "item "+itemID)
			}
			if item.GroupID != p.GroupID || !item.Active {
				return errors.Wrapf(ErrInvalidTarget, "item %s is not a live item of group %s", itemID, p.GroupID)
			}
		}

		voters, err := s.members.EligibleVoters(ctx, p.GroupID, p.RequestedBy)
		if err != nil {
			return err
		}

		oldValues := p.OldValues
		if len(oldValues) == 0 {
			oldValues = snapshotValues(p.Kind, item)
		}

		shape := policyChange(mutation, item, p.Kind != store.KindCreate)
		shape.IsShared = len(voters) > 0
		// Nobody else can agree, so nothing is gained by opening a vote.
		if !policy.RequiresApproval(groupPolicy, shape) || len(voters) == 0 {
			if _, err := s.apply(ctx, change{
				GroupID:   p.GroupID,
				ItemID:    itemID,
				Mutation:  mutation,
				OldValues: oldValues,
				ChangedBy: p.RequestedBy,
			}); err != nil {
				return err
			}
			outcome = Outcome{AppliedImmediately: true, ItemID: itemID}
			return nil
		}

		now := s.now().UTC()
		request := store.ChangeRequest{
			ID:                s.newID("cr"),
			GroupID:           p.GroupID,
			ItemID:            itemID,
			RequestedBy:       p.RequestedBy,
			Kind:              p.Kind,
			OldValues:         oldValues,
			NewValues:         mutation.Values(),
			Reason:            p.Reason,
			Status:            store.StatusPending,
			RequiredApprovals: len(voters),
			ExpiresAt:         now.Add(groupPolicy.Timeout()),
			CreatedAt:         now,
		}
		if err := s.repo.CreateChangeRequest(ctx, request); err != nil {
			return errors.Wrap(err, "create change request")
		}
		outcome = Outcome{ItemID: itemID, Request: &request}
		recipients = voters
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	s.metrics.Proposal(string(p.Kind), outcome.AppliedImmediately)
	if outcome.Request != nil {
		s.requestLog(*outcome.Request).WithField("required_approvals", outcome.Request.RequiredApprovals).Info("workflow: change request opened")
		s.notifyCreated(ctx, *outcome.Request, recipients)
	}
	return outcome, nil
}

// policyChange describes a mutation the way the policy evaluator sees it.
func policyChange(m Mutation, item store.Item, existing bool) policy.Change {
	c := policy.Change{Kind: string(m.Kind())}
	if existing {
		c.IsRecurring = item.Recurring
	}
	switch m := m.(type) {
	case AmountMutation:
		from, to := item.Amount, m.Amount
		c.OldAmount = &from
		c.NewAmount = &to
	case RecurrenceMutation:
		c.IsRecurring = c.IsRecurring || m.Recurring
	case CreateMutation:
		c.IsRecurring = m.Recurring
	}
	return c
}
