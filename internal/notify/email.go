package notify

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"tally/api/internal/email"
	"tally/api/internal/store"
)

// Directory resolves the names shown in messages.
type Directory interface {
	GetMember(ctx context.Context, groupID, userID string) (store.Member, error)
	ResolveItem(ctx context.Context, itemID string) (store.Item, error)
}

// Mailer is the subset of the SMTP service used here.
type Mailer interface {
	SendProposal(ctx context.Context, to string, data email.ProposalData) error
	SendResolution(ctx context.Context, to string, data email.ResolutionData) error
	RequestURL(requestID string) string
}

// Email mails every eligible voter when a request opens and the requester
// when it is resolved. Members without an address are skipped.
type Email struct {
	mailer    Mailer
	directory Directory
}

func NewEmail(mailer Mailer, directory Directory) *Email {
	return &Email{mailer: mailer, directory: directory}
}

func (e *Email) NotifyCreated(ctx context.Context, request store.ChangeRequest, recipients []store.Member) error {
	requester := e.displayName(ctx, request.GroupID, request.RequestedBy)
	title := e.itemTitle(ctx, request)
	changes := email.FieldChanges(request.OldValues, request.NewValues)

	var sent, failed int
	var last error
	for _, member := range recipients {
		if member.Email == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "mail voters: stopped after %d of %d", sent+failed, len(recipients))
		}
		err := e.mailer.SendProposal(ctx, member.Email, email.ProposalData{
			RecipientName: nameOf(member),
			RequesterName: requester,
			ItemTitle:     title,
			Kind:          string(request.Kind),
			Reason:        request.Reason,
			Changes:       changes,
			ExpiresAt:     request.ExpiresAt,
			RequestURL:    e.mailer.RequestURL(request.ID),
		})
		if err != nil {
			failed++
			last = err
			continue
		}
		sent++
	}
	if failed > 0 {
		return errors.Wrapf(last, "mail %d of %d voters", failed, len(recipients))
	}
	return nil
}

func (e *Email) NotifyResolved(ctx context.Context, request store.ChangeRequest) error {
	member, err := e.directory.GetMember(ctx, request.GroupID, request.RequestedBy)
	if err != nil {
		return errors.Wrap(err, "look up requester")
	}
	if member.Email == "" {
		return nil
	}
	err = e.mailer.SendResolution(ctx, member.Email, email.ResolutionData{
		RecipientName:    nameOf(member),
		ItemTitle:        e.itemTitle(ctx, request),
		Kind:             string(request.Kind),
		Status:           string(request.Status),
		ResolutionReason: request.ResolutionReason,
		RequestURL:       e.mailer.RequestURL(request.ID),
	})
	if err != nil {
		return errors.Wrap(err, "mail requester")
	}
	return nil
}

func (e *Email) displayName(ctx context.Context, groupID, userID string) string {
	member, err := e.directory.GetMember(ctx, groupID, userID)
	if err != nil {
		return userID
	}
	return nameOf(member)
}

// itemTitle falls back to the proposed title for items that do not exist yet.
func (e *Email) itemTitle(ctx context.Context, request store.ChangeRequest) string {
	if item, err := e.directory.ResolveItem(ctx, request.ItemID); err == nil {
		return item.Title
	}
	if title, ok := request.NewValues["title"].(string); ok && title != "" {
		return title
	}
	return fmt.Sprintf("item %s", request.ItemID)
}

func nameOf(member store.Member) string {
	if member.DisplayName != "" {
		return member.DisplayName
	}
	return member.UserID
}
