package app

import (
	"time"

	"tally/api/internal/store"
	"tally/api/internal/workflow"
)

type ProposeChangeInput struct {
	ItemID    string       `json:"itemId" validate:"required_unless=Kind create,max=64"`
	Kind      string       `json:"kind" validate:"required,oneof=amount assignment schedule recurrence delete create"`
	OldValues store.Values `json:"oldValues"`
	NewValues store.Values `json:"newValues" validate:"required_unless=Kind delete"`
	Reason    string       `json:"reason" validate:"max=500"`
}

type VoteInput struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Reason   string `json:"reason" validate:"max=500"`
}

type CancelInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

type changeRequestView struct {
	ID                string       `json:"id"`
	GroupID           string       `json:"groupId"`
	ItemID            string       `json:"itemId"`
	RequestedBy       string       `json:"requestedBy"`
	Kind              string       `json:"kind"`
	OldValues         store.Values `json:"oldValues"`
	NewValues         store.Values `json:"newValues"`
	Reason            string       `json:"reason,omitempty"`
	Status            string       `json:"status"`
	RequiredApprovals int          `json:"requiredApprovals"`
	ReceivedApprovals int          `json:"receivedApprovals"`
	ExpiresAt         time.Time    `json:"expiresAt"`
	ResolvedAt        *time.Time   `json:"resolvedAt"`
	ResolutionReason  string       `json:"resolutionReason,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}

type voteView struct {
	ID        string    `json:"id"`
	VoterID   string    `json:"voterId"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type historyView struct {
	ID              string       `json:"id"`
	GroupID         string       `json:"groupId"`
	ItemID          string       `json:"itemId"`
	Kind            string       `json:"kind"`
	OldValues       store.Values `json:"oldValues"`
	NewValues       store.Values `json:"newValues"`
	ChangedBy       string       `json:"changedBy"`
	WasAutoApproved bool         `json:"wasAutoApproved"`
	ChangeRequestID *string      `json:"changeRequestId"`
	CreatedAt       time.Time    `json:"createdAt"`
}

type sweepView struct {
	AutoApproved int              `json:"autoApproved"`
	Retried      int              `json:"retried"`
	Errors       []sweepErrorView `json:"errors"`
}

type sweepErrorView struct {
	ChangeRequestID string `json:"changeRequestId"`
	Error           string `json:"error"`
}

func toChangeRequestView(request store.ChangeRequest) changeRequestView {
	return changeRequestView{
		ID:                request.ID,
		GroupID:           request.GroupID,
		ItemID:            request.ItemID,
		RequestedBy:       request.RequestedBy,
		Kind:              string(request.Kind),
		OldValues:         request.OldValues,
		NewValues:         request.NewValues,
		Reason:            request.Reason,
		Status:            string(request.Status),
		RequiredApprovals: request.RequiredApprovals,
		ReceivedApprovals: request.ReceivedApprovals,
		ExpiresAt:         request.ExpiresAt,
		ResolvedAt:        request.ResolvedAt,
		ResolutionReason:  request.ResolutionReason,
		CreatedAt:         request.CreatedAt,
	}
}

func toChangeRequestViews(requests []store.ChangeRequest) []changeRequestView {
	views := make([]changeRequestView, 0, len(requests))
	for _, request := range requests {
		views = append(views, toChangeRequestView(request))
	}
	return views
}

func toVoteViews(votes []store.Vote) []voteView {
	views := make([]voteView, 0, len(votes))
	for _, vote := range votes {
		views = append(views, voteView{
			ID:        vote.ID,
			VoterID:   vote.VoterID,
			Decision:  string(vote.Decision),
			Reason:    vote.Reason,
			CreatedAt: vote.CreatedAt,
		})
	}
	return views
}

func toHistoryViews(records []store.HistoryRecord) []historyView {
	views := make([]historyView, 0, len(records))
	for _, record := range records {
		views = append(views, historyView{
			ID:              record.ID,
			GroupID:         record.GroupID,
			ItemID:          record.ItemID,
			Kind:            string(record.Kind),
			OldValues:       record.OldValues,
			NewValues:       record.NewValues,
			ChangedBy:       record.ChangedBy,
			WasAutoApproved: record.WasAutoApproved,
			ChangeRequestID: record.ChangeRequestID,
			CreatedAt:       record.CreatedAt,
		})
	}
	return views
}

func toSweepView(result workflow.SweepResult) sweepView {
	view := sweepView{AutoApproved: result.AutoApproved, Retried: result.Retried, Errors: make([]sweepErrorView, 0, len(result.Errors))}
	for _, failure := range result.Errors {
		view.Errors = append(view.Errors, sweepErrorView{ChangeRequestID: failure.RequestID, Error: failure.Err.Error()})
	}
	return view
}
