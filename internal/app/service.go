package app

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"tally/api/internal/auth"
	"tally/api/internal/config"
	"tally/api/internal/rbac"
	"tally/api/internal/store"
	"tally/api/internal/workflow"
)

// Workflow is the approval protocol the HTTP layer drives.
type Workflow interface {
	ProposeChange(ctx context.Context, p workflow.Proposal) (workflow.Outcome, error)
	Vote(ctx context.Context, requestID, voterID string, decision store.Decision, reason string) (store.ChangeRequest, error)
	Cancel(ctx context.Context, requestID, requesterID, reason string) (store.ChangeRequest, error)
	Resolve(ctx context.Context, requestID, actorID string) (store.ChangeRequest, error)
	Get(ctx context.Context, requestID string) (workflow.RequestDetail, error)
	PendingFor(ctx context.Context, voterID string) ([]store.ChangeRequest, error)
	History(ctx context.Context, groupID string, limit int) ([]store.HistoryRecord, error)
	SweepExpired(ctx context.Context) (workflow.SweepResult, error)
}

type Membership interface {
	IsActiveMember(ctx context.Context, groupID, userID string) (bool, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Session struct {
	Token     string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type Service struct {
	cfg      config.Config
	workflow Workflow
	members  Membership
	db       Pinger
	now      func() time.Time
}

func New(cfg config.Config, wf Workflow, members Membership, db Pinger) *Service {
	return &Service{
		cfg:      cfg,
		workflow: wf,
		members:  members,
		db:       db,
		now:      time.Now,
	}
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:    token,
		UserID:   claims.Subject,
		UserName: claims.Name,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// IssueToken signs an access token for a user with the configured TTL.
func (s *Service) IssueToken(userID, name string) (string, error) {
	return auth.IssueToken([]byte(s.cfg.JWTSecret), userID, name, s.cfg.AccessTTL, s.now())
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// ValidSyncToken guards internal endpoints called by schedulers.
func (s *Service) ValidSyncToken(token string) bool {
	if s.cfg.SyncToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SyncToken)) == 1
}

// authorize resolves the caller's role for groupID and checks it against
// action. requestedBy is empty outside a change request.
func (s *Service) authorize(ctx context.Context, session Session, groupID, requestedBy string, action rbac.Action) error {
	member, err := s.members.IsActiveMember(ctx, groupID, session.UserID)
	if err != nil {
		return errors.Wrap(err, "check membership")
	}
	role := rbac.For(requestedBy != "" && requestedBy == session.UserID, member)
	if !rbac.Can(role, action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

func (s *Service) ProposeChange(ctx context.Context, session Session, groupID string, input ProposeChangeInput) (workflow.Outcome, error) {
	return s.workflow.ProposeChange(ctx, workflow.Proposal{
		GroupID:     groupID,
		ItemID:      input.ItemID,
		RequestedBy: session.UserID,
		Kind:        store.ChangeKind(input.Kind),
		OldValues:   input.OldValues,
		NewValues:   input.NewValues,
		Reason:      input.Reason,
	})
}

func (s *Service) GroupHistory(ctx context.Context, session Session, groupID string, limit int) ([]store.HistoryRecord, error) {
	if err := s.authorize(ctx, session, groupID, "", rbac.ActionViewHistory); err != nil {
		return nil, err
	}
	return s.workflow.History(ctx, groupID, limit)
}

func (s *Service) PendingFor(ctx context.Context, session Session) ([]store.ChangeRequest, error) {
	return s.workflow.PendingFor(ctx, session.UserID)
}

// RequestDetail is visible to the requester and to active members of the group.
func (s *Service) RequestDetail(ctx context.Context, session Session, requestID string) (workflow.RequestDetail, error) {
	detail, err := s.workflow.Get(ctx, requestID)
	if err != nil {
		return workflow.RequestDetail{}, err
	}
	if err := s.authorize(ctx, session, detail.Request.GroupID, detail.Request.RequestedBy, rbac.ActionViewRequest); err != nil {
		return workflow.RequestDetail{}, err
	}
	return detail, nil
}

func (s *Service) Vote(ctx context.Context, session Session, requestID string, input VoteInput) (store.ChangeRequest, error) {
	return s.workflow.Vote(ctx, requestID, session.UserID, store.Decision(input.Decision), input.Reason)
}

func (s *Service) Cancel(ctx context.Context, session Session, requestID string, input CancelInput) (store.ChangeRequest, error) {
	return s.workflow.Cancel(ctx, requestID, session.UserID, input.Reason)
}

func (s *Service) Resolve(ctx context.Context, session Session, requestID string) (store.ChangeRequest, error) {
	return s.workflow.Resolve(ctx, requestID, session.UserID)
}

func (s *Service) Sweep(ctx context.Context) (workflow.SweepResult, error) {
	return s.workflow.SweepExpired(ctx)
}
