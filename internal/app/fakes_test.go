package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tally/api/internal/auth"
	"tally/api/internal/config"
	"tally/api/internal/store"
	"tally/api/internal/workflow"
)

const testSecret = "test-secret"

type fakeWorkflow struct {
	proposeFn    func(ctx context.Context, p workflow.Proposal) (workflow.Outcome, error)
	voteFn       func(ctx context.Context, requestID, voterID string, decision store.Decision, reason string) (store.ChangeRequest, error)
	cancelFn     func(ctx context.Context, requestID, requesterID, reason string) (store.ChangeRequest, error)
	resolveFn    func(ctx context.Context, requestID, actorID string) (store.ChangeRequest, error)
	getFn        func(ctx context.Context, requestID string) (workflow.RequestDetail, error)
	pendingForFn func(ctx context.Context, voterID string) ([]store.ChangeRequest, error)
	historyFn    func(ctx context.Context, groupID string, limit int) ([]store.HistoryRecord, error)
	sweepFn      func(ctx context.Context) (workflow.SweepResult, error)
}

func (f *fakeWorkflow) ProposeChange(ctx context.Context, p workflow.Proposal) (workflow.Outcome, error) {
	if f.proposeFn != nil {
		return f.proposeFn(ctx, p)
	}
	return workflow.Outcome{AppliedImmediately: true, ItemID: p.ItemID}, nil
}

func (f *fakeWorkflow) Vote(ctx context.Context, requestID, voterID string, decision store.Decision, reason string) (store.ChangeRequest, error) {
	if f.voteFn != nil {
		return f.voteFn(ctx, requestID, voterID, decision, reason)
	}
	return store.ChangeRequest{ID: requestID, Status: store.StatusPending}, nil
}

func (f *fakeWorkflow) Cancel(ctx context.Context, requestID, requesterID, reason string) (store.ChangeRequest, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, requestID, requesterID, reason)
	}
	return store.ChangeRequest{ID: requestID, Status: store.StatusCancelled}, nil
}

func (f *fakeWorkflow) Resolve(ctx context.Context, requestID, actorID string) (store.ChangeRequest, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, requestID, actorID)
	}
	return store.ChangeRequest{ID: requestID, Status: store.StatusApproved}, nil
}

func (f *fakeWorkflow) Get(ctx context.Context, requestID string) (workflow.RequestDetail, error) {
	if f.getFn != nil {
		return f.getFn(ctx, requestID)
	}
	return workflow.RequestDetail{}, workflow.ErrNotFound
}

func (f *fakeWorkflow) PendingFor(ctx context.Context, voterID string) ([]store.ChangeRequest, error) {
	if f.pendingForFn != nil {
		return f.pendingForFn(ctx, voterID)
	}
	return nil, nil
}

func (f *fakeWorkflow) History(ctx context.Context, groupID string, limit int) ([]store.HistoryRecord, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx, groupID, limit)
	}
	return nil, nil
}

func (f *fakeWorkflow) SweepExpired(ctx context.Context) (workflow.SweepResult, error) {
	if f.sweepFn != nil {
		return f.sweepFn(ctx)
	}
	return workflow.SweepResult{}, nil
}

// fakeMembers treats every listed "group/user" pair as an active member.
type fakeMembers map[string]bool

func (f fakeMembers) IsActiveMember(_ context.Context, groupID, userID string) (bool, error) {
	return f[groupID+"/"+userID], nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

func newTestService(wf Workflow, members Membership) *Service {
	cfg := config.Config{
		JWTSecret: testSecret,
		SyncToken: "sync-token",
		AccessTTL: time.Hour,
	}
	return New(cfg, wf, members, fakePinger{})
}

func newTestServer(wf Workflow, members Membership) *HTTPServer {
	return NewHTTPServer(newTestService(wf, members), "*")
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), userID, userID, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func serve(t *testing.T, server *HTTPServer, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}
