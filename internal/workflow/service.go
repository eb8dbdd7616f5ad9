// Package workflow runs the change-approval protocol for shared items:
// proposals, votes, resolution, expiry and applying agreed changes.
package workflow

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"tally/api/internal/metrics"
	"tally/api/internal/policy"
	"tally/api/internal/store"
	"tally/api/internal/util"
)

// Repository persists requests, votes and history. Every method must run on
// the transaction carried by ctx, if any.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	InSavepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error

	CreateChangeRequest(ctx context.Context, request store.ChangeRequest) error
	GetChangeRequest(ctx context.Context, requestID string) (store.ChangeRequest, error)
	LockChangeRequest(ctx context.Context, requestID string) (store.ChangeRequest, error)
	ListPendingForVoter(ctx context.Context, voterID string) ([]store.ChangeRequest, error)
	ListExpiredPending(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error)
	ListQuorumReachedPending(ctx context.Context, afterID string, limit int) ([]string, error)
	IncrementApprovals(ctx context.Context, requestID string) (int, error)
	TransitionStatus(ctx context.Context, requestID string, to store.Status, resolvedAt time.Time, reason string) (bool, error)

	InsertVote(ctx context.Context, vote store.Vote) error
	HasVoted(ctx context.Context, requestID, voterID string) (bool, error)
	ListVotes(ctx context.Context, requestID string) ([]store.Vote, error)

	InsertHistory(ctx context.Context, record store.HistoryRecord) error
	HistoryExistsForRequest(ctx context.Context, requestID string) (bool, error)
	ListHistory(ctx context.Context, groupID string, limit int) ([]store.HistoryRecord, error)
}

// Targets reads and writes the items changes apply to, inside the caller's
// transaction.
type Targets interface {
	ResolveItem(ctx context.Context, itemID string) (store.Item, error)
	SaveItem(ctx context.Context, item store.Item) error
	DeactivateItem(ctx context.Context, itemID string, at time.Time) error
	InsertItem(ctx context.Context, item store.Item) error
}

type Membership interface {
	EligibleVoters(ctx context.Context, groupID, excluding string) ([]store.Member, error)
	IsActiveMember(ctx context.Context, groupID, userID string) (bool, error)
}

type PolicyReader interface {
	GroupPolicy(ctx context.Context, groupID string) (policy.GroupPolicy, error)
}

// Notifier receives workflow events after they commit. Its errors are
// logged and never undo the workflow.
type Notifier interface {
	NotifyCreated(ctx context.Context, request store.ChangeRequest, recipients []store.Member) error
	NotifyResolved(ctx context.Context, request store.ChangeRequest) error
}

const (
	defaultTxTimeout     = 10 * time.Second
	defaultNotifyTimeout = 5 * time.Second
	defaultSweepBatch    = 100
)

type Service struct {
	repo     Repository
	targets  Targets
	members  Membership
	policies PolicyReader
	notifier Notifier

	metrics       *metrics.Metrics
	log           *logrus.Entry
	now           func() time.Time
	newID         func(prefix string) string
	txTimeout     time.Duration
	notifyTimeout time.Duration
	sweepBatch    int
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func(prefix string) string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithTxTimeout bounds every mutating transaction.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

func WithSweepBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func New(repo Repository, targets Targets, members Membership, policies PolicyReader, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		targets:       targets,
		members:       members,
		policies:      policies,
		notifier:      nopNotifier{},
		log:           nopLogger(),
		now:           time.Now,
		newID:         util.NewID,
		txTimeout:     defaultTxTimeout,
		notifyTimeout: defaultNotifyTimeout,
		sweepBatch:    defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestDetail is a request together with the votes cast on it.
type RequestDetail struct {
	Request store.ChangeRequest
	Votes   []store.Vote
}

func (s *Service) Get(ctx context.Context, requestID string) (RequestDetail, error) {
	request, err := s.repo.GetChangeRequest(ctx, requestID)
	if err != nil {
		return RequestDetail{}, notFoundAs(err, ErrNotFound, "change request")
	}
	votes, err := s.repo.ListVotes(ctx, requestID)
	if err != nil {
		return RequestDetail{}, errors.Wrap(err, "list votes")
	}
	return RequestDetail{Request: request, Votes: votes}, nil
}

func (s *Service) Votes(ctx context.Context, requestID string) ([]store.Vote, error) {
	if _, err := s.repo.GetChangeRequest(ctx, requestID); err != nil {
		return nil, notFoundAs(err, ErrNotFound, "change request")
	}
	return s.repo.ListVotes(ctx, requestID)
}

// PendingFor lists the requests waiting on the voter's decision.
func (s *Service) PendingFor(ctx context.Context, voterID string) ([]store.ChangeRequest, error) {
	if voterID == "" {
		return nil, invalidInput("voter is required")
	}
	return s.repo.ListPendingForVoter(ctx, voterID)
}

func (s *Service) History(ctx context.Context, groupID string, limit int) ([]store.HistoryRecord, error) {
	if groupID == "" {
		return nil, invalidInput("group is required")
	}
	if limit < 0 {
		return nil, invalidInput("limit must not be negative")
	}
	return s.repo.ListHistory(ctx, groupID, limit)
}

// inTx runs fn in one bounded transaction.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return s.repo.InTx(ctx, fn)
}

func (s *Service) notifyCreated(ctx context.Context, request store.ChangeRequest, recipients []store.Member) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyCreated(ctx, request, recipients); err != nil {
		s.requestLog(request).WithError(err).Warn("workflow: notify created failed")
	}
}

func (s *Service) notifyResolved(ctx context.Context, request store.ChangeRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyResolved(ctx, request); err != nil {
		s.requestLog(request).WithError(err).Warn("workflow: notify resolved failed")
	}
}

func (s *Service) requestLog(request store.ChangeRequest) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"change_request_id": request.ID,
		"group_id":          request.GroupID,
		"item_id":           request.ItemID,
		"change_kind":       request.Kind,
	})
}

type nopNotifier struct{}

func (nopNotifier) NotifyCreated(context.Context, store.ChangeRequest, []store.Member) error {
	return nil
}

func (nopNotifier) NotifyResolved(context.Context, store.ChangeRequest) error {
	return nil
}

func nopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
