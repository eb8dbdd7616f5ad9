package workflow

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// SweepError is the failure of one request during a sweep.
type SweepError struct {
	RequestID string
	Err       error
}

func (e SweepError) Error() string {
	return e.RequestID + ": " + e.Err.Error()
}

func (e SweepError) Unwrap() error {
	return e.Err
}

type SweepResult struct {
	AutoApproved int
	// Retried counts quorum-reached requests whose apply succeeded on retry.
	Retried int
	Errors  []SweepError
}

// SweepExpired first retries pending requests that reached quorum but were
// never applied, then auto-approves every pending request past its deadline.
// Both passes page through their candidates by id, so requests that keep
// failing never hide the ones behind them. Each request is attempted at most
// once per sweep and failures are returned in the result. The returned error
// is only set when a page could not be listed or ctx ended.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	attempted := make(map[string]struct{})

	err := s.eachPage(ctx, func(ctx context.Context, afterID string) ([]string, error) {
		ids, err := s.repo.ListQuorumReachedPending(ctx, afterID, s.sweepBatch)
		if err != nil {
			return nil, errors.Wrap(err, "list quorum reached requests")
		}
		return ids, nil
	}, func(requestID string) {
		attempted[requestID] = struct{}{}
		request, err := s.Resolve(ctx, requestID, "")
		switch {
		case errors.Is(err, ErrInvalidState):
			// Resolved concurrently.
		case err != nil:
			result.Errors = append(result.Errors, SweepError{RequestID: requestID, Err: err})
		case request.Status.Terminal():
			result.Retried++
		}
	})
	if err != nil {
		return result, err
	}

	now := s.now().UTC()
	err = s.eachPage(ctx, func(ctx context.Context, afterID string) ([]string, error) {
		ids, err := s.repo.ListExpiredPending(ctx, now, afterID, s.sweepBatch)
		if err != nil {
			return nil, errors.Wrap(err, "list expired requests")
		}
		return ids, nil
	}, func(requestID string) {
		if _, done := attempted[requestID]; done {
			return
		}
		attempted[requestID] = struct{}{}
		resolved, err := s.AutoApprove(ctx, requestID)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{RequestID: requestID, Err: err})
			return
		}
		if resolved {
			result.AutoApproved++
		}
	})
	if err != nil {
		return result, err
	}

	s.metrics.Sweep(len(result.Errors))
	entry := s.log.WithFields(logrus.Fields{
		"auto_approved": result.AutoApproved,
		"retried":       result.Retried,
		"errors":        len(result.Errors),
	})
	if len(result.Errors) > 0 {
		for _, failure := range result.Errors {
			s.log.WithField("change_request_id", failure.RequestID).WithError(failure.Err).Warn("workflow: sweep could not resolve request")
		}
		entry.Warn("workflow: sweep finished with errors")
	} else if result.AutoApproved+result.Retried > 0 {
		entry.Info("workflow: sweep finished")
	} else {
		entry.Debug("workflow: sweep finished")
	}
	return result, nil
}

// eachPage lists ids page by page, continuing after the last id seen, until
// a short page comes back.
func (s *Service) eachPage(ctx context.Context, list func(ctx context.Context, afterID string) ([]string, error), visit func(requestID string)) error {
	afterID := ""
	for {
		ids, err := list(ctx, afterID)
		if err != nil {
			return err
		}
		for _, requestID := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			visit(requestID)
		}
		if len(ids) == 0 || len(ids) < s.sweepBatch {
			return nil
		}
		afterID = ids[len(ids)-1]
	}
}
