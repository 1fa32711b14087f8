// Package recovery keeps per-task failure records and turns classified
// failures into retry, rollback or alert decisions under a policy.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aristath/taskengine/internal/classifier"
)

var (
	ErrUnknownTask      = errors.New("task has no recovery record")
	ErrNoRollbackHook   = errors.New("no rollback hook configured")
	ErrRollbackRejected = errors.New("rollback hook reported failure")
)

// Option configures a Service.
type Option func(*Service)

// WithClassifier overrides the default classifier.
func WithClassifier(c *classifier.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

// WithRollbackHook installs the hook used by the rollback path.
func WithRollbackHook(hook RollbackHook) Option {
	return func(s *Service) { s.hook = hook }
}

// WithPolicy sets the initial policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service owns RecoveryRecords. It never mutates tasks; callers apply the
// returned decision themselves.
type Service struct {
	classifier *classifier.Classifier
	hook       RollbackHook
	logger     *slog.Logger

	mu             sync.Mutex
	policy         Policy
	records        map[string]*Record
	totalFailures  int
	totalRetries   int
	totalRollbacks int
}

// New creates a Service with DefaultPolicy unless overridden.
func New(opts ...Option) *Service {
	s := &Service{
		policy:  DefaultPolicy(),
		records: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = classifier.New()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// HandleFailure records a failure of taskID and decides what to do next.
// It always returns a decision.
func (s *Service) HandleFailure(ctx context.Context, taskID, raw string) Result {
	return s.handle(ctx, taskID, raw, -1)
}

// HandleFailureWithLimit is HandleFailure with a per-task retry cap. The
// effective cap is the smaller of maxRetries and the policy's MaxRetries.
func (s *Service) HandleFailureWithLimit(ctx context.Context, taskID, raw string, maxRetries int) Result {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return s.handle(ctx, taskID, raw, maxRetries)
}

func (s *Service) handle(ctx context.Context, taskID, raw string, limit int) Result {
	classified := s.classifier.Classify(raw)
	res := Result{TaskID: taskID, Classified: classified}

	s.mu.Lock()
	policy := s.policy
	if limit < 0 || limit > policy.MaxRetries {
		limit = policy.MaxRetries
	}

	rec := s.recordLocked(taskID)
	rec.FailureCount++
	rec.LastError = raw
	s.totalFailures++

	if rec.RetryCount < limit {
		rec.RetryCount++
		rec.LastAction = ActionRetry
		s.totalRetries++

		res.Action = ActionRetry
		res.RetryDelay = policy.RetryDelay
		res.RetryCount = rec.RetryCount
		s.mu.Unlock()

		s.logger.Info("scheduling retry", "task_id", taskID, "kind", classified.Kind, "attempt", res.RetryCount)
		return res
	}
	res.RetryCount = rec.RetryCount
	s.mu.Unlock()

	if policy.EnableRollback {
		rb := s.rollback(ctx, taskID)
		if rb.Success {
			res.Action = ActionRollback
			res.RolledBack = true
			s.logger.Info("task rolled back", "task_id", taskID, "kind", classified.Kind)
			return res
		}
		// A failed rollback escalates straight to alert
		s.logger.Warn("rollback failed, escalating", "task_id", taskID, "err", rb.Err)
	}

	s.mu.Lock()
	s.recordLocked(taskID).LastAction = ActionAlert
	s.mu.Unlock()

	res.Action = ActionAlert
	res.Alert = policy.AlertAfterMaxRetries
	s.logger.Warn("retries exhausted", "task_id", taskID, "kind", classified.Kind, "err", classified.Message)
	return res
}

// Rollback runs the rollback path for a tracked task outside of failure
// handling. Unknown ids report Success=false.
func (s *Service) Rollback(ctx context.Context, taskID string) RollbackResult {
	s.mu.Lock()
	_, tracked := s.records[taskID]
	s.mu.Unlock()

	if !tracked {
		return RollbackResult{TaskID: taskID, Err: fmt.Errorf("%w: %s", ErrUnknownTask, taskID)}
	}
	return s.rollback(ctx, taskID)
}

// rollback invokes the hook outside the lock and records a success.
func (s *Service) rollback(ctx context.Context, taskID string) RollbackResult {
	res := RollbackResult{TaskID: taskID}
	if s.hook == nil {
		res.Err = ErrNoRollbackHook
		return res
	}

	ok, err := s.callHook(ctx, taskID)
	if err != nil {
		res.Err = err
		return res
	}
	if !ok {
		res.Err = ErrRollbackRejected
		return res
	}

	s.mu.Lock()
	rec := s.recordLocked(taskID)
	rec.RollbackCount++
	rec.LastAction = ActionRollback
	s.totalRollbacks++
	s.mu.Unlock()

	res.Success = true
	return res
}

func (s *Service) callHook(ctx context.Context, taskID string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("rollback hook panic: %v", r)
		}
	}()
	return s.hook(ctx, taskID)
}

func (s *Service) recordLocked(taskID string) *Record {
	rec, ok := s.records[taskID]
	if !ok {
		rec = &Record{}
		s.records[taskID] = rec
	}
	return rec
}

// SetPolicy replaces the active policy for subsequent decisions.
func (s *Service) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// Policy returns the active policy.
func (s *Service) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Stats returns aggregate counters and the active policy.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TotalFailures:  s.totalFailures,
		TotalRetries:   s.totalRetries,
		TotalRollbacks: s.totalRollbacks,
		Policy:         s.policy,
	}
}

// Record returns a copy of the record for taskID.
func (s *Service) Record(taskID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[taskID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns a copy of every record.
func (s *Service) Records() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = *rec
	}
	return out
}

// RestoreRecords replaces all records, e.g. from a checkpoint. Totals are
// recomputed from the restored records.
func (s *Service) RestoreRecords(records map[string]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record, len(records))
	s.totalFailures, s.totalRetries, s.totalRollbacks = 0, 0, 0
	for id, rec := range records {
		r := rec
		s.records[id] = &r
		s.totalFailures += r.FailureCount
		s.totalRetries += r.RetryCount
		s.totalRollbacks += r.RollbackCount
	}
}
