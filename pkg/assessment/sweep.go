package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elonfeng/dealmatch/internal/retry"
	"github.com/elonfeng/dealmatch/pkg/metrics"
	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/validation"
)

// Assessor evaluates one subject's submission.
type Assessor interface {
	Assess(ctx context.Context, s *model.Subject) (validation.Assessment, error)
}

// SubjectStore is the part of the store a sweep needs.
type SubjectStore interface {
	ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	MarkAssessAttempt(ctx context.Context, id string, at time.Time) error
}

// Sweeper moves pending subjects to approved or rejected through the
// validation gate.
type Sweeper struct {
	store    SubjectStore
	assessor Assessor
	policy   validation.Policy
	limit    int
	retry    retry.Policy
	metrics  *metrics.Manager
	log      *slog.Logger
}

// NewSweeper creates a sweeper evaluating at most limit subjects per run.
func NewSweeper(s SubjectStore, a Assessor, policy validation.Policy, limit int, m *metrics.Manager, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:    s,
		assessor: a,
		policy:   policy,
		limit:    limit,
		retry:    retry.DefaultPolicy(),
		metrics:  m,
		log:      log.With("component", "validation"),
	}
}

// Verdict is the outcome for one subject in a sweep.
type Verdict struct {
	SubjectID string            `json:"subject_id"`
	Status    model.Status      `json:"status"`
	Result    validation.Result `json:"result"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Evaluated int       `json:"evaluated"`
	Approved  int       `json:"approved"`
	Rejected  int       `json:"rejected"`
	Deferred  int       `json:"deferred"`
	Failed    int       `json:"failed"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
	Verdicts  []Verdict `json:"verdicts"`

	errs []error
}

// Err joins the per-subject failures. Deferred subjects are not failures.
func (r *SweepReport) Err() error { return errors.Join(r.errs...) }

// Run evaluates pending subjects oldest first. A subject whose assessment
// call fails stays pending and is retried after the untried ones. When the call budget runs
// out, the rest of the batch is deferred.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	subjects, err := s.store.ListPendingSubjects(ctx, s.limit)
	if err != nil {
		return nil, fmt.Errorf("list pending subjects: %w", err)
	}

	rep := &SweepReport{}
	for i := range subjects {
		subject := &subjects[i]
		if ctx.Err() != nil {
			rep.Deferred += len(subjects) - i
			break
		}

		a, err := s.assessor.Assess(ctx, subject)
		if errors.Is(err, ErrBudgetExhausted) {
			rep.Deferred += len(subjects) - i
			var ee *ExhaustedError
			if errors.As(err, &ee) {
				rep.ResetAt = ee.ResetAt
			}
			s.metrics.Assessed("deferred")
			s.log.InfoContext(ctx, "assessment budget exhausted, deferring",
				"deferred", len(subjects)-i, "reset_at", rep.ResetAt)
			break
		}
		if err != nil {
			rep.Failed++
			rep.errs = append(rep.errs, err)
			s.metrics.Assessed("error")
			s.log.WarnContext(ctx, "assessment failed", "subject_id", subject.ID, "error", err)
			// Move it behind untried subjects so it cannot hold the head of the queue.
			if err := s.store.MarkAssessAttempt(context.WithoutCancel(ctx), subject.ID, time.Now()); err != nil {
				s.log.WarnContext(ctx, "mark assessment attempt failed", "subject_id", subject.ID, "error", err)
			}
			continue
		}

		result := validation.Evaluate(s.policy, a, validation.IntakeFrom(subject.Submission))
		status := result.Status()
		err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
			return s.store.UpdateStatus(ctx, subject.ID, status)
		})
		if err != nil {
			rep.Failed++
			rep.errs = append(rep.errs, fmt.Errorf("subject %s: %w", subject.ID, err))
			s.metrics.Assessed("error")
			s.log.WarnContext(ctx, "status update failed", "subject_id", subject.ID, "error", err)
			continue
		}

		rep.Evaluated++
		if result.Pass {
			rep.Approved++
		} else {
			rep.Rejected++
		}
		rep.Verdicts = append(rep.Verdicts, Verdict{SubjectID: subject.ID, Status: status, Result: result})
		s.metrics.Assessed(string(status))
		s.log.InfoContext(ctx, "submission evaluated",
			"subject_id", subject.ID,
			"status", status,
			"tier", result.Tier,
			"average", fmt.Sprintf("%.2f", result.Average),
			"threshold", result.Threshold,
			"malformed", result.Malformed,
			"red_flags", len(result.RedFlags))
	}
	return rep, nil
}
