package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elonfeng/dealmatch/internal/store"
	"github.com/elonfeng/dealmatch/pkg/alert"
	"github.com/elonfeng/dealmatch/pkg/assessment"
	"github.com/elonfeng/dealmatch/pkg/pipeline"
)

// Rescorer runs one recomputation.
type Rescorer interface {
	Run(ctx context.Context, filter store.SubjectFilter) (*pipeline.Report, error)
}

// Validator runs one validation sweep.
type Validator interface {
	Run(ctx context.Context) (*assessment.SweepReport, error)
}

// Config holds the cron expressions. An empty expression disables the job.
type Config struct {
	Rescore        string
	Validate       string
	AlertOnPartial bool
}

// Scheduler runs the nightly recomputation and the periodic validation
// sweep. A job still running when its next tick fires is skipped.
type Scheduler struct {
	rescorer  Rescorer
	validator Validator // optional, nil = disabled
	alertMgr  *alert.Manager
	cfg       Config
	log       *slog.Logger
}

// New creates a new scheduler.
func New(r Rescorer, v Validator, alertMgr *alert.Manager, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		rescorer:  r,
		validator: v,
		alertMgr:  alertMgr,
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
	}
}

// Run starts the cron loop. Blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if s.cfg.Rescore != "" {
		if _, err := c.AddFunc(s.cfg.Rescore, func() { s.Rescore(ctx) }); err != nil {
			return fmt.Errorf("schedule rescore %q: %w", s.cfg.Rescore, err)
		}
	}
	if s.cfg.Validate != "" && s.validator != nil {
		if _, err := c.AddFunc(s.cfg.Validate, func() { s.Validate(ctx) }); err != nil {
			return fmt.Errorf("schedule validate %q: %w", s.cfg.Validate, err)
		}
	}

	c.Start()
	s.log.InfoContext(ctx, "scheduler running", "rescore", s.cfg.Rescore, "validate", s.cfg.Validate, "jobs", len(c.Entries()))

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.InfoContext(context.WithoutCancel(ctx), "scheduler stopped")
	return ctx.Err()
}

// Rescore runs one full recomputation and raises a notice when it did not
// complete cleanly.
func (s *Scheduler) Rescore(ctx context.Context) {
	rep, err := s.rescorer.Run(ctx, store.SubjectFilter{})
	if rep == nil {
		rep = &pipeline.Report{}
	}
	if err == nil {
		err = rep.Err()
	}
	if err == nil {
		return
	}
	if rep.Result() == "partial" && !s.cfg.AlertOnPartial {
		return
	}
	if ctx.Err() != nil {
		// shutdown, not a failure
		return
	}
	s.notify(ctx, runNotice(rep, err))
}

// Validate runs one validation sweep.
func (s *Scheduler) Validate(ctx context.Context) {
	if s.validator == nil {
		return
	}
	rep, err := s.validator.Run(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "validation sweep failed", "error", err)
		return
	}
	s.log.InfoContext(ctx, "validation sweep done",
		"evaluated", rep.Evaluated, "approved", rep.Approved, "rejected", rep.Rejected,
		"deferred", rep.Deferred, "failed", rep.Failed)
}

func (s *Scheduler) notify(ctx context.Context, n *alert.Notification) {
	if !s.alertMgr.HasNotifiers() {
		return
	}
	if err := s.alertMgr.Broadcast(ctx, n); err != nil {
		s.log.ErrorContext(ctx, "alert delivery failed", "title", n.Title, "error", err)
	}
}

func runNotice(rep *pipeline.Report, err error) *alert.Notification {
	severity := alert.SeverityWarning
	title := "Recomputation finished with failures"
	if rep.Result() == "failed" {
		severity = alert.SeverityCritical
		title = "Recomputation aborted"
	}
	body := err.Error()
	if len(body) > 1500 {
		body = body[:1500] + "..."
	}
	return &alert.Notification{
		Title:    title,
		Body:     body,
		Severity: severity,
		RunID:    rep.RunID,
		Fields: []alert.Field{
			{Name: "subjects", Value: strconv.Itoa(rep.Subjects)},
			{Name: "written", Value: strconv.Itoa(rep.Written)},
			{Name: "pruned", Value: strconv.Itoa(rep.Pruned)},
			{Name: "failures", Value: strconv.Itoa(len(rep.Failures))},
			{Name: "invariant violations", Value: strconv.Itoa(rep.Invariants)},
			{Name: "duration", Value: rep.Duration.Round(time.Second).String()},
		},
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
