package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/dealmatch/internal/config"
	"github.com/elonfeng/dealmatch/internal/scheduler"
	"github.com/elonfeng/dealmatch/internal/store"
	"github.com/elonfeng/dealmatch/pkg/alert"
	"github.com/elonfeng/dealmatch/pkg/assessment"
	"github.com/elonfeng/dealmatch/pkg/match"
	"github.com/elonfeng/dealmatch/pkg/metrics"
	"github.com/elonfeng/dealmatch/pkg/pipeline"
	"github.com/elonfeng/dealmatch/pkg/quality"
	"github.com/elonfeng/dealmatch/pkg/server"
)

// app holds what every command needs.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *store.SQLStore
	metrics *metrics.Manager
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	db, err := store.New(cfg.Database.Driver, cfg.Database.Source())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, log: log, db: db, metrics: metrics.NewManager()}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("close store", "error", err)
	}
}

func (a *app) pipeline(dryRun bool) (*pipeline.Pipeline, error) {
	rules, err := a.cfg.Rules()
	if err != nil {
		return nil, err
	}
	opts := a.cfg.Pipeline
	opts.DryRun = dryRun
	return pipeline.New(a.db, rules, opts, a.metrics, a.log), nil
}

// sweeper returns nil when assessment is not configured.
func (a *app) sweeper() *assessment.Sweeper {
	ac := a.cfg.Assessment
	if !ac.Enabled || ac.APIKey == "" {
		return nil
	}
	budget := assessment.NewBudget(ac.HourlyBudget, time.Hour, ac.MinInterval)
	client := assessment.NewClient(assessment.Config{
		Provider: ac.Provider,
		Model:    ac.Model,
		APIKey:   ac.APIKey,
		BaseURL:  ac.BaseURL,
		Timeout:  ac.Timeout,
		Retry:    ac.Retry,
	}, budget, a.log)
	a.log.Info("assessment service", "provider", ac.Provider, "model", ac.Model, "hourly_budget", ac.HourlyBudget)
	return assessment.NewSweeper(a.db, client, a.cfg.Validation.Policy, a.cfg.Validation.BatchLimit, a.metrics, a.log)
}

func (a *app) alertManager() *alert.Manager {
	cfg := a.cfg.Alerts
	var notifiers []alert.Notifier

	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Slack.WebhookURL))
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Discord.WebhookURL))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

type rescoreOptions struct {
	since       string
	below       float64
	belowSet    bool
	dryRun      bool
	metricsFile string
	jsonOutput  bool
}

func (o rescoreOptions) filter(now time.Time) (store.SubjectFilter, error) {
	var f store.SubjectFilter
	if o.since != "" {
		t, err := parseSince(o.since, now)
		if err != nil {
			return f, err
		}
		f.UpdatedSince = t
	}
	if o.belowSet {
		below := o.below
		f.BelowScore = &below
	}
	return f, nil
}

// parseSince accepts an RFC3339 time or a duration before now.
func parseSince(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("--since %q is neither an RFC3339 time nor a positive duration", v)
	}
	return now.Add(-d), nil
}

func runRescore(ctx context.Context, opts rescoreOptions) error {
	filter, err := opts.filter(time.Now())
	if err != nil {
		return err
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.pipeline(opts.dryRun)
	if err != nil {
		return err
	}

	rep, runErr := p.Run(ctx, filter)

	path := opts.metricsFile
	if path == "" {
		path = a.cfg.Metrics.Textfile
	}
	if path != "" && !opts.dryRun {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.log.Warn("write metrics textfile", "path", path, "error", err)
		}
	}

	if rep != nil {
		if err := printReport(rep, opts.jsonOutput); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("rescore: %w", runErr)
	}
	if err := rep.Err(); err != nil {
		return fmt.Errorf("rescore incomplete (%s): %d failures", rep.Result(), len(rep.Failures))
	}
	return nil
}

func printReport(rep *pipeline.Report, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	mode := ""
	if rep.DryRun {
		mode = " (dry run)"
	}
	fmt.Printf("run %s%s: %s in %s\n", rep.RunID, mode, rep.Result(), rep.Duration.Round(time.Millisecond))
	fmt.Printf("sponsors %d  population %d  quality updated %d\n", rep.Sponsors, rep.Population, rep.QualityUpdated)
	fmt.Printf("subjects %d  matches kept %d  written %d  pruned %d\n\n", rep.Subjects, rep.MatchesKept, rep.Written, rep.Pruned)
	fmt.Print(rep.Distribution.String())

	if len(rep.Failures) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UNIT\tERROR")
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "%s\t%s\n", f.Unit, f.Error)
		}
		return w.Flush()
	}
	return nil
}

func runValidate(ctx context.Context, limit int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if limit > 0 {
		a.cfg.Validation.BatchLimit = limit
	}
	sweeper := a.sweeper()
	if sweeper == nil {
		return errors.New("assessment service not configured (set OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}

	rep, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tSTATUS\tTIER\tAVERAGE\tTHRESHOLD")
	for _, v := range rep.Verdicts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.1f\n", v.SubjectID, v.Status, v.Result.Tier, v.Result.Average, v.Result.Threshold)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nevaluated %d  approved %d  rejected %d  deferred %d  failed %d\n",
		rep.Evaluated, rep.Approved, rep.Rejected, rep.Deferred, rep.Failed)
	if !rep.ResetAt.IsZero() {
		fmt.Printf("budget exhausted; next calls after %s\n", rep.ResetAt.Format(time.RFC3339))
	}
	return rep.Err()
}

func runScore(ctx context.Context, subjectID, sponsorID string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	subject, err := a.db.GetSubject(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("subject %s: %w", subjectID, err)
	}
	sponsor, err := a.db.GetSponsor(ctx, sponsorID)
	if err != nil {
		return fmt.Errorf("sponsor %s: %w", sponsorID, err)
	}
	rules, err := a.cfg.Rules()
	if err != nil {
		return err
	}

	raw := quality.Compute(rules.Quality, rules.Taxonomy, subject)
	r := match.Score(rules.Formula, rules.Taxonomy, subject, sponsor)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "subject\t%s (%s)\n", subject.ID, subject.Name)
	fmt.Fprintf(w, "sponsor\t%s (%s)\n", sponsor.ID, sponsor.Name)
	if subject.QualityScore != nil {
		fmt.Fprintf(w, "quality\t%.1f (raw %.1f)\n", *subject.QualityScore, raw.Total)
	} else {
		fmt.Fprintf(w, "quality\tnot computed (raw %.1f)\n", raw.Total)
	}
	fmt.Fprintf(w, "score\t%.1f\n", r.Score)
	fmt.Fprintf(w, "confidence\t%s\n", r.Confidence)
	fmt.Fprintf(w, "explanation\t%s\n", r.Explain())
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(a.db, a.metrics, port, a.log).ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	p, err := a.pipeline(false)
	if err != nil {
		return err
	}

	// A nil *Sweeper must not become a non-nil Validator.
	var validator scheduler.Validator
	if sw := a.sweeper(); sw != nil {
		validator = sw
	}

	sched := scheduler.New(p, validator, a.alertManager(), scheduler.Config{
		Rescore:        a.cfg.Schedule.Rescore,
		Validate:       a.cfg.Schedule.Validate,
		AlertOnPartial: a.cfg.Alerts.OnPartial,
	}, a.log)
	srv := server.New(a.db, a.metrics, port, a.log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	err = g.Wait()
	a.log.Info("shut down")
	return err
}
