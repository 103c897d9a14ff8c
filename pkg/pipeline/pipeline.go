// Package pipeline recomputes quality scores and the match set in batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/dealmatch/internal/retry"
	"github.com/elonfeng/dealmatch/internal/store"
	"github.com/elonfeng/dealmatch/pkg/match"
	"github.com/elonfeng/dealmatch/pkg/metrics"
	"github.com/elonfeng/dealmatch/pkg/model"
	"github.com/elonfeng/dealmatch/pkg/quality"
	"github.com/elonfeng/dealmatch/pkg/taxonomy"
)

// ErrInvariant marks a result that must be impossible by construction,
// such as the same subject/sponsor pair twice in one batch.
var ErrInvariant = errors.New("invariant violation")

// Options tunes a run.
type Options struct {
	PageSize       int            `yaml:"page_size"`
	TopK           int            `yaml:"top_k"`
	MinScore       float64        `yaml:"min_score"`
	Workers        int            `yaml:"workers"` // 0 = one per CPU
	IndexThreshold int            `yaml:"index_threshold"`
	Calibrate      bool           `yaml:"calibrate"`
	QualityBatch   int            `yaml:"quality_batch"`
	Statuses       []model.Status `yaml:"statuses"`
	Retry          retry.Policy   `yaml:"retry"`
	DryRun         bool           `yaml:"-"`
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		PageSize:       1000,
		TopK:           12,
		MinScore:       40,
		IndexThreshold: 500,
		Calibrate:      true,
		QualityBatch:   500,
		Statuses:       []model.Status{model.StatusApproved},
		Retry:          retry.DefaultPolicy(),
	}
}

// Validate checks the options for values a run cannot work with.
func (o Options) Validate() error {
	if o.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", o.PageSize)
	}
	if o.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", o.TopK)
	}
	if o.MinScore < 0 || o.MinScore > 100 {
		return fmt.Errorf("min_score must be in [0, 100], got %v", o.MinScore)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", o.Workers)
	}
	return nil
}

// Rules are the versioned formula tables a run applies.
type Rules struct {
	Taxonomy *taxonomy.Table
	Quality  quality.Params
	Curve    quality.Curve
	Formula  match.Formula
}

// Pipeline keeps quality scores and the match set up to date.
type Pipeline struct {
	store   store.Store
	rules   Rules
	opts    Options
	metrics *metrics.Manager
	log     *slog.Logger
}

// New creates a pipeline. m may be nil.
func New(s store.Store, rules Rules, opts Options, m *metrics.Manager, log *slog.Logger) *Pipeline {
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QualityBatch <= 0 {
		opts.QualityBatch = 500
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:   s,
		rules:   rules,
		opts:    opts,
		metrics: m,
		log:     log.With("component", "pipeline"),
	}
}

// Run recomputes quality over the whole population and matches for the
// subjects selected by filter. The returned error is set when the run had
// to stop early; partial failures are in the report (see Report.Err).
func (p *Pipeline) Run(ctx context.Context, filter store.SubjectFilter) (*Report, error) {
	start := time.Now()
	rep := &Report{
		RunID:    uuid.NewString(),
		DryRun:   p.opts.DryRun,
		Filtered: !filter.Empty(),
		Started:  start.UTC(),
	}
	log := p.log.With("run_id", rep.RunID)
	log.InfoContext(ctx, "recomputation started",
		"dry_run", rep.DryRun, "filtered", rep.Filtered,
		"taxonomy", p.rules.Taxonomy.Version(), "quality", p.rules.Quality.Version, "formula", p.rules.Formula.Version)

	defer func() {
		rep.Duration = time.Since(start)
		p.metrics.RunFinished(rep.Result(), rep.Duration)
		log.InfoContext(ctx, "recomputation finished",
			"result", rep.Result(),
			"subjects", rep.Subjects,
			"written", rep.Written,
			"pruned", rep.Pruned,
			"failures", len(rep.Failures),
			"took", rep.Duration.Round(time.Millisecond))
	}()

	idx, err := p.loadSponsors(ctx)
	if err != nil {
		return p.abort(ctx, log, rep, err)
	}
	rep.Sponsors = idx.len()

	qualities, err := p.qualityPass(ctx, log, rep)
	if err != nil {
		return p.abort(ctx, log, rep, err)
	}

	if len(p.opts.Statuses) > 0 && len(filter.Statuses) == 0 {
		filter.Statuses = p.opts.Statuses
	}
	if err := p.matchPass(ctx, log, rep, idx, qualities, filter); err != nil {
		return p.abort(ctx, log, rep, err)
	}
	if !rep.Filtered {
		p.retire(ctx, log, rep, filter.Statuses)
	}

	p.report(ctx, log, rep)
	return rep, nil
}

func (p *Pipeline) abort(ctx context.Context, log *slog.Logger, rep *Report, err error) (*Report, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		rep.Canceled = true
		log.WarnContext(ctx, "recomputation canceled", "error", err)
	} else {
		log.ErrorContext(ctx, "recomputation aborted", "error", err)
	}
	rep.fatal = err
	return rep, err
}

// loadSponsors reads the full sponsor population. Matching against a
// partial population would prune valid matches, so any page failure
// aborts the run.
func (p *Pipeline) loadSponsors(ctx context.Context) (*sponsorIndex, error) {
	var sponsors []model.Sponsor
	err := scan(ctx, p.opts.Retry, p.opts.PageSize, "sponsor",
		p.store.ListSponsors,
		func(s *model.Sponsor) string { return s.ID },
		func(_ int, page []model.Sponsor) error {
			sponsors = append(sponsors, page...)
			return nil
		})
	if err != nil {
		p.countPageFailure(err)
		return nil, fmt.Errorf("load sponsors: %w", err)
	}
	return newSponsorIndex(p.rules.Taxonomy, sponsors, p.opts.IndexThreshold), nil
}

// qualityPass computes quality for every subject, calibrates it over the
// population rank when enabled, and persists the scores that changed. It
// always covers the whole population so ranks do not depend on the filter.
func (p *Pipeline) qualityPass(ctx context.Context, log *slog.Logger, rep *Report) (map[string]float64, error) {
	type entry struct {
		id     string
		stored *float64
	}
	var (
		entries []entry
		raw     []float64
	)
	err := scan(ctx, p.opts.Retry, p.opts.PageSize, "subject",
		func(ctx context.Context, after string, limit int) ([]model.Subject, error) {
			return p.store.ListSubjects(ctx, after, limit, store.SubjectFilter{})
		},
		func(s *model.Subject) string { return s.ID },
		func(_ int, page []model.Subject) error {
			for i := range page {
				s := &page[i]
				entries = append(entries, entry{id: s.ID, stored: s.QualityScore})
				raw = append(raw, quality.Compute(p.rules.Quality, p.rules.Taxonomy, s).Total)
			}
			return nil
		})
	if err != nil {
		p.countPageFailure(err)
		return nil, fmt.Errorf("quality pass: %w", err)
	}
	rep.Population = len(entries)

	final := raw
	if p.opts.Calibrate && len(p.rules.Curve) > 0 {
		final = quality.Calibrate(raw, p.rules.Curve)
	}

	scores := make(map[string]float64, len(entries))
	var updates []model.QualityUpdate
	for i, e := range entries {
		scores[e.id] = final[i]
		if e.stored == nil || *e.stored != final[i] {
			updates = append(updates, model.QualityUpdate{SubjectID: e.id, Score: final[i]})
		}
	}
	rep.QualityUpdated = len(updates)
	log.InfoContext(ctx, "quality computed", "population", len(entries), "changed", len(updates), "calibrated", p.opts.Calibrate)

	if p.opts.DryRun {
		return scores, nil
	}
	// Batches are independent; a failed batch keeps its old scores and the
	// run goes on with the new ones in memory.
	wctx := context.WithoutCancel(ctx)
	for start := 0; start < len(updates); start += p.opts.QualityBatch {
		batch := updates[start:min(start+p.opts.QualityBatch, len(updates))]
		err := retry.Do(wctx, p.opts.Retry, func(ctx context.Context) error {
			return p.store.UpdateQualityScores(ctx, batch)
		})
		if err != nil {
			unit := fmt.Sprintf("quality batch %d", start/p.opts.QualityBatch+1)
			log.WarnContext(ctx, "quality batch failed", "batch", start/p.opts.QualityBatch+1, "error", err)
			rep.fail(unit, err)
		}
	}
	return scores, nil
}

// matchPass scores the filtered subjects page by page. Scoring within a
// page runs in parallel; persistence is sequential and finishes the page
// even if ctx is canceled meanwhile.
func (p *Pipeline) matchPass(ctx context.Context, log *slog.Logger, rep *Report, idx *sponsorIndex, qualities map[string]float64, filter store.SubjectFilter) error {
	seen := make(map[string]struct{})

	err := scan(ctx, p.opts.Retry, p.opts.PageSize, "subject",
		func(ctx context.Context, after string, limit int) ([]model.Subject, error) {
			return p.store.ListSubjects(ctx, after, limit, filter)
		},
		func(s *model.Subject) string { return s.ID },
		func(page int, subjects []model.Subject) error {
			results := make([][]model.Match, len(subjects))

			var g errgroup.Group
			g.SetLimit(p.opts.Workers)
			for i := range subjects {
				g.Go(func() error {
					s := &subjects[i]
					if q, ok := qualities[s.ID]; ok {
						s.QualityScore = &q
					}
					results[i] = p.topMatches(s, idx)
					return nil
				})
			}
			_ = g.Wait()

			wctx := context.WithoutCancel(ctx)
			for i := range subjects {
				p.persist(wctx, log.With("page", page), rep, subjects[i].ID, results[i], seen)
			}
			log.DebugContext(ctx, "page done", "page", page, "subjects", len(subjects))
			return nil
		})
	if err == nil {
		return nil
	}

	var pe *PageError
	if errors.As(err, &pe) {
		// The cursor cannot move past an unreadable page; the rest of
		// the population waits for the next run.
		for id := range qualities {
			if id > pe.After {
				rep.Unscanned++
			}
		}
		p.metrics.PageFailed()
		log.ErrorContext(ctx, "page read failed, match scan stopped",
			"page", pe.Page, "after", pe.After, "unscanned_at_most", rep.Unscanned, "error", pe.Err)
		rep.fail(pe.unit(), pe.Err)
		return nil
	}
	return err
}

// retire removes matches of subjects that left the eligible statuses or were
// deleted, and of deleted sponsors. Only a full run knows the whole eligible
// set, so filtered runs skip it.
func (p *Pipeline) retire(ctx context.Context, log *slog.Logger, rep *Report, statuses []model.Status) {
	if p.opts.DryRun {
		return
	}
	var n int
	err := retry.Do(context.WithoutCancel(ctx), p.opts.Retry, func(ctx context.Context) error {
		var err error
		n, err = p.store.PruneIneligibleMatches(ctx, statuses)
		return err
	})
	if err != nil {
		log.WarnContext(ctx, "retiring ineligible matches failed", "error", err)
		rep.fail("retire matches", err)
		return
	}
	rep.Retired = n
	rep.Pruned += n
	p.metrics.MatchesRetired(n)
	if n > 0 {
		log.InfoContext(ctx, "retired ineligible matches", "matches", n)
	}
}

// topMatches scores s against its candidates and keeps the best TopK at or
// above MinScore, ordered by score then sponsor id.
func (p *Pipeline) topMatches(s *model.Subject, idx *sponsorIndex) []model.Match {
	tags := p.rules.Taxonomy.Resolve(s.Categories)

	var out []model.Match
	for _, c := range idx.candidates(tags) {
		r := match.ScoreResolved(p.rules.Formula, s, tags, c.sponsor, c.tags)
		if r.Score < p.opts.MinScore {
			continue
		}
		out = append(out, r.ToMatch(s.ID, c.sponsor.ID))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SponsorID < out[j].SponsorID
	})
	if len(out) > p.opts.TopK {
		out = out[:p.opts.TopK]
	}
	return out
}

func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, rep *Report, subjectID string, matches []model.Match, seen map[string]struct{}) {
	if err := checkUnique(subjectID, matches, seen); err != nil {
		rep.Invariants++
		p.metrics.InvariantViolated()
		log.ErrorContext(ctx, "refusing to persist batch", "subject_id", subjectID, "error", err)
		rep.fail("subject "+subjectID, err)
		return
	}
	rep.Subjects++
	rep.MatchesKept += len(matches)

	scores := make([]float64, len(matches))
	for i, m := range matches {
		scores[i] = m.Score
	}
	if p.opts.DryRun {
		rep.scores = append(rep.scores, scores...)
		return
	}

	var stats store.ReplaceStats
	err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) error {
		var err error
		stats, err = p.store.ReplaceMatches(ctx, subjectID, matches)
		return err
	})
	if err != nil {
		p.metrics.SubjectFailed()
		log.WarnContext(ctx, "persist matches failed", "subject_id", subjectID, "error", err)
		rep.fail("subject "+subjectID, err)
		return
	}
	rep.Written += stats.Written
	rep.Pruned += stats.Pruned
	p.metrics.SubjectDone(stats.Written, stats.Pruned, scores)
}

// checkUnique rejects a subject seen twice in the run or a sponsor twice in
// one subject's batch.
func checkUnique(subjectID string, matches []model.Match, seen map[string]struct{}) error {
	if _, dup := seen[subjectID]; dup {
		return fmt.Errorf("%w: subject %s scored twice in one run", ErrInvariant, subjectID)
	}
	seen[subjectID] = struct{}{}

	sponsors := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if m.SubjectID != subjectID {
			return fmt.Errorf("%w: match for subject %s in batch of %s", ErrInvariant, m.SubjectID, subjectID)
		}
		if _, dup := sponsors[m.SponsorID]; dup {
			return fmt.Errorf("%w: duplicate pair %s/%s", ErrInvariant, subjectID, m.SponsorID)
		}
		sponsors[m.SponsorID] = struct{}{}
	}
	return nil
}

// report computes the distribution of the committed match set, or of the
// computed matches on a dry run, and logs it.
func (p *Pipeline) report(ctx context.Context, log *slog.Logger, rep *Report) {
	scores := rep.scores
	if !p.opts.DryRun {
		err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) error {
			var err error
			scores, err = p.store.MatchScores(ctx)
			return err
		})
		if err != nil {
			log.WarnContext(ctx, "distribution unavailable", "error", err)
			rep.fail("distribution", err)
			return
		}
	}
	rep.Distribution = Distribute(scores)
	log.InfoContext(ctx, "score distribution",
		"total", rep.Distribution.Total,
		"mean", rep.Distribution.Mean,
		"stddev", rep.Distribution.StdDev,
		"buckets", rep.Distribution.Summary())
}

func (p *Pipeline) countPageFailure(err error) {
	var pe *PageError
	if errors.As(err, &pe) {
		p.metrics.PageFailed()
	}
}
