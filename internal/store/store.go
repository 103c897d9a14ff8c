package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/dealmatch/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SubjectFilter narrows a subject listing. Zero values match everything.
type SubjectFilter struct {
	UpdatedSince time.Time
	BelowScore   *float64 // quality below this, or not yet scored
	Statuses     []model.Status
}

// Empty reports whether the filter selects the whole population.
func (f SubjectFilter) Empty() bool {
	return f.UpdatedSince.IsZero() && f.BelowScore == nil
}

// MatchListOpts controls match listing.
type MatchListOpts struct {
	SubjectID string
	MinScore  float64
	Limit     int
}

// ReplaceStats reports what ReplaceMatches changed.
type ReplaceStats struct {
	Written int // rows inserted or changed
	Pruned  int // rows removed because they left the top-K
}

// Store is the persistence interface.
type Store interface {
	ListSubjects(ctx context.Context, after string, limit int, f SubjectFilter) ([]model.Subject, error)
	ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error)
	GetSubject(ctx context.Context, id string) (*model.Subject, error)
	UpsertSubject(ctx context.Context, s *model.Subject) error
	UpdateQualityScores(ctx context.Context, updates []model.QualityUpdate) error
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	MarkAssessAttempt(ctx context.Context, id string, at time.Time) error

	ListSponsors(ctx context.Context, after string, limit int) ([]model.Sponsor, error)
	GetSponsor(ctx context.Context, id string) (*model.Sponsor, error)
	UpsertSponsor(ctx context.Context, s *model.Sponsor) error

	ReplaceMatches(ctx context.Context, subjectID string, matches []model.Match) (ReplaceStats, error)
	PruneIneligibleMatches(ctx context.Context, statuses []model.Status) (int, error)
	ListMatches(ctx context.Context, opts MatchListOpts) ([]model.Match, error)
	MatchScores(ctx context.Context) ([]float64, error)
	CountMatches(ctx context.Context) (int, error)

	Close() error
}

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

// New opens the database and runs migrations. driver is "sqlite" (dsn is
// a file path) or "postgres" (dsn is a connection string).
func New(driver, dsn string) (*SQLStore, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "", "sqlite":
		db, err = sqlx.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err == nil {
			// one writer at a time; readers share the same connection
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sqlx.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ListSubjects(ctx context.Context, after string, limit int, f SubjectFilter) ([]model.Subject, error) {
	query := "SELECT * FROM subjects WHERE id > ?"
	args := []any{after}

	if !f.UpdatedSince.IsZero() {
		query += " AND updated_at >= ?"
		args = append(args, f.UpdatedSince.UTC())
	}
	if f.BelowScore != nil {
		query += " AND (quality_score IS NULL OR quality_score < ?)"
		args = append(args, *f.BelowScore)
	}
	if len(f.Statuses) > 0 {
		query += " AND status IN (?)"
		args = append(args, f.Statuses)
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, pageLimit(limit))

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build subject query: %w", err)
	}

	var subjects []model.Subject
	if err := s.db.SelectContext(ctx, &subjects, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list subjects after %q: %w", after, err)
	}
	for i := range subjects {
		subjects[i].DecodeJSON()
	}
	return subjects, nil
}

func (s *SQLStore) ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error) {
	var subjects []model.Subject
	err := s.db.SelectContext(ctx, &subjects,
		s.db.Rebind(`SELECT * FROM subjects WHERE status = ?
			ORDER BY CASE WHEN assess_attempted_at IS NULL THEN 0 ELSE 1 END, assess_attempted_at, updated_at, id
			LIMIT ?`),
		model.StatusPending, pageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending subjects: %w", err)
	}
	for i := range subjects {
		subjects[i].DecodeJSON()
	}
	return subjects, nil
}

func (s *SQLStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	var subject model.Subject
	err := s.db.GetContext(ctx, &subject, s.db.Rebind("SELECT * FROM subjects WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subject %s: %w", id, err)
	}
	subject.DecodeJSON()
	return &subject, nil
}

func (s *SQLStore) UpsertSubject(ctx context.Context, subject *model.Subject) error {
	if subject.UpdatedAt.IsZero() {
		subject.UpdatedAt = time.Now().UTC()
	}
	if subject.Status == "" {
		subject.Status = model.StatusDiscovered
	}
	subject.EncodeJSON()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO subjects (id, name, categories, stage, raise_amount, quality_score, status, updated_at,
			team_size, technical_founder, prior_exits, monthly_revenue, customers, growth_rate, market_size,
			launched, product_url, description, mission,
			problem, solution, target_customer, team_background, market_notes, interview_count, has_pilot, has_loi)
		VALUES (:id, :name, :categories, :stage, :raise_amount, :quality_score, :status, :updated_at,
			:team_size, :technical_founder, :prior_exits, :monthly_revenue, :customers, :growth_rate, :market_size,
			:launched, :product_url, :description, :mission,
			:problem, :solution, :target_customer, :team_background, :market_notes, :interview_count, :has_pilot, :has_loi)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			categories = excluded.categories,
			stage = excluded.stage,
			raise_amount = excluded.raise_amount,
			status = excluded.status,
			updated_at = excluded.updated_at,
			team_size = excluded.team_size,
			technical_founder = excluded.technical_founder,
			prior_exits = excluded.prior_exits,
			monthly_revenue = excluded.monthly_revenue,
			customers = excluded.customers,
			growth_rate = excluded.growth_rate,
			market_size = excluded.market_size,
			launched = excluded.launched,
			product_url = excluded.product_url,
			description = excluded.description,
			mission = excluded.mission,
			problem = excluded.problem,
			solution = excluded.solution,
			target_customer = excluded.target_customer,
			team_background = excluded.team_background,
			market_notes = excluded.market_notes,
			interview_count = excluded.interview_count,
			has_pilot = excluded.has_pilot,
			has_loi = excluded.has_loi
	`, subjectRow(subject))
	if err != nil {
		return fmt.Errorf("upsert subject %s: %w", subject.ID, err)
	}
	return nil
}

// subjectRow flattens a subject for named queries, with timestamps in UTC
// so text comparison in SQLite orders them correctly.
func subjectRow(s *model.Subject) map[string]any {
	return map[string]any{
		"id":                s.ID,
		"name":              s.Name,
		"categories":        s.CategoriesJSON,
		"stage":             s.Stage,
		"raise_amount":      s.RaiseAmount,
		"quality_score":     s.QualityScore,
		"status":            s.Status,
		"updated_at":        s.UpdatedAt.UTC(),
		"team_size":         s.TeamSize,
		"technical_founder": s.TechnicalFounder,
		"prior_exits":       s.PriorExits,
		"monthly_revenue":   s.MonthlyRevenue,
		"customers":         s.Customers,
		"growth_rate":       s.GrowthRate,
		"market_size":       s.MarketSize,
		"launched":          s.Launched,
		"product_url":       s.ProductURL,
		"description":       s.Description,
		"mission":           s.Mission,
		"problem":           s.Problem,
		"solution":          s.Solution,
		"target_customer":   s.TargetCustomer,
		"team_background":   s.TeamBackground,
		"market_notes":      s.MarketNotes,
		"interview_count":   s.InterviewCount,
		"has_pilot":         s.HasPilot,
		"has_loi":           s.HasLOI,
	}
}

// UpdateQualityScores writes scores in one transaction. It does not touch
// updated_at, which tracks changes to the subject's own attributes.
func (s *SQLStore) UpdateQualityScores(ctx context.Context, updates []model.QualityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quality update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind("UPDATE subjects SET quality_score = ? WHERE id = ?"))
	if err != nil {
		return fmt.Errorf("prepare quality update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Score, u.SubjectID); err != nil {
			return fmt.Errorf("update quality %s: %w", u.SubjectID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quality update: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE subjects SET status = ? WHERE id = ?"), status, id)
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAssessAttempt records a failed assessment call so the subject moves
// behind never-attempted ones in ListPendingSubjects.
func (s *SQLStore) MarkAssessAttempt(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE subjects SET assess_attempted_at = ? WHERE id = ?"), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark assess attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark assess attempt %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ListSponsors(ctx context.Context, after string, limit int) ([]model.Sponsor, error) {
	var sponsors []model.Sponsor
	err := s.db.SelectContext(ctx, &sponsors,
		s.db.Rebind("SELECT * FROM sponsors WHERE id > ? ORDER BY id LIMIT ?"), after, pageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sponsors after %q: %w", after, err)
	}
	for i := range sponsors {
		sponsors[i].DecodeJSON()
	}
	return sponsors, nil
}

func (s *SQLStore) GetSponsor(ctx context.Context, id string) (*model.Sponsor, error) {
	var sponsor model.Sponsor
	err := s.db.GetContext(ctx, &sponsor, s.db.Rebind("SELECT * FROM sponsors WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get sponsor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sponsor %s: %w", id, err)
	}
	sponsor.DecodeJSON()
	return &sponsor, nil
}

func (s *SQLStore) UpsertSponsor(ctx context.Context, sponsor *model.Sponsor) error {
	sponsor.EncodeJSON()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sponsors (id, name, categories, stages, min_check, max_check)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			categories = excluded.categories,
			stages = excluded.stages,
			min_check = excluded.min_check,
			max_check = excluded.max_check
	`), sponsor.ID, sponsor.Name, sponsor.CategoriesJSON, sponsor.StagesJSON, sponsor.MinCheck, sponsor.MaxCheck)
	if err != nil {
		return fmt.Errorf("upsert sponsor %s: %w", sponsor.ID, err)
	}
	return nil
}

// ReplaceMatches makes the subject's stored matches equal to matches in one
// transaction. Rows whose values did not change are left untouched; rows
// for sponsors not in matches are removed.
func (s *SQLStore) ReplaceMatches(ctx context.Context, subjectID string, matches []model.Match) (ReplaceStats, error) {
	var stats ReplaceStats

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin replace matches %s: %w", subjectID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	upsert := tx.Rebind(`
		INSERT INTO matches (subject_id, sponsor_id, score, confidence, explanation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, sponsor_id) DO UPDATE SET
			score = excluded.score,
			confidence = excluded.confidence,
			explanation = excluded.explanation,
			updated_at = excluded.updated_at
		WHERE matches.score <> excluded.score
			OR matches.confidence <> excluded.confidence
			OR matches.explanation <> excluded.explanation
	`)
	keep := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.SubjectID != subjectID {
			return stats, fmt.Errorf("replace matches %s: row for subject %s", subjectID, m.SubjectID)
		}
		res, err := tx.ExecContext(ctx, upsert, m.SubjectID, m.SponsorID, m.Score, m.Confidence, m.Explanation, now)
		if err != nil {
			return stats, fmt.Errorf("upsert match %s/%s: %w", m.SubjectID, m.SponsorID, err)
		}
		n, _ := res.RowsAffected()
		stats.Written += int(n)
		keep = append(keep, m.SponsorID)
	}

	var (
		prune string
		args  []any
	)
	if len(keep) == 0 {
		prune, args = "DELETE FROM matches WHERE subject_id = ?", []any{subjectID}
	} else {
		prune, args, err = sqlx.In("DELETE FROM matches WHERE subject_id = ? AND sponsor_id NOT IN (?)", subjectID, keep)
		if err != nil {
			return stats, fmt.Errorf("build prune query: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(prune), args...)
	if err != nil {
		return stats, fmt.Errorf("prune matches %s: %w", subjectID, err)
	}
	n, _ := res.RowsAffected()
	stats.Pruned = int(n)

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit matches %s: %w", subjectID, err)
	}
	return stats, nil
}

// PruneIneligibleMatches removes matches whose subject is gone or no longer
// has one of statuses, and matches whose sponsor is gone. An empty statuses
// keeps every existing subject eligible.
func (s *SQLStore) PruneIneligibleMatches(ctx context.Context, statuses []model.Status) (int, error) {
	query := "DELETE FROM matches WHERE subject_id NOT IN (SELECT id FROM subjects) OR sponsor_id NOT IN (SELECT id FROM sponsors)"
	var args []any
	if len(statuses) > 0 {
		var err error
		query, args, err = sqlx.In(`DELETE FROM matches
			WHERE subject_id NOT IN (SELECT id FROM subjects WHERE status IN (?))
				OR sponsor_id NOT IN (SELECT id FROM sponsors)`, statuses)
		if err != nil {
			return 0, fmt.Errorf("build prune query: %w", err)
		}
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("prune ineligible matches: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) ListMatches(ctx context.Context, opts MatchListOpts) ([]model.Match, error) {
	query := "SELECT subject_id, sponsor_id, score, confidence, explanation FROM matches WHERE 1=1"
	var args []any

	if opts.SubjectID != "" {
		query += " AND subject_id = ?"
		args = append(args, opts.SubjectID)
	}
	if opts.MinScore > 0 {
		query += " AND score >= ?"
		args = append(args, opts.MinScore)
	}

	query += " ORDER BY score DESC, subject_id, sponsor_id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var matches []model.Match
	if err := s.db.SelectContext(ctx, &matches, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return matches, nil
}

func (s *SQLStore) MatchScores(ctx context.Context) ([]float64, error) {
	var scores []float64
	if err := s.db.SelectContext(ctx, &scores, "SELECT score FROM matches ORDER BY score"); err != nil {
		return nil, fmt.Errorf("match scores: %w", err)
	}
	return scores, nil
}

func (s *SQLStore) CountMatches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM matches"); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}
