package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a subject.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// Stage is the growth stage ordinal of a subject.
type Stage int

const (
	StageIdea Stage = iota
	StagePreSeed
	StageSeed
	StageSeriesA
	StageSeriesB
	StageGrowth
)

var stageNames = map[Stage]string{
	StageIdea:    "idea",
	StagePreSeed: "pre-seed",
	StageSeed:    "seed",
	StageSeriesA: "series-a",
	StageSeriesB: "series-b",
	StageGrowth:  "growth",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Signals holds the optional inputs of the quality score. Every field is
// independently nullable; nil means absent.
type Signals struct {
	TeamSize         *int     `json:"team_size,omitempty" db:"team_size"`
	TechnicalFounder *bool    `json:"technical_founder,omitempty" db:"technical_founder"`
	PriorExits       *int     `json:"prior_exits,omitempty" db:"prior_exits"`
	MonthlyRevenue   *float64 `json:"monthly_revenue,omitempty" db:"monthly_revenue"`
	Customers        *int     `json:"customers,omitempty" db:"customers"`
	GrowthRate       *float64 `json:"growth_rate,omitempty" db:"growth_rate"`
	MarketSize       *float64 `json:"market_size,omitempty" db:"market_size"`
	Launched         *bool    `json:"launched,omitempty" db:"launched"`
	ProductURL       string   `json:"product_url,omitempty" db:"product_url"`
	Description      string   `json:"description,omitempty" db:"description"`
	Mission          string   `json:"mission,omitempty" db:"mission"`
}

// Submission is the free-text intake a subject provides for validation.
type Submission struct {
	Problem        string `json:"problem,omitempty" db:"problem"`
	Solution       string `json:"solution,omitempty" db:"solution"`
	TargetCustomer string `json:"target_customer,omitempty" db:"target_customer"`
	TeamBackground string `json:"team_background,omitempty" db:"team_background"`
	MarketNotes    string `json:"market_notes,omitempty" db:"market_notes"`
	InterviewCount *int   `json:"interview_count,omitempty" db:"interview_count"`
	HasPilot       bool   `json:"has_pilot" db:"has_pilot"`
	HasLOI         bool   `json:"has_loi" db:"has_loi"`
}

// Subject is a funding-seeking organization.
type Subject struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Categories     []string  `json:"categories" db:"-"`
	Stage          *Stage    `json:"stage,omitempty" db:"stage"`
	RaiseAmount    *float64  `json:"raise_amount,omitempty" db:"raise_amount"`
	QualityScore   *float64  `json:"quality_score,omitempty" db:"quality_score"`
	Status         Status    `json:"status" db:"status"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
	CategoriesJSON string    `json:"-" db:"categories"`

	// AssessAttemptedAt is the last failed assessment call, nil if none.
	AssessAttemptedAt *time.Time `json:"assess_attempted_at,omitempty" db:"assess_attempted_at"`

	Signals
	Submission
}

// Sponsor is a capital-providing entity.
type Sponsor struct {
	ID             string   `json:"id" db:"id"`
	Name           string   `json:"name" db:"name"`
	Categories     []string `json:"categories" db:"-"`
	Stages         []Stage  `json:"stages" db:"-"`
	MinCheck       *float64 `json:"min_check,omitempty" db:"min_check"`
	MaxCheck       *float64 `json:"max_check,omitempty" db:"max_check"`
	CategoriesJSON string   `json:"-" db:"categories"`
	StagesJSON     string   `json:"-" db:"stages"`
}

// Confidence labels how many match terms fired.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Match is the derived pairwise record for one subject and sponsor.
type Match struct {
	SubjectID   string     `json:"subject_id" db:"subject_id"`
	SponsorID   string     `json:"sponsor_id" db:"sponsor_id"`
	Score       float64    `json:"score" db:"score"`
	Confidence  Confidence `json:"confidence" db:"confidence"`
	Explanation string     `json:"explanation" db:"explanation"`
}

// QualityUpdate carries a recomputed quality score for persistence.
type QualityUpdate struct {
	SubjectID string
	Score     float64
}

// EncodeJSON fills the JSON-backed columns from their slice fields.
func (s *Subject) EncodeJSON() {
	s.CategoriesJSON = marshalList(s.Categories)
}

// DecodeJSON fills the slice fields from their JSON-backed columns.
// Malformed columns decode as empty lists.
func (s *Subject) DecodeJSON() {
	s.Categories = decodeList[string](s.CategoriesJSON)
}

// EncodeJSON fills the JSON-backed columns from their slice fields.
func (s *Sponsor) EncodeJSON() {
	s.CategoriesJSON = marshalList(s.Categories)
	if s.Stages == nil {
		s.StagesJSON = "[]"
		return
	}
	data, _ := json.Marshal(s.Stages)
	s.StagesJSON = string(data)
}

// DecodeJSON fills the slice fields from their JSON-backed columns.
// Malformed columns decode as empty lists.
func (s *Sponsor) DecodeJSON() {
	s.Categories = decodeList[string](s.CategoriesJSON)
	s.Stages = decodeList[Stage](s.StagesJSON)
}

// decodeList never returns a partly decoded list.
func decodeList[T any](raw string) []T {
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func marshalList(v []string) string {
	if v == nil {
		return "[]"
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// Ptr returns a pointer to v. Handy for optional fields.
func Ptr[T any](v T) *T {
	return &v
}
