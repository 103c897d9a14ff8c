// Package validation decides whether a problem/solution submission is
// credible enough to enter matching.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/elonfeng/dealmatch/pkg/model"
)

// Tier is the founder-credibility classification.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Policy is a versioned set of gate thresholds.
type Policy struct {
	Version string `yaml:"version"`

	HighCredibility   float64 `yaml:"high_credibility"`
	WaiveCredibility  float64 `yaml:"waive_credibility"`
	MediumCredibility float64 `yaml:"medium_credibility"`

	HighThreshold   float64 `yaml:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold"`
	LowThreshold    float64 `yaml:"low_threshold"`

	StandardInterviews int `yaml:"standard_interviews"`
	StrongInterviews   int `yaml:"strong_interviews"`

	MinProblemLength int      `yaml:"min_problem_length"`
	GenericCustomers []string `yaml:"generic_customers"`
	GenericMaxWords  int      `yaml:"generic_max_words"`
	GenericPenalty   float64  `yaml:"generic_penalty"`
}

// DefaultPolicy returns gate policy v1.
func DefaultPolicy() Policy {
	return Policy{
		Version:            "v1",
		HighCredibility:    8,
		WaiveCredibility:   9,
		MediumCredibility:  5,
		HighThreshold:      5.0,
		MediumThreshold:    6.0,
		LowThreshold:       7.0,
		StandardInterviews: 5,
		StrongInterviews:   20,
		MinProblemLength:   50,
		GenericCustomers: []string{
			"everyone", "anyone", "people", "users", "consumers", "customers",
			"businesses", "companies", "smbs", "enterprises", "individuals",
		},
		GenericMaxWords: 5,
		GenericPenalty:  3,
	}
}

// Validate checks the tier boundaries are ordered.
func (p Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("validation policy: version must not be empty")
	}
	if !(p.MediumCredibility < p.HighCredibility && p.HighCredibility <= p.WaiveCredibility) {
		return fmt.Errorf("validation policy %s: credibility bounds must ascend", p.Version)
	}
	if p.MinProblemLength < 0 || p.GenericPenalty < 0 {
		return fmt.Errorf("validation policy %s: negative limit", p.Version)
	}
	return nil
}

// Intake holds the structured fields submitted alongside the free text.
type Intake struct {
	Problem        string
	TargetCustomer string
	InterviewCount *int
	HasPilot       bool
	HasLOI         bool
}

// IntakeFrom extracts the gate inputs from a subject submission.
func IntakeFrom(s model.Submission) Intake {
	return Intake{
		Problem:        s.Problem,
		TargetCustomer: s.TargetCustomer,
		InterviewCount: s.InterviewCount,
		HasPilot:       s.HasPilot,
		HasLOI:         s.HasLOI,
	}
}

// SubScores are the six 0-10 rubric values after defaults and downgrades.
type SubScores struct {
	Clarity            float64 `json:"clarity"`
	Specificity        float64 `json:"specificity"`
	Evidence           float64 `json:"evidence"`
	MarketValidation   float64 `json:"market_validation"`
	FounderCredibility float64 `json:"founder_credibility"`
	WorthSolving       float64 `json:"worth_solving"`
}

func (s SubScores) average() float64 {
	return (s.Clarity + s.Specificity + s.Evidence + s.MarketValidation + s.FounderCredibility + s.WorthSolving) / 6
}

// Result is the gate's authoritative verdict for one submission.
type Result struct {
	Scores       SubScores `json:"scores"`
	Average      float64   `json:"average"`
	Threshold    float64   `json:"threshold"`
	Tier         Tier      `json:"tier"`
	Pass         bool      `json:"pass"`
	AssessorPass *bool     `json:"assessor_pass,omitempty"`
	Malformed    bool      `json:"malformed"`
	Insights     []string  `json:"insights"`
	Gaps         []string  `json:"gaps"`
	RedFlags     []string  `json:"red_flags"`
}

// Status maps the verdict onto the subject lifecycle.
func (r Result) Status() model.Status {
	if r.Pass {
		return model.StatusApproved
	}
	return model.StatusRejected
}

// Evaluate re-derives pass/fail from an assessment and intake fields.
// Founder credibility picks the tier, which sets the required average and
// the customer evidence bar. The problem-length and generic-customer
// filters can only push toward fail. Lists from the assessment are kept
// and gate findings are appended.
func Evaluate(p Policy, a Assessment, in Intake) Result {
	r := Result{
		Scores: SubScores{
			Clarity:            orZero(a.Clarity),
			Specificity:        orZero(a.Specificity),
			Evidence:           orZero(a.Evidence),
			MarketValidation:   orZero(a.MarketValidation),
			FounderCredibility: orZero(a.FounderCredibility),
			WorthSolving:       orZero(a.WorthSolving),
		},
		AssessorPass: a.ProvisionalPass,
		Malformed:    a.Malformed,
		Insights:     append([]string(nil), a.Insights...),
		Gaps:         append([]string(nil), a.Gaps...),
		RedFlags:     append([]string(nil), a.RedFlags...),
	}
	if a.Malformed {
		r.Gaps = append(r.Gaps, "assessment unavailable: response could not be parsed")
	}

	cred := r.Scores.FounderCredibility
	switch {
	case cred >= p.HighCredibility:
		r.Tier, r.Threshold = TierHigh, p.HighThreshold
	case cred >= p.MediumCredibility:
		r.Tier, r.Threshold = TierMedium, p.MediumThreshold
	default:
		r.Tier, r.Threshold = TierLow, p.LowThreshold
	}

	if isGeneric(p, in.TargetCustomer) {
		r.Scores.Specificity = max(0, r.Scores.Specificity-p.GenericPenalty)
		if r.Tier != TierHigh {
			r.RedFlags = append(r.RedFlags, fmt.Sprintf("target customer is too generic: %q", strings.TrimSpace(in.TargetCustomer)))
		}
	} else if strings.TrimSpace(in.TargetCustomer) == "" {
		r.Gaps = append(r.Gaps, "target customer not described")
	}

	r.Average = r.Scores.average()
	pass := r.Average >= r.Threshold
	if !pass {
		r.Gaps = append(r.Gaps, fmt.Sprintf("average score %.1f below %s-tier threshold %.1f", r.Average, r.Tier, r.Threshold))
	}

	switch {
	case cred >= p.WaiveCredibility:
		r.Insights = append(r.Insights, "customer evidence requirement waived for founder credibility")
	case !hasEvidence(p, r.Tier, in):
		pass = false
		r.Gaps = append(r.Gaps, evidenceGap(p, r.Tier))
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(in.Problem)); n < p.MinProblemLength {
		pass = false
		r.RedFlags = append(r.RedFlags, fmt.Sprintf("problem statement too short: %d characters, need %d", n, p.MinProblemLength))
	}

	if a.ProvisionalPass != nil && *a.ProvisionalPass != pass {
		r.Insights = append(r.Insights, fmt.Sprintf("assessor verdict (pass=%t) overridden by gate", *a.ProvisionalPass))
	}
	r.Pass = pass
	return r
}

func hasEvidence(p Policy, tier Tier, in Intake) bool {
	interviews := 0
	if in.InterviewCount != nil {
		interviews = *in.InterviewCount
	}
	if tier == TierLow {
		return interviews >= p.StrongInterviews || in.HasPilot
	}
	return interviews >= p.StandardInterviews || in.HasPilot || in.HasLOI
}

func evidenceGap(p Policy, tier Tier) string {
	if tier == TierLow {
		return fmt.Sprintf("customer evidence required: %d+ interviews or a pilot", p.StrongInterviews)
	}
	return fmt.Sprintf("customer evidence required: %d+ interviews, a pilot or a letter of intent", p.StandardInterviews)
}

// isGeneric reports a short description built around a generic noun.
func isGeneric(p Policy, desc string) bool {
	words := strings.FieldsFunc(strings.ToLower(desc), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 || len(words) >= p.GenericMaxWords {
		return false
	}
	for _, w := range words {
		for _, g := range p.GenericCustomers {
			if w == g {
				return true
			}
		}
	}
	return false
}

func orZero(v *float64) float64 {
	if v == nil || *v != *v {
		return 0
	}
	return min(max(*v, 0), 10)
}
