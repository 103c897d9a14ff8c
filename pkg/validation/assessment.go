package validation

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"
)

// Assessment is the structured evaluation returned by the external
// assessment service. Every field is optional; nil sub-scores count as 0.
type Assessment struct {
	Clarity            *float64 `json:"clarity,omitempty"`
	Specificity        *float64 `json:"specificity,omitempty"`
	Evidence           *float64 `json:"evidence,omitempty"`
	MarketValidation   *float64 `json:"market_validation,omitempty"`
	FounderCredibility *float64 `json:"founder_credibility,omitempty"`
	WorthSolving       *float64 `json:"worth_solving,omitempty"`
	ProvisionalPass    *bool    `json:"provisional_pass,omitempty"`
	Insights           []string `json:"insights,omitempty"`
	Gaps               []string `json:"gaps,omitempty"`
	RedFlags           []string `json:"red_flags,omitempty"`

	// Malformed is set when the raw response could not be read as an
	// assessment object.
	Malformed bool `json:"-"`
}

// scoreKeys lists accepted spellings per sub-score, canonical first.
var scoreKeys = map[string][]string{
	"clarity":             {"clarity", "problem_clarity"},
	"specificity":         {"specificity", "customer_specificity"},
	"evidence":            {"evidence", "customer_evidence"},
	"market_validation":   {"market_validation", "marketValidation", "market-validation"},
	"founder_credibility": {"founder_credibility", "founderCredibility", "founder-credibility", "credibility"},
	"worth_solving":       {"worth_solving", "worthSolving", "worth-solving"},
}

// ParseAssessment reads a raw service response. Markdown code fences are
// stripped and loosely typed values ("7", 7, 7.5) are coerced. A response
// that is not a JSON object yields an empty assessment with Malformed set;
// ParseAssessment never fails.
func ParseAssessment(raw string) Assessment {
	raw = stripFences(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		return Assessment{Malformed: true}
	}
	if nested, ok := fields["assessment"].(map[string]any); ok {
		fields = nested
	}

	a := Assessment{
		Clarity:            scoreField(fields, "clarity"),
		Specificity:        scoreField(fields, "specificity"),
		Evidence:           scoreField(fields, "evidence"),
		MarketValidation:   scoreField(fields, "market_validation"),
		FounderCredibility: scoreField(fields, "founder_credibility"),
		WorthSolving:       scoreField(fields, "worth_solving"),
		Insights:           listField(fields, "insights"),
		Gaps:               listField(fields, "gaps"),
		RedFlags:           listField(fields, "red_flags", "redFlags"),
	}
	for _, key := range []string{"pass", "passed", "provisional_pass"} {
		if v, ok := fields[key]; ok {
			if b, err := cast.ToBoolE(v); err == nil {
				a.ProvisionalPass = &b
				break
			}
		}
	}
	return a
}

// scoreField coerces a sub-score into [0, 10]; unreadable values are nil.
func scoreField(fields map[string]any, name string) *float64 {
	for _, key := range scoreKeys[name] {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || f != f {
			return nil
		}
		f = min(max(f, 0), 10)
		return &f
	}
	return nil
}

func listField(fields map[string]any, keys ...string) []string {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		if one, ok := v.(string); ok {
			v = []string{one}
		}
		items, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil
		}
		var out []string
		for _, s := range items {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
			raw = raw[3+idx+1:]
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}
	return raw
}
