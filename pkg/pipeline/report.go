package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Edges are the fixed bucket boundaries of the distribution report. The
// last bucket includes its upper edge.
var Edges = []float64{0, 20, 35, 50, 65, 80, 90, 100}

// Bucket is one range of the distribution report.
type Bucket struct {
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Distribution summarizes match scores over fixed buckets.
type Distribution struct {
	Total   int      `json:"total"`
	Mean    float64  `json:"mean"`
	StdDev  float64  `json:"stddev"`
	Buckets []Bucket `json:"buckets"`
}

// Distribute builds the distribution report for scores. Scores outside
// [0, 100] are clamped into the outer buckets.
func Distribute(scores []float64) Distribution {
	x := make([]float64, len(scores))
	for i, s := range scores {
		x[i] = math.Max(Edges[0], math.Min(s, Edges[len(Edges)-1]))
	}
	sort.Float64s(x)

	dividers := append([]float64(nil), Edges...)
	dividers[len(dividers)-1] = math.Nextafter(Edges[len(Edges)-1], math.Inf(1))
	counts := stat.Histogram(nil, dividers, x, nil)

	d := Distribution{Total: len(x), Buckets: make([]Bucket, len(counts))}
	for i, c := range counts {
		b := Bucket{Low: Edges[i], High: Edges[i+1], Count: int(c)}
		if d.Total > 0 {
			b.Percent = math.Round(c/float64(d.Total)*1000) / 10
		}
		d.Buckets[i] = b
	}

	switch len(x) {
	case 0:
	case 1:
		d.Mean = x[0]
	default:
		mean, std := stat.MeanStdDev(x, nil)
		d.Mean = math.Round(mean*10) / 10
		d.StdDev = math.Round(std*10) / 10
	}
	return d
}

// Summary renders the buckets on one line for logs.
func (d Distribution) Summary() string {
	parts := make([]string, len(d.Buckets))
	for i, b := range d.Buckets {
		parts[i] = fmt.Sprintf("%g-%g:%d", b.Low, b.High, b.Count)
	}
	return strings.Join(parts, " ")
}

// String renders the report as a table.
func (d Distribution) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %8s %7s\n", "RANGE", "COUNT", "PCT")
	for i, bucket := range d.Buckets {
		closing := ")"
		if i == len(d.Buckets)-1 {
			closing = "]"
		}
		label := fmt.Sprintf("[%g,%g%s", bucket.Low, bucket.High, closing)
		fmt.Fprintf(&b, "%-10s %8d %6.1f%%\n", label, bucket.Count, bucket.Percent)
	}
	fmt.Fprintf(&b, "total %d  mean %.1f  stddev %.1f\n", d.Total, d.Mean, d.StdDev)
	return b.String()
}

// Failure is one unit of work that did not complete.
type Failure struct {
	Unit  string `json:"unit"`
	Error string `json:"error"`
}

// Report describes one recomputation run.
type Report struct {
	RunID          string        `json:"run_id"`
	DryRun         bool          `json:"dry_run"`
	Filtered       bool          `json:"filtered"`
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
	Sponsors       int           `json:"sponsors"`
	Population     int           `json:"population"`
	QualityUpdated int           `json:"quality_updated"`
	Subjects       int           `json:"subjects"`
	MatchesKept    int           `json:"matches_kept"`
	Written        int           `json:"written"`
	Pruned         int           `json:"pruned"`
	Retired        int           `json:"retired"` // pruned because the subject or sponsor left the eligible set
	Invariants     int           `json:"invariant_violations"`
	Unscanned      int           `json:"unscanned"` // subjects past an unreadable page, before filtering
	Canceled       bool          `json:"canceled"`
	Failures       []Failure     `json:"failures,omitempty"`
	Distribution   Distribution  `json:"distribution"`

	errs   []error
	fatal  error
	scores []float64
}

func (r *Report) fail(unit string, err error) {
	r.Failures = append(r.Failures, Failure{Unit: unit, Error: err.Error()})
	r.errs = append(r.errs, fmt.Errorf("%s: %w", unit, err))
}

// Err is non-nil when any unit failed, an invariant broke, or the run was
// aborted or canceled.
func (r *Report) Err() error {
	if r.fatal != nil {
		return errors.Join(append([]error{r.fatal}, r.errs...)...)
	}
	return errors.Join(r.errs...)
}

// Result classifies the run as "ok", "partial" or "failed".
func (r *Report) Result() string {
	switch {
	case r.fatal != nil:
		return "failed"
	case len(r.errs) > 0:
		return "partial"
	default:
		return "ok"
	}
}
