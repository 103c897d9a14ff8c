package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/dealmatch/internal/store"
	"github.com/elonfeng/dealmatch/pkg/alert"
	"github.com/elonfeng/dealmatch/pkg/assessment"
	"github.com/elonfeng/dealmatch/pkg/pipeline"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRescorer struct {
	mu    sync.Mutex
	runs  int
	rep   *pipeline.Report
	err   error
	block chan struct{}
}

func (f *fakeRescorer) Run(ctx context.Context, _ store.SubjectFilter) (*pipeline.Report, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.rep, f.err
}

func (f *fakeRescorer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type recorder struct {
	mu  sync.Mutex
	got []*alert.Notification
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(_ context.Context, n *alert.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func TestRescore_AlertsOnAbort(t *testing.T) {
	rec := &recorder{}
	r := &fakeRescorer{rep: &pipeline.Report{RunID: "r1"}, err: errors.New("load sponsors: timeout")}
	s := New(r, nil, alert.NewManager([]alert.Notifier{rec}), Config{}, quiet)

	s.Rescore(context.Background())

	require.Len(t, rec.got, 1)
	n := rec.got[0]
	assert.Equal(t, "r1", n.RunID)
	assert.Contains(t, n.Body, "load sponsors: timeout")
}

func TestRescore_QuietOnSuccess(t *testing.T) {
	rec := &recorder{}
	s := New(&fakeRescorer{rep: &pipeline.Report{}}, nil, alert.NewManager([]alert.Notifier{rec}), Config{}, quiet)

	s.Rescore(context.Background())
	assert.Empty(t, rec.got)
}

func TestRunNotice(t *testing.T) {
	rep := &pipeline.Report{RunID: "r2", Subjects: 10, Failures: []pipeline.Failure{{Unit: "subject s1", Error: "x"}}}
	n := runNotice(rep, errors.New("subject s1: x"))

	assert.Equal(t, alert.SeverityWarning, n.Severity)
	assert.Contains(t, n.Fields, alert.Field{Name: "subjects", Value: "10"})
	assert.Contains(t, n.Fields, alert.Field{Name: "failures", Value: "1"})
}

type fakeValidator struct {
	runs int
}

func (f *fakeValidator) Run(context.Context) (*assessment.SweepReport, error) {
	f.runs++
	return &assessment.SweepReport{Evaluated: 1, Approved: 1}, nil
}

func TestValidate(t *testing.T) {
	v := &fakeValidator{}
	s := New(&fakeRescorer{}, v, nil, Config{}, quiet)
	s.Validate(context.Background())
	assert.Equal(t, 1, v.runs)

	New(&fakeRescorer{}, nil, nil, Config{}, quiet).Validate(context.Background())
}

func TestRun_InvalidSchedule(t *testing.T) {
	s := New(&fakeRescorer{}, nil, nil, Config{Rescore: "not a schedule"}, quiet)
	err := s.Run(context.Background())
	assert.ErrorContains(t, err, "schedule rescore")
}

func TestRun_FiresAndSkipsOverlap(t *testing.T) {
	block := make(chan struct{})
	r := &fakeRescorer{rep: &pipeline.Report{}, block: block}
	s := New(r, nil, nil, Config{Rescore: "@every 1s"}, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// The first run blocks; later ticks are skipped while it is running.
	require.Eventually(t, func() bool { return r.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, r.count())

	close(block)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
