// Package metrics records how long the stages of a browser launch take,
// as k6 metric samples.
package metrics

import (
	"context"
	"time"

	k6metrics "go.k6.io/k6/metrics"
)

// LaunchMetrics are the metrics emitted for browser launches.
type LaunchMetrics struct {
	ProfileDuration *k6metrics.Metric
	SpawnDuration   *k6metrics.Metric
	ConnectDuration *k6metrics.Metric
	InjectDuration  *k6metrics.Metric
	LaunchDuration  *k6metrics.Metric
	LaunchFailures  *k6metrics.Metric

	registry *k6metrics.Registry
}

// RegisterLaunchMetrics creates and registers the launch metrics with
// registry.
func RegisterLaunchMetrics(registry *k6metrics.Registry) *LaunchMetrics {
	return &LaunchMetrics{
		ProfileDuration: registry.MustNewMetric(
			"browser_launch_profile_duration", k6metrics.Trend, k6metrics.Time),
		SpawnDuration: registry.MustNewMetric(
			"browser_launch_spawn_duration", k6metrics.Trend, k6metrics.Time),
		ConnectDuration: registry.MustNewMetric(
			"browser_launch_connect_duration", k6metrics.Trend, k6metrics.Time),
		InjectDuration: registry.MustNewMetric(
			"browser_launch_inject_duration", k6metrics.Trend, k6metrics.Time),
		LaunchDuration: registry.MustNewMetric(
			"browser_launch_duration", k6metrics.Trend, k6metrics.Time),
		LaunchFailures: registry.MustNewMetric(
			"browser_launch_failures", k6metrics.Counter),
		registry: registry,
	}
}

// Recorder pushes launch samples to a channel. A nil Recorder records
// nothing.
type Recorder struct {
	metrics *LaunchMetrics
	tags    *k6metrics.TagSet
	out     chan<- k6metrics.SampleContainer
}

// NewRecorder returns a Recorder pushing samples of m, tagged with tags, to
// out. Whoever owns out must keep draining it.
func NewRecorder(m *LaunchMetrics, out chan<- k6metrics.SampleContainer, tags map[string]string) *Recorder {
	ts := m.registry.RootTagSet()
	for k, v := range tags {
		ts = ts.With(k, v)
	}

	return &Recorder{metrics: m, tags: ts, out: out}
}

// Profile records how long building a Gecko profile took.
func (r *Recorder) Profile(ctx context.Context, d time.Duration) {
	if r != nil {
		r.Duration(ctx, r.metrics.ProfileDuration, d)
	}
}

// Spawn records how long starting the browser took.
func (r *Recorder) Spawn(ctx context.Context, d time.Duration) {
	if r != nil {
		r.Duration(ctx, r.metrics.SpawnDuration, d)
	}
}

// Connect records how long connecting to the browser took.
func (r *Recorder) Connect(ctx context.Context, d time.Duration) {
	if r != nil {
		r.Duration(ctx, r.metrics.ConnectDuration, d)
	}
}

// Inject records how long the hand-off took.
func (r *Recorder) Inject(ctx context.Context, d time.Duration) {
	if r != nil {
		r.Duration(ctx, r.metrics.InjectDuration, d)
	}
}

// Launch records how long a whole successful launch took.
func (r *Recorder) Launch(ctx context.Context, d time.Duration) {
	if r != nil {
		r.Duration(ctx, r.metrics.LaunchDuration, d)
	}
}

// Failure counts a failed launch.
func (r *Recorder) Failure(ctx context.Context) {
	if r != nil {
		r.Add(ctx, r.metrics.LaunchFailures, 1)
	}
}

// Duration records d for metric.
func (r *Recorder) Duration(ctx context.Context, metric *k6metrics.Metric, d time.Duration) {
	if r == nil || metric == nil {
		return
	}
	r.push(ctx, metric, k6metrics.D(d))
}

// Add adds v to the counter metric.
func (r *Recorder) Add(ctx context.Context, metric *k6metrics.Metric, v float64) {
	if r == nil || metric == nil {
		return
	}
	r.push(ctx, metric, v)
}

func (r *Recorder) push(ctx context.Context, metric *k6metrics.Metric, v float64) {
	PushIfNotDone(ctx, r.out, k6metrics.Sample{
		TimeSeries: k6metrics.TimeSeries{
			Metric: metric,
			Tags:   r.tags,
		},
		Time:  time.Now(),
		Value: v,
	})
}

// PushIfNotDone is a helper function to push a sample to a channel if the
// context is not done. It returns true if the sample was pushed, false if the
// context was done.
func PushIfNotDone(ctx context.Context, output chan<- k6metrics.SampleContainer, sample k6metrics.SampleContainer) bool {
	select {
	case <-ctx.Done():
		return false
	case output <- sample:
		return true
	}
}
