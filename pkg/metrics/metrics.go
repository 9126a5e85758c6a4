package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes as reported to a Recorder.
const (
	StatusOK          = "ok"
	StatusChanged     = "changed"
	StatusSkipped     = "skipped"
	StatusFailed      = "failed"
	StatusUnreachable = "unreachable"
)

// TaskLabels identify one task execution.
type TaskLabels struct {
	Task   string
	Module string
	Host   string
	RunAs  string
}

func (l TaskLabels) values() prometheus.Labels {
	return prometheus.Labels{"task": l.Task, "module": l.Module, "host": l.Host, "run_as": l.RunAs}
}

// Recorder receives task and play outcomes.
type Recorder interface {
	TaskFinished(labels TaskLabels, status string, duration time.Duration)
	PlayFinished(play string, duration time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) TaskFinished(TaskLabels, string, time.Duration) {}
func (Noop) PlayFinished(string, time.Duration)             {}

var taskLabelNames = []string{"task", "module", "host", "run_as"}

// Prometheus records outcomes as prometheus metrics.
type Prometheus struct {
	taskExecutions  *prometheus.CounterVec
	taskSkips       *prometheus.CounterVec
	taskErrors      *prometheus.CounterVec
	taskChanges     *prometheus.CounterVec
	taskUnreachable *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	playDuration    *prometheus.HistogramVec
}

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		taskExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "task_executions_total",
			Help: "The total number of task executions",
		}, taskLabelNames),
		taskSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "task_skips_total",
			Help: "The total number of skipped tasks",
		}, taskLabelNames),
		taskErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "task_errors_total",
			Help: "The total number of task errors",
		}, taskLabelNames),
		taskChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "task_changes_total",
			Help: "The total number of tasks that made changes",
		}, taskLabelNames),
		taskUnreachable: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "task_unreachable_total",
			Help: "The total number of tasks whose host was unreachable",
		}, taskLabelNames),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "The duration of task executions in seconds",
			Buckets: prometheus.DefBuckets,
		}, taskLabelNames),
		playDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "play_duration_seconds",
			Help:    "The duration of plays in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"play"}),
	}
}

func (p *Prometheus) TaskFinished(labels TaskLabels, status string, duration time.Duration) {
	values := labels.values()
	switch status {
	case StatusSkipped:
		p.taskSkips.With(values).Inc()
		return
	case StatusChanged:
		p.taskChanges.With(values).Inc()
	case StatusFailed:
		p.taskErrors.With(values).Inc()
	case StatusUnreachable:
		p.taskUnreachable.With(values).Inc()
	}
	p.taskExecutions.With(values).Inc()
	p.taskDuration.With(values).Observe(duration.Seconds())
}

func (p *Prometheus) PlayFinished(play string, duration time.Duration) {
	p.playDuration.With(prometheus.Labels{"play": play}).Observe(duration.Seconds())
}

// Serve exposes the gatherer on /metrics at addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		common.LogInfo("Serving metrics", map[string]interface{}{"listen": addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
