package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskFinished(t *testing.T) {
	registry := prometheus.NewRegistry()
	p := New(registry)

	labels := TaskLabels{Task: "install nginx", Module: "command", Host: "web1", RunAs: "root"}
	p.TaskFinished(labels, StatusChanged, 1500*time.Millisecond)
	p.TaskFinished(labels, StatusOK, time.Second)
	p.TaskFinished(labels, StatusFailed, time.Second)
	p.TaskFinished(labels, StatusSkipped, 0)
	p.TaskFinished(labels, StatusUnreachable, time.Second)

	values := labels.values()
	tests := []struct {
		name   string
		vec    *prometheus.CounterVec
		expect float64
	}{
		{"executions", p.taskExecutions, 4},
		{"changes", p.taskChanges, 1},
		{"errors", p.taskErrors, 1},
		{"skips", p.taskSkips, 1},
		{"unreachable", p.taskUnreachable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := tt.vec.GetMetricWith(values)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, getCounterValue(t, counter))
		})
	}

	histogram, err := p.taskDuration.GetMetricWith(values)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), getHistogramCount(t, histogram))
}

func TestPlayFinished(t *testing.T) {
	registry := prometheus.NewRegistry()
	p := New(registry)
	p.PlayFinished("site", 3*time.Second)

	families, err := registry.Gather()
	require.NoError(t, err)
	found := false
	for _, family := range families {
		if family.GetName() == "play_duration_seconds" {
			found = true
			assert.Equal(t, uint64(1), family.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}

func TestServe(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry).TaskFinished(TaskLabels{Task: "t", Module: "ping", Host: "h"}, StatusOK, time.Millisecond)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, registry) }()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(body), "task_executions_total")

	cancel()
	assert.NoError(t, <-done)
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	r.TaskFinished(TaskLabels{}, StatusOK, time.Second)
	r.PlayFinished("x", time.Second)
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}

func getHistogramCount(t *testing.T, observer prometheus.Observer) uint64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, observer.(prometheus.Metric).Write(&metric))
	return metric.GetHistogram().GetSampleCount()
}
