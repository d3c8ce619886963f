package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/kausalhq/kausal/internal/integration/grafana"
)

// GrafanaBackend adapts a grafana.Client to the LogQuerier, MetricQuerier,
// and AlertLister interfaces. Datasource UIDs are fixed at construction
// from the workspace's integration config.
type GrafanaBackend struct {
	client        *grafana.Client
	logsDatasUID  string
	metricDatsUID string
}

// NewGrafanaBackend creates a backend over the given client using the
// configured Loki and Prometheus datasource UIDs.
func NewGrafanaBackend(client *grafana.Client, logsDatasourceUID, metricsDatasourceUID string) *GrafanaBackend {
	return &GrafanaBackend{
		client:        client,
		logsDatasUID:  logsDatasourceUID,
		metricDatsUID: metricsDatasourceUID,
	}
}

// QueryLogs implements LogQuerier.
func (b *GrafanaBackend) QueryLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	resp, err := b.client.QueryLogs(ctx, b.logsDatasUID, q.Query, q.Start, q.End, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	var entries []LogEntry
	for _, result := range resp.Results {
		if result.Error != "" {
			return nil, fmt.Errorf("query logs: %s", result.Error)
		}
		for _, frame := range result.Frames {
			entries = append(entries, logEntriesFromFrame(frame)...)
		}
	}
	return entries, nil
}

// logEntriesFromFrame converts a Loki data frame into log entries. Loki
// frames carry timestamps in the first value column and lines in the
// second.
func logEntriesFromFrame(frame grafana.DataFrame) []LogEntry {
	if len(frame.Data.Values) < 2 {
		return nil
	}
	times := frame.Data.Values[0]
	lines := frame.Data.Values[1]

	var labels map[string]string
	for _, f := range frame.Schema.Fields {
		if len(f.Labels) > 0 {
			labels = f.Labels
			break
		}
	}

	n := len(times)
	if len(lines) < n {
		n = len(lines)
	}
	entries := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		ms, ok := times[i].(float64)
		if !ok {
			continue
		}
		line, ok := lines[i].(string)
		if !ok {
			continue
		}
		entries = append(entries, LogEntry{
			Timestamp: time.UnixMilli(int64(ms)).UTC(),
			Line:      line,
			Labels:    labels,
		})
	}
	return entries
}

// QueryMetrics implements MetricQuerier.
func (b *GrafanaBackend) QueryMetrics(ctx context.Context, q MetricQuery) ([]MetricSeries, error) {
	resp, err := b.client.QueryMetrics(ctx, b.metricDatsUID, q.Expr, q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}

	var series []MetricSeries
	for _, result := range resp.Results {
		if result.Error != "" {
			return nil, fmt.Errorf("query metrics: %s", result.Error)
		}
		for _, frame := range result.Frames {
			if s, ok := seriesFromFrame(frame); ok {
				series = append(series, s)
			}
		}
	}
	return series, nil
}

// seriesFromFrame converts a time_series data frame into a MetricSeries.
func seriesFromFrame(frame grafana.DataFrame) (MetricSeries, bool) {
	if len(frame.Data.Values) < 2 {
		return MetricSeries{}, false
	}
	times := frame.Data.Values[0]
	values := frame.Data.Values[1]

	var labels map[string]string
	for _, f := range frame.Schema.Fields {
		if len(f.Labels) > 0 {
			labels = f.Labels
			break
		}
	}

	n := len(times)
	if len(values) < n {
		n = len(values)
	}
	points := make([]MetricPoint, 0, n)
	for i := 0; i < n; i++ {
		ms, ok := times[i].(float64)
		if !ok {
			continue
		}
		v, ok := values[i].(float64)
		if !ok {
			continue
		}
		points = append(points, MetricPoint{
			Timestamp: time.UnixMilli(int64(ms)).UTC(),
			Value:     v,
		})
	}
	return MetricSeries{Labels: labels, Points: points}, true
}

// ListAlerts implements AlertLister.
func (b *GrafanaBackend) ListAlerts(ctx context.Context) ([]AlertSummary, error) {
	alerts, err := b.client.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	summaries := make([]AlertSummary, 0, len(alerts))
	for _, a := range alerts {
		summaries = append(summaries, AlertSummary{
			Name:        a.Labels["alertname"],
			State:       a.Status.State,
			StartsAt:    a.StartsAt,
			Labels:      a.Labels,
			Annotations: a.Annotations,
		})
	}
	return summaries, nil
}
