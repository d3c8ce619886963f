package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kausalhq/kausal/internal/capability"
)

// QueryLogsTool searches logs in the workspace's log backend.
type QueryLogsTool struct {
	client LogQuerier
}

func (t *QueryLogsTool) Name() string { return "query_logs" }

func (t *QueryLogsTool) Capability() capability.Capability { return capability.Logs }

func (t *QueryLogsTool) Description() string {
	return `Search logs within a time range.

Use this tool to:
- Find error messages around the time of an incident
- Inspect log volume for a specific service
- Correlate log lines with a suspected deployment or config change

Input:
- query: Log query expression (LogQL-style label matchers and filters)
- start_time: Unix timestamp (seconds) for start of time range
- end_time: Unix timestamp (seconds) for end of time range
- limit (optional): Maximum log lines to return (default: 100, max: 500)`
}

func (t *QueryLogsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"query", "start_time", "end_time"},
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Log query expression",
			},
			"start_time": map[string]interface{}{
				"type":        "integer",
				"description": "Unix timestamp (seconds) for start of time range",
			},
			"end_time": map[string]interface{}{
				"type":        "integer",
				"description": "Unix timestamp (seconds) for end of time range",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum log lines to return (default: 100, max: 500)",
			},
		},
	}
}

type queryLogsInput struct {
	Query     string `json:"query"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Limit     int    `json:"limit"`
}

func (t *QueryLogsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in queryLogsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if in.Limit <= 0 {
		in.Limit = 100
	}
	if in.Limit > 500 {
		in.Limit = 500
	}

	entries, err := t.client.QueryLogs(ctx, LogQuery{
		Query: in.Query,
		Start: time.Unix(in.StartTime, 0),
		End:   time.Unix(in.EndTime, 0),
		Limit: in.Limit,
	})
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"entries": entries},
		Summary: fmt.Sprintf("Found %d log lines matching %q", len(entries), in.Query),
	}, nil
}

// QueryMetricsTool evaluates metric expressions against the workspace's
// metrics backend.
type QueryMetricsTool struct {
	client MetricQuerier
}

func (t *QueryMetricsTool) Name() string { return "query_metrics" }

func (t *QueryMetricsTool) Capability() capability.Capability { return capability.Metrics }

func (t *QueryMetricsTool) Description() string {
	return `Evaluate a metric expression over a time range.

Use this tool to:
- Check error rate, latency, or saturation for a service
- Confirm whether a metric moved at the time a hypothesis predicts
- Compare behavior before and after a deployment

Input:
- expr: Metric expression (PromQL)
- start_time: Unix timestamp (seconds) for start of time range
- end_time: Unix timestamp (seconds) for end of time range`
}

func (t *QueryMetricsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"expr", "start_time", "end_time"},
		"properties": map[string]interface{}{
			"expr": map[string]interface{}{
				"type":        "string",
				"description": "Metric expression (PromQL)",
			},
			"start_time": map[string]interface{}{
				"type":        "integer",
				"description": "Unix timestamp (seconds) for start of time range",
			},
			"end_time": map[string]interface{}{
				"type":        "integer",
				"description": "Unix timestamp (seconds) for end of time range",
			},
		},
	}
}

type queryMetricsInput struct {
	Expr      string `json:"expr"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

func (t *QueryMetricsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in queryMetricsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
	}

	series, err := t.client.QueryMetrics(ctx, MetricQuery{
		Expr:  in.Expr,
		Start: time.Unix(in.StartTime, 0),
		End:   time.Unix(in.EndTime, 0),
	})
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"series": series},
		Summary: fmt.Sprintf("Evaluated %q: %d series", in.Expr, len(series)),
	}, nil
}

// ListAlertsTool lists currently firing alerts.
type ListAlertsTool struct {
	client AlertLister
}

func (t *ListAlertsTool) Name() string { return "list_alerts" }

func (t *ListAlertsTool) Capability() capability.Capability { return capability.Alerts }

func (t *ListAlertsTool) Description() string {
	return `List currently firing alerts in the workspace.

Use this tool to:
- See which alerts are active right now
- Cross-check a hypothesis against alerting state

Input: no parameters.`
}

func (t *ListAlertsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListAlertsTool) Execute(ctx context.Context, _ json.RawMessage) (*Result, error) {
	alerts, err := t.client.ListAlerts(ctx)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"alerts": alerts},
		Summary: fmt.Sprintf("%d alerts firing", len(alerts)),
	}, nil
}
