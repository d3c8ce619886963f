// Package grafana provides an HTTP client for querying logs, metrics,
// and alerts through a workspace's Grafana integration.
package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kausalhq/kausal/internal/logging"
)

// Config holds connection settings for a Grafana instance.
type Config struct {
	URL   string
	Token string
}

// Client is an HTTP client wrapper for the Grafana API.
type Client struct {
	config Config
	client *http.Client
	logger *logging.Logger
}

// NewClient creates a Grafana HTTP client with tuned connection pooling.
func NewClient(config Config, logger *logging.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10, // default 2 causes connection churn
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		logger: logger,
	}
}

// doJSON executes an HTTP request against the Grafana API and decodes the
// JSON response into out. The response body is always read to completion
// so the connection can be reused.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, out interface{}) error {
	var bodyReader io.Reader
	if reqBody != nil {
		reqJSON, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Grafana request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(body))
		return fmt.Errorf("request failed (status %d): %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// queryRequest represents a request to Grafana's /api/ds/query endpoint.
type queryRequest struct {
	Queries []query `json:"queries"`
	From    string  `json:"from"` // epoch milliseconds as string
	To      string  `json:"to"`   // epoch milliseconds as string
}

type query struct {
	RefID         string          `json:"refId"`
	Datasource    queryDatasource `json:"datasource"`
	Expr          string          `json:"expr"`
	QueryType     string          `json:"queryType,omitempty"`
	Format        string          `json:"format,omitempty"`
	MaxDataPoints int             `json:"maxDataPoints,omitempty"`
	MaxLines      int             `json:"maxLines,omitempty"`
	IntervalMs    int             `json:"intervalMs,omitempty"`
}

type queryDatasource struct {
	UID string `json:"uid"`
}

// QueryResponse represents the response from Grafana's /api/ds/query endpoint.
type QueryResponse struct {
	Results map[string]QueryResult `json:"results"`
}

// QueryResult represents a single result in the query response.
type QueryResult struct {
	Frames []DataFrame `json:"frames"`
	Error  string      `json:"error,omitempty"`
}

// DataFrame represents a Grafana data frame.
type DataFrame struct {
	Schema DataFrameSchema `json:"schema"`
	Data   DataFrameData   `json:"data"`
}

// DataFrameSchema contains metadata about a data frame.
type DataFrameSchema struct {
	Name   string           `json:"name,omitempty"`
	Fields []DataFrameField `json:"fields"`
}

// DataFrameField represents a field in a data frame schema.
type DataFrameField struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
}

// DataFrameData contains the actual values. The first array holds
// timestamps, subsequent arrays hold values.
type DataFrameData struct {
	Values [][]interface{} `json:"values"`
}

// QueryMetrics executes a PromQL expression via Grafana's /api/ds/query
// endpoint against the given datasource.
func (c *Client) QueryMetrics(ctx context.Context, datasourceUID, expr string, from, to time.Time) (*QueryResponse, error) {
	reqBody := queryRequest{
		Queries: []query{
			{
				RefID:         "A",
				Datasource:    queryDatasource{UID: datasourceUID},
				Expr:          expr,
				Format:        "time_series",
				MaxDataPoints: 100,
				IntervalMs:    1000,
			},
		},
		From: strconv.FormatInt(from.UnixMilli(), 10),
		To:   strconv.FormatInt(to.UnixMilli(), 10),
	}

	var result QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/ds/query", reqBody, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("Executed metric query against datasource %s", datasourceUID)
	return &result, nil
}

// QueryLogs executes a LogQL expression via Grafana's /api/ds/query
// endpoint against the given Loki datasource.
func (c *Client) QueryLogs(ctx context.Context, datasourceUID, expr string, from, to time.Time, limit int) (*QueryResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	reqBody := queryRequest{
		Queries: []query{
			{
				RefID:      "A",
				Datasource: queryDatasource{UID: datasourceUID},
				Expr:       expr,
				QueryType:  "range",
				MaxLines:   limit,
			},
		},
		From: strconv.FormatInt(from.UnixMilli(), 10),
		To:   strconv.FormatInt(to.UnixMilli(), 10),
	}

	var result QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/ds/query", reqBody, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("Executed log query against datasource %s", datasourceUID)
	return &result, nil
}

// Alert represents a firing alert from Grafana's alertmanager API.
type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	Status      struct {
		State string `json:"state"`
	} `json:"status"`
}

// ListAlerts retrieves currently firing alerts from Grafana's built-in
// alertmanager.
func (c *Client) ListAlerts(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	if err := c.doJSON(ctx, http.MethodGet, "/api/alertmanager/grafana/api/v2/alerts", nil, &alerts); err != nil {
		return nil, err
	}
	c.logger.Debug("Listed %d alerts from Grafana", len(alerts))
	return alerts, nil
}

// Datasource represents a configured Grafana datasource.
type Datasource struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	IsDefault bool   `json:"isDefault"`
}

// ListDatasources retrieves all datasources from Grafana.
func (c *Client) ListDatasources(ctx context.Context) ([]Datasource, error) {
	var datasources []Datasource
	if err := c.doJSON(ctx, http.MethodGet, "/api/datasources", nil, &datasources); err != nil {
		return nil, err
	}
	c.logger.Debug("Listed %d datasources from Grafana", len(datasources))
	return datasources, nil
}
