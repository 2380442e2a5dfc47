package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// timeRanges maps the relative ranges the model may ask for to a window and a
// query step that keeps result sizes reasonable.
var timeRanges = map[string]struct {
	window time.Duration
	step   time.Duration
}{
	"5m":  {5 * time.Minute, 15 * time.Second},
	"15m": {15 * time.Minute, 30 * time.Second},
	"1h":  {time.Hour, 2 * time.Minute},
	"3h":  {3 * time.Hour, 5 * time.Minute},
	"6h":  {6 * time.Hour, 10 * time.Minute},
	"12h": {12 * time.Hour, 20 * time.Minute},
	"24h": {24 * time.Hour, 30 * time.Minute},
	"7d":  {7 * 24 * time.Hour, 4 * time.Hour},
}

// maxDisplayedSeries caps how many series are rendered for one query.
const maxDisplayedSeries = 20

// QueryMetrics runs a PromQL range query against a VictoriaMetrics (or
// Prometheus-compatible) endpoint from the inventory. Read-only, so the
// approval gate treats it as always safe.
type QueryMetrics struct {
	inv    *inventory.Inventory
	client *http.Client
}

func NewQueryMetrics(inv *inventory.Inventory) *QueryMetrics {
	return &QueryMetrics{
		inv:    inv,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *QueryMetrics) Name() string { return "query_metrics" }

func (t *QueryMetrics) Description() string {
	return "Run a PromQL range query against the fleet's metrics endpoint. " +
		"Ranges: 5m, 15m, 1h, 3h, 6h, 12h, 24h, 7d."
}

func (t *QueryMetrics) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "PromQL expression, e.g. rate(node_cpu_seconds_total[5m])"
			},
			"range": {
				"type": "string",
				"description": "Relative time range (default 1h)"
			},
			"server": {
				"type": "string",
				"description": "Server whose metrics_url to query; defaults to the first server with one"
			}
		},
		"required": ["query"]
	}`)
}

func (t *QueryMetrics) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	query, err := stringField(input, "query")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	rangeName := optionalString(input, "range", "1h")
	tr, ok := timeRanges[rangeName]
	if !ok {
		return failf(2, "Unknown time range %q; use one of: %s", rangeName, strings.Join(rangeNames(), ", ")), nil
	}

	base := t.resolveEndpoint(optionalString(input, "server", ""))
	if base == "" {
		return failf(1, "No metrics endpoint configured in the inventory"), nil
	}

	now := time.Now()
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(now.Add(-tr.window).Unix(), 10))
	params.Set("end", strconv.FormatInt(now.Unix(), 10))
	params.Set("step", strconv.Itoa(int(tr.step.Seconds())))

	endpoint := strings.TrimRight(base, "/") + "/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failf(1, "Invalid metrics URL: %v", err), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return failf(1, "Metrics query failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return failf(1, "Metrics query failed reading response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return failf(1, "Metrics endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil
	}
	return formatRangeResponse(body, rangeName)
}

// resolveEndpoint picks the metrics URL: the named server's, or the first
// inventory entry that has one.
func (t *QueryMetrics) resolveEndpoint(serverName string) string {
	if serverName != "" {
		if s, ok := t.inv.Server(serverName); ok {
			return s.MetricsURL
		}
		return ""
	}
	for _, name := range t.inv.Names() {
		if u := t.inv.Servers[name].MetricsURL; u != "" {
			return u
		}
	}
	return ""
}

type rangeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Values [][2]any          `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

func formatRangeResponse(body []byte, rangeName string) (*ToolResult, error) {
	var parsed rangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return failf(1, "Metrics endpoint returned invalid JSON: %v", err), nil
	}
	if parsed.Status != "success" {
		return failf(1, "Metrics query error: %s", parsed.Error), nil
	}
	if len(parsed.Data.Result) == 0 {
		return &ToolResult{Output: "No series matched the query."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d series over %s:\n", len(parsed.Data.Result), rangeName)
	shown := parsed.Data.Result
	if len(shown) > maxDisplayedSeries {
		shown = shown[:maxDisplayedSeries]
	}
	for _, series := range shown {
		first, last, min, max := summarizeValues(series.Values)
		fmt.Fprintf(&b, "%s: first=%s last=%s min=%s max=%s (%d points)\n",
			formatMetric(series.Metric), first, last, min, max, len(series.Values))
	}
	if len(parsed.Data.Result) > maxDisplayedSeries {
		fmt.Fprintf(&b, "... (%d more series not shown)\n", len(parsed.Data.Result)-maxDisplayedSeries)
	}
	return &ToolResult{Output: strings.TrimRight(b.String(), "\n")}, nil
}

func summarizeValues(values [][2]any) (first, last, min, max string) {
	first, last, min, max = "n/a", "n/a", "n/a", "n/a"
	var minV, maxV float64
	seen := false
	for i, pair := range values {
		s, ok := pair[1].(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		if i == 0 || first == "n/a" {
			first = s
		}
		last = s
		if !seen || v < minV {
			minV = v
			min = s
		}
		if !seen || v > maxV {
			maxV = v
			max = s
		}
		seen = true
	}
	return first, last, min, max
}

func formatMetric(labels map[string]string) string {
	name := labels["__name__"]
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if k != "__name__" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		if name == "" {
			return "{}"
		}
		return name
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ","))
}

func rangeNames() []string {
	names := make([]string, 0, len(timeRanges))
	for name := range timeRanges {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return timeRanges[names[i]].window < timeRanges[names[j]].window
	})
	return names
}
