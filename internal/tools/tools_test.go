package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/bastion/internal/inventory"
)

func testInventory(metricsURL string) *inventory.Inventory {
	local := false
	return &inventory.Inventory{
		Servers: map[string]*inventory.ServerEntry{
			"localhost": {Name: "localhost", Role: "bastion", SSH: &local},
			"web-1": {
				Name: "web-1", Host: "10.0.0.11", User: "deploy", Role: "web",
				Services: []string{"nginx", "app"}, MetricsURL: metricsURL,
			},
		},
		Roles: map[string]*inventory.RolePermissions{
			"bastion": {AllowedCommands: []string{"*"}},
			"web":     {AllowedCommands: []string{"uptime"}},
		},
	}
}

func TestAll_NamesAndSchemas(t *testing.T) {
	want := []string{
		"run_local_command", "run_remote_command", "read_file", "list_servers",
		"get_server_status", "docker_ps", "docker_logs", "service_status",
		"service_journal", "query_metrics",
	}
	all := All(testInventory(""))
	if len(all) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(all))
	}
	for i, tool := range all {
		if tool.Name() != want[i] {
			t.Errorf("tool %d = %q, want %q", i, tool.Name(), want[i])
		}
		if tool.Description() == "" {
			t.Errorf("tool %q has no description", tool.Name())
		}
		var schema struct {
			Type       string         `json:"type"`
			Properties map[string]any `json:"properties"`
		}
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Errorf("tool %q schema is not valid JSON: %v", tool.Name(), err)
		}
		if schema.Type != "object" {
			t.Errorf("tool %q schema type = %q", tool.Name(), schema.Type)
		}
	}
}

func TestLocalCommand_Execute(t *testing.T) {
	tool := NewLocalCommand()
	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo bastion"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success() || strings.TrimSpace(res.Output) != "bastion" {
		t.Errorf("unexpected result: %+v", res)
	}

	res, err = tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success() || !strings.Contains(res.Error, "command") {
		t.Errorf("missing parameter should fail in-band: %+v", res)
	}
}

func TestReadFile_Local(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFile(testInventory(""))

	res, err := tool.Execute(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success() || res.Output != "line one\nline two\n" {
		t.Errorf("unexpected result: %+v", res)
	}

	res, _ = tool.Execute(context.Background(), map[string]any{"path": filepath.Join(dir, "missing")})
	if res.Success() || !strings.Contains(res.Error, "File not found") {
		t.Errorf("missing file: %+v", res)
	}

	res, _ = tool.Execute(context.Background(), map[string]any{"path": path, "server": "ghost"})
	if res.Success() || !strings.Contains(res.Error, "Unknown server") {
		t.Errorf("unknown server: %+v", res)
	}
}

func TestReadFile_TruncatesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("a", maxFileBytes+500)), 0o600); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFile(testInventory(""))
	res, err := tool.Execute(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Output, "truncated at") {
		t.Error("expected truncation marker")
	}
	if len(res.Output) > maxFileBytes+100 {
		t.Errorf("output too large: %d", len(res.Output))
	}
}

func TestListServers_Execute(t *testing.T) {
	tool := NewListServers(testInventory("http://metrics:8428"))
	res, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success() {
		t.Fatalf("unexpected failure: %+v", res)
	}
	for _, want := range []string{"localhost", "local (bastion host)", "web-1", "10.0.0.11", "role=web", "services=nginx,app", "metrics=yes"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q:\n%s", want, res.Output)
		}
	}
}

func TestServerStatus_LocalProbes(t *testing.T) {
	tool := NewServerStatus(testInventory(""))
	res, err := tool.Execute(context.Background(), map[string]any{"server": "localhost"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, section := range []string{"== uptime ==", "== disk ==", "== memory =="} {
		if !strings.Contains(res.Output, section) {
			t.Errorf("missing section %q", section)
		}
	}
}

func TestDockerLogs_TailBounds(t *testing.T) {
	tool := NewDockerLogs(testInventory(""))
	for _, tail := range []any{float64(-5), float64(99999)} {
		res, err := tool.Execute(context.Background(), map[string]any{
			"server": "ghost", "container": "app", "tail": tail,
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		// Unknown server short-circuits before any exec; the point here is
		// that out-of-range tails do not panic and fail in-band.
		if res.Success() {
			t.Errorf("expected failure: %+v", res)
		}
	}
}

func TestQueryMetrics_RangeQuery(t *testing.T) {
	var gotPath string
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		fmt.Fprint(w, `{
			"status": "success",
			"data": {"result": [
				{"metric": {"__name__": "up", "instance": "web-1"},
				 "values": [[1700000000, "0"], [1700000060, "1"]]}
			]}
		}`)
	}))
	defer server.Close()

	tool := NewQueryMetrics(testInventory(server.URL))
	res, err := tool.Execute(context.Background(), map[string]any{"query": "up", "range": "5m"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotPath != "/api/v1/query_range" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "up" {
		t.Errorf("query = %q", gotQuery)
	}
	if !res.Success() {
		t.Fatalf("unexpected failure: %+v", res)
	}
	for _, want := range []string{"1 series over 5m", `up{instance="web-1"}`, "first=0", "last=1", "(2 points)"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q:\n%s", want, res.Output)
		}
	}
}

func TestQueryMetrics_BadRangeAndNoEndpoint(t *testing.T) {
	tool := NewQueryMetrics(testInventory(""))
	res, _ := tool.Execute(context.Background(), map[string]any{"query": "up", "range": "42y"})
	if res.Success() || !strings.Contains(res.Error, "Unknown time range") {
		t.Errorf("bad range: %+v", res)
	}
	res, _ = tool.Execute(context.Background(), map[string]any{"query": "up"})
	if res.Success() || !strings.Contains(res.Error, "No metrics endpoint") {
		t.Errorf("no endpoint: %+v", res)
	}
}

func TestQueryMetrics_SeriesCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var results []string
		for i := 0; i < maxDisplayedSeries+5; i++ {
			results = append(results, fmt.Sprintf(
				`{"metric": {"__name__": "up", "instance": "s%d"}, "values": [[1700000000, "1"]]}`, i))
		}
		fmt.Fprintf(w, `{"status": "success", "data": {"result": [%s]}}`, strings.Join(results, ","))
	}))
	defer server.Close()

	tool := NewQueryMetrics(testInventory(server.URL))
	res, err := tool.Execute(context.Background(), map[string]any{"query": "up"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Output, "5 more series not shown") {
		t.Errorf("expected display cap marker:\n%s", res.Output)
	}
}
