package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"autoblog/internal/automation"
	"autoblog/internal/docstore"
	"autoblog/internal/errlog"
	"autoblog/internal/runner"
	"autoblog/internal/usage"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	err error
}

func (f *fakeRunner) RunNow(ctx context.Context, id string) (runner.Result, error) {
	if f.err != nil {
		return runner.Result{}, f.err
	}
	return runner.Result{Automation: automation.Entry{ID: id}}, nil
}

func (f *fakeRunner) RetryLast(ctx context.Context) (runner.RetryOutcome, error) {
	return runner.RetryOutcome{}, errlog.ErrEmpty
}

func newTestServer(t *testing.T, r Runner) (*Server, *automation.Store) {
	t.Helper()
	backend, err := docstore.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := automation.NewStore(backend, automation.WithClock(clock))
	if _, err := store.SaveSettings(context.Background(), automation.Settings{Timezone: "UTC"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	return New(Deps{
		Store:  store,
		Runner: r,
		Usage:  usage.NewMeter(backend, usage.DefaultPriceTable(), usage.WithClock(clock)),
		Errors: errlog.New(backend),
		Runs:   runner.NewRunLog(backend),
		Now:    clock,
	}, zerolog.Nop()), store
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.MCP().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, item := range res.Content {
		if text, ok := item.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestToolsAreListed(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	cs := connect(t, s)

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := make(map[string]bool, len(res.Tools))
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{"list_automations", "run_automation", "usage_summary", "recent_errors", "retry_last_error"} {
		if !got[name] {
			t.Fatalf("tool %q not registered; have %v", name, got)
		}
	}
}

func TestCreateAndListOverSession(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	cs := connect(t, s)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name: "create_automation",
		Arguments: map[string]any{
			"topic":     "Lantern festival",
			"type":      "recurring",
			"date":      "2025-01-10",
			"time":      "09:00",
			"frequency": "daily",
		},
	})
	if err != nil {
		t.Fatalf("CallTool create: %v", err)
	}
	if res.IsError {
		t.Fatalf("create returned error: %s", resultText(res))
	}
	var created automation.Entry
	if err := json.Unmarshal([]byte(resultText(res)), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	want := time.Date(2025, 1, 11, 9, 0, 0, 0, time.UTC)
	if created.NextRun == nil || !created.NextRun.Equal(want) {
		t.Fatalf("next_run = %v, want %v", created.NextRun, want)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "list_automations", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool list: %v", err)
	}
	var listed struct {
		Automations []automation.Entry `json:"automations"`
	}
	if err := json.Unmarshal([]byte(resultText(res)), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Automations) != 1 || listed.Automations[0].ID != created.ID {
		t.Fatalf("listed = %+v", listed.Automations)
	}
}

func TestToolFailuresAreToolErrors(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{err: &runner.RunError{
		AutomationID: "gone",
		Stage:        runner.StagePrecondition,
		Err:          automation.ErrNotFound,
	}})
	ctx := context.Background()

	res, _, err := s.runAutomation(ctx, nil, idInput{ID: "gone"})
	if err != nil {
		t.Fatalf("runAutomation protocol error: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(res), "not found") {
		t.Fatalf("result = %+v", res)
	}

	res, _, _ = s.retryLastError(ctx, nil, emptyInput{})
	if !res.IsError || !strings.Contains(resultText(res), errlog.ErrEmpty.Error()) {
		t.Fatalf("retry result = %s", resultText(res))
	}

	res, _, _ = s.createAutomation(ctx, nil, createInput{Type: "once", Date: "2025-01-10"})
	if !res.IsError {
		t.Fatalf("create without topic succeeded: %s", resultText(res))
	}
}

func TestUsageAndErrorsTools(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	ctx := context.Background()
	if _, err := s.deps.Errors.Record(ctx, errors.New("request timed out"), errlog.Context{Action: errlog.ActionGenerateText}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	res, _, _ := s.recentErrors(ctx, nil, errorsInput{})
	var body struct {
		Errors []errlog.Entry `json:"errors"`
	}
	if err := json.Unmarshal([]byte(resultText(res)), &body); err != nil {
		t.Fatalf("decode errors: %v", err)
	}
	if len(body.Errors) != 1 || body.Errors[0].Kind != errlog.KindTimeout {
		t.Fatalf("errors = %+v", body.Errors)
	}

	res, _, _ = s.usageSummary(ctx, nil, emptyInput{})
	var summary usage.Summary
	if err := json.Unmarshal([]byte(resultText(res)), &summary); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if summary.Prices != usage.DefaultPriceTable() {
		t.Fatalf("prices = %+v", summary.Prices)
	}
}
