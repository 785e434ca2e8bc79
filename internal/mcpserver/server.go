// Package mcpserver exposes the automation operations as MCP tools, over
// stdio for local agents or streamable HTTP mounted on the API.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"autoblog/internal/appinfo"
	"autoblog/internal/automation"
	"autoblog/internal/errlog"
	"autoblog/internal/runner"
	"autoblog/internal/usage"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Runner is the trigger surface of the run executor.
type Runner interface {
	RunNow(ctx context.Context, id string) (runner.Result, error)
	RetryLast(ctx context.Context) (runner.RetryOutcome, error)
}

type Deps struct {
	Store  *automation.Store
	Runner Runner
	Usage  *usage.Meter
	Errors *errlog.Log
	Runs   *runner.RunLog
	Now    func() time.Time
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	mcp    *mcp.Server
}

func New(deps Deps, logger zerolog.Logger) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		deps:   deps,
		logger: logger.With().Str("component", "mcp").Logger(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    appinfo.Name,
		Version: appinfo.Version,
	}, nil)
	s.registerTools()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves the tools over stdio until ctx is done or the client hangs up.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Msg("mcp server starting on stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the same tools over streamable HTTP.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_automations",
		Description: "List scheduled content automations with their computed next_run.",
	}, s.listAutomations)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "due_automations",
		Description: "List active automations whose next_run has passed.",
	}, s.dueAutomations)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_automation",
		Description: "Create a one-shot or recurring (daily, weekly, monthly) article automation.",
	}, s.createAutomation)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "set_automation_status",
		Description: "Set an automation to active, paused or completed.",
	}, s.setStatus)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_automation",
		Description: "Generate and publish the article for an automation now.",
	}, s.runAutomation)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_runs",
		Description: "List recent runs, newest first, optionally for one automation.",
	}, s.listRuns)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "usage_summary",
		Description: "Daily, monthly and total usage with the price table.",
	}, s.usageSummary)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recent_errors",
		Description: "Recent generation errors, newest first.",
	}, s.recentErrors)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retry_last_error",
		Description: "Replay the newest logged error.",
	}, s.retryLastError)
}

type emptyInput struct{}

type listInput struct {
	Status string `json:"status,omitempty" jsonschema:"only return automations with this status"`
}

type idInput struct {
	ID string `json:"id" jsonschema:"automation id"`
}

type createInput struct {
	Topic     string `json:"topic" jsonschema:"what the article is about"`
	Title     string `json:"title,omitempty" jsonschema:"display title, derived from the topic when empty"`
	Festival  string `json:"festival,omitempty" jsonschema:"festival or occasion to tag the article with"`
	Type      string `json:"type" jsonschema:"once or recurring"`
	Date      string `json:"date" jsonschema:"first run date, YYYY-MM-DD"`
	Time      string `json:"time,omitempty" jsonschema:"local time of day, HH:MM, defaults to 09:00"`
	Frequency string `json:"frequency,omitempty" jsonschema:"daily, weekly or monthly for recurring automations"`
}

type statusInput struct {
	ID     string `json:"id" jsonschema:"automation id"`
	Status string `json:"status" jsonschema:"active, paused or completed"`
}

type runsInput struct {
	AutomationID string `json:"automation_id,omitempty" jsonschema:"only runs of this automation"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum number of runs, default 20"`
}

type errorsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of entries, default 20"`
}

func (s *Server) listAutomations(ctx context.Context, _ *mcp.CallToolRequest, in listInput) (*mcp.CallToolResult, any, error) {
	entries, err := s.deps.Store.List(ctx)
	if err != nil {
		return s.failure("list_automations", err), nil, nil
	}
	if want := automation.Status(strings.TrimSpace(in.Status)); want != "" {
		filtered := make([]automation.Entry, 0, len(entries))
		for _, e := range entries {
			if e.Status == want {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	return jsonResult(map[string]any{"automations": entries}), nil, nil
}

func (s *Server) dueAutomations(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	entries, err := s.deps.Store.Due(ctx, s.deps.Now())
	if err != nil {
		return s.failure("due_automations", err), nil, nil
	}
	return jsonResult(map[string]any{"automations": entries}), nil, nil
}

func (s *Server) createAutomation(ctx context.Context, _ *mcp.CallToolRequest, in createInput) (*mcp.CallToolResult, any, error) {
	entry, err := s.deps.Store.Create(ctx, automation.Entry{
		Title:    strings.TrimSpace(in.Title),
		Topic:    strings.TrimSpace(in.Topic),
		Festival: strings.TrimSpace(in.Festival),
		Schedule: automation.Schedule{
			Type:      automation.ScheduleType(strings.TrimSpace(in.Type)),
			Date:      strings.TrimSpace(in.Date),
			Time:      strings.TrimSpace(in.Time),
			Frequency: automation.Frequency(strings.TrimSpace(in.Frequency)),
		},
	})
	if err != nil {
		return s.failure("create_automation", err), nil, nil
	}
	return jsonResult(entry), nil, nil
}

func (s *Server) setStatus(ctx context.Context, _ *mcp.CallToolRequest, in statusInput) (*mcp.CallToolResult, any, error) {
	entry, err := s.deps.Store.SetStatus(ctx, in.ID, automation.Status(strings.TrimSpace(in.Status)))
	if err != nil {
		return s.failure("set_automation_status", err), nil, nil
	}
	return jsonResult(entry), nil, nil
}

func (s *Server) runAutomation(ctx context.Context, _ *mcp.CallToolRequest, in idInput) (*mcp.CallToolResult, any, error) {
	res, err := s.deps.Runner.RunNow(context.WithoutCancel(ctx), strings.TrimSpace(in.ID))
	if err != nil {
		return s.failure("run_automation", err), nil, nil
	}
	return jsonResult(res), nil, nil
}

func (s *Server) listRuns(ctx context.Context, _ *mcp.CallToolRequest, in runsInput) (*mcp.CallToolResult, any, error) {
	runs, err := s.deps.Runs.List(ctx, in.AutomationID, limitOrDefault(in.Limit))
	if err != nil {
		return s.failure("list_runs", err), nil, nil
	}
	return jsonResult(map[string]any{"runs": runs}), nil, nil
}

func (s *Server) usageSummary(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	summary, err := s.deps.Usage.Summary(ctx)
	if err != nil {
		return s.failure("usage_summary", err), nil, nil
	}
	return jsonResult(summary), nil, nil
}

func (s *Server) recentErrors(ctx context.Context, _ *mcp.CallToolRequest, in errorsInput) (*mcp.CallToolResult, any, error) {
	entries, err := s.deps.Errors.Recent(ctx, limitOrDefault(in.Limit))
	if err != nil {
		return s.failure("recent_errors", err), nil, nil
	}
	return jsonResult(map[string]any{"errors": entries}), nil, nil
}

func (s *Server) retryLastError(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	out, err := s.deps.Runner.RetryLast(context.WithoutCancel(ctx))
	if err != nil {
		return s.failure("retry_last_error", err), nil, nil
	}
	return jsonResult(out), nil, nil
}

// failure reports a tool error to the client instead of a protocol error, so
// the calling agent can read the message.
func (s *Server) failure(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn().Err(err).Str("tool", tool).Msg("tool call failed")
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "encode result: " + err.Error()}},
		}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}
