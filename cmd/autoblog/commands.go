package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"autoblog/internal/api"
	"autoblog/internal/automation"
	"autoblog/internal/config"
	"autoblog/internal/logx"
	"autoblog/internal/mcpserver"
	"autoblog/internal/poller"
	"autoblog/internal/runner"

	"github.com/coreos/go-systemd/v22/daemon"
	"gopkg.in/yaml.v3"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	addr := fs.String("addr", "", "listen address (default: http.addr from config)")
	poll := fs.Bool("poll", false, "run the due poller even when poller.enabled is false")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := a.cfg.HTTP.Addr
	if *addr != "" {
		listen = *addr
	}
	if a.cfg.HTTP.Token == "" {
		a.logger.Warn().Str("addr", listen).Msg("http api has no token; every caller can trigger runs")
	}

	tools := mcpserver.New(a.mcpDeps(), a.logger)
	srv := api.NewServer(listen, a.cfg.HTTP.Token, api.Deps{
		Store:  a.store,
		Runner: a.executor,
		Usage:  a.meter,
		Errors: a.errors,
		Runs:   a.runs,
		MCP:    tools.HTTPHandler(),
	}, a.logger)

	if a.cfg.PollerEnabled() || *poll {
		p, err := poller.New(a.store, a.executor, a.cfg.Poller.Spec, a.logger)
		if err != nil {
			return err
		}
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer p.Stop()
	}

	if _, err := os.Stat(*configPath); err == nil {
		go func() {
			err := config.Watch(ctx, *configPath, a.logger, func(next config.Config) {
				notifySystemd(a.logger, daemon.SdNotifyReloading)
				lvl := logx.SetLevel(next.Log.Level)
				a.logger.Info().Str("level", lvl.String()).Msg("config reloaded; log level applied, other changes need a restart")
				notifySystemd(a.logger, daemon.SdNotifyReady)
			})
			if err != nil {
				a.logger.Warn().Err(err).Msg("config watch disabled")
			}
		}()
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	notifySystemd(a.logger, daemon.SdNotifyReady)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	notifySystemd(a.logger, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s run [options] <automation-id>", binaryName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.executor.RunNow(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if res.Run.UsedFallback {
		fmt.Fprintln(os.Stderr, "notice: some images used a fallback size")
	}
	return printJSON(res)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	fs.Parse(args)

	ctx := context.Background()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	return printEntries(ctx, a, entries)
}

func runDue(args []string) error {
	fs := flag.NewFlagSet("due", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	fs.Parse(args)

	ctx := context.Background()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.store.Due(ctx, time.Now())
	if err != nil {
		return err
	}
	return printEntries(ctx, a, entries)
}

func runRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	automationID := fs.String("automation", "", "only runs of this automation id")
	limit := fs.Int("limit", 20, "maximum number of runs")
	fs.Parse(args)

	ctx := context.Background()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.runs.List(ctx, *automationID, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("(no runs)")
		return nil
	}
	for _, r := range runs {
		outcome := r.URL
		if r.Status != runner.RunSucceeded {
			outcome = fmt.Sprintf("%s: %s", r.Stage, r.Error)
		}
		fmt.Printf("%s  %-5s  %s  %s\n", r.StartedAt.Local().Format(time.DateTime), r.Status, r.AutomationID, outcome)
	}
	return nil
}

func runUsage(args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	fs.Parse(args)

	ctx := context.Background()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.meter.Summary(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runErrors(args []string) error {
	fs := flag.NewFlagSet("errors", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	limit := fs.Int("limit", 20, "maximum number of entries")
	clearLog := fs.Bool("clear", false, "empty the error log")
	fs.Parse(args)

	ctx := context.Background()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if *clearLog {
		return a.errors.Clear(ctx)
	}
	entries, err := a.errors.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("(no errors)")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-14s  %-15s  %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Context.Action, e.Message)
	}
	return nil
}

func runRetry(args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.executor.RetryLast(ctx)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to config.yaml")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	return mcpserver.New(a.mcpDeps(), a.logger).Run(ctx)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "where to write the config")
	force := fs.Bool("force", false, "overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fmt.Printf("%s already exists (use -force to overwrite)\n", *configPath)
		return nil
	}
	data, err := yaml.Marshal(config.DefaultConfig().WithDefaults())
	if err != nil {
		return err
	}
	header := "# Secrets (OPENAI_API_KEY, ANTHROPIC_API_KEY, AUTOBLOG_HTTP_TOKEN) are read from the environment or .env.\n"
	if dir := filepath.Dir(*configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(*configPath, append([]byte(header), data...), 0o644); err != nil {
		return err
	}
	fmt.Println("wrote", *configPath)
	return nil
}

func (a *app) mcpDeps() mcpserver.Deps {
	return mcpserver.Deps{
		Store:  a.store,
		Runner: a.executor,
		Usage:  a.meter,
		Errors: a.errors,
		Runs:   a.runs,
	}
}

func printEntries(ctx context.Context, a *app, entries []automation.Entry) error {
	if len(entries) == 0 {
		fmt.Println("(no automations)")
		return nil
	}
	settings, err := a.store.Settings(ctx)
	if err != nil {
		return err
	}
	loc := settings.Location()
	for _, e := range entries {
		next := "-"
		if e.NextRun != nil {
			next = e.NextRun.In(loc).Format("2006-01-02 15:04")
		}
		schedule := string(e.Schedule.Type)
		if e.Schedule.Type == automation.ScheduleRecurring {
			schedule = string(e.Schedule.Frequency)
		}
		fmt.Printf("%s  %-9s  %-7s  %-16s  %s\n", e.ID, e.Status, schedule, next, e.Title)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
