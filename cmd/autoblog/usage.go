package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"autoblog/internal/appinfo"
)

func binaryName() string {
	if len(os.Args) == 0 {
		return appinfo.Name
	}
	name := strings.TrimSpace(filepath.Base(os.Args[0]))
	if name == "" {
		return appinfo.Name
	}
	return name
}

func isHelpArg(arg string) bool {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "-h", "--help", "-help", "help":
		return true
	default:
		return false
	}
}

func versionString() string {
	return appinfo.Display()
}

func printRootUsage(w io.Writer) {
	bin := binaryName()
	fmt.Fprintf(w, `%s - scheduled article generation and publishing

Usage:
  %s <command> [options]

Commands:
  serve       HTTP API (and the due poller when enabled)
  run         Run one automation now: run <id>
  list        List automations with their next run
  due         List automations that are due now
  runs        Show the run log
  usage       Show the usage summary
  errors      Show recent errors (-clear to empty the log)
  retry       Retry the newest logged error
  mcp         Serve the MCP tools over stdio
  init        Write a default config.yaml
  version     Print the version

Config:
  - --config defaults to ./config.yaml; a missing file means defaults.
  - Secrets come from the environment or a .env file:
      OPENAI_API_KEY, ANTHROPIC_API_KEY, AUTOBLOG_HTTP_TOKEN, AUTOBLOG_REDIS_URL

Help:
  %s -h
  %s <command> -h
`, bin, bin, bin, bin)
}
