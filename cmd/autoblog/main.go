package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 || isHelpArg(os.Args[1]) {
		printRootUsage(os.Stdout)
		return
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(args)
	case "run":
		err = runRun(args)
	case "list":
		err = runList(args)
	case "due":
		err = runDue(args)
	case "runs":
		err = runRuns(args)
	case "usage":
		err = runUsage(args)
	case "errors":
		err = runErrors(args)
	case "retry":
		err = runRetry(args)
	case "mcp":
		err = runMCP(args)
	case "init":
		err = runInit(args)
	case "version":
		fmt.Println(versionString())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printRootUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
