package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "resume":
		return runResume(args[1:])
	case "classify":
		return runClassify(args[1:])
	case "reclassify":
		return runReclassify(args[1:])
	case "delete-item":
		return runDeleteItem(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "fusion CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fusion <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health       Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest       Run one ingestion pass over enabled sources")
	fmt.Fprintln(os.Stderr, "  resume       Re-drive items left NEW or PROCESSING by a crash")
	fmt.Fprintln(os.Stderr, "  classify     Classify a title and content without storing anything")
	fmt.Fprintln(os.Stderr, "  reclassify   Re-run classification for one canonical content row")
	fmt.Fprintln(os.Stderr, "  delete-item  Soft delete an item and repair its story leader")
	fmt.Fprintln(os.Stderr, "  serve        Start the admin API and ingestion schedules")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"fusion <command> -h\" for command-specific flags.")
}
