// Command nostrmq-conformance runs the library's conformance scenarios
// and reports pass/fail for each, without requiring a live relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/humansinstitute/nostrMQ/internal/conformance"
)

func main() {
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline for the full scenario run")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	runner := conformance.NewRunner(conformance.AllScenarios()...)
	results := runner.RunAll(ctx)

	failures := 0
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
			failures++
		}
		fmt.Printf("[%s] %-45s %8s  %s\n", status, r.Name, r.Duration.Round(time.Millisecond), r.Detail)
	}

	if failures > 0 {
		log.Printf("nostrmq-conformance: %d/%d scenarios failed", failures, len(results))
		os.Exit(1)
	}
	log.Printf("nostrmq-conformance: all %d scenarios passed", len(results))
}
