// Command replay checks a recorded DeepResearchWorkflow history against the
// current workflow code.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/temporal"
	"github.com/sparka-ai/deepresearch/internal/workflows"
)

func main() {
	historyPath := flag.String("history", "", "Path to Temporal workflow history JSON (temporal workflow show --output json)")
	flag.Parse()

	if *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json")
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflow(workflows.DeepResearchWorkflow)

	// Replay fails on any non-determinism between history and code.
	if err := replayer.ReplayWorkflowHistoryFromJSONFile(temporal.NewLogger(logger), *historyPath); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}
	log.Printf("Replay succeeded for %s", *historyPath)
}
