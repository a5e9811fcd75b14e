// Command research runs one deep research request in-process and prints the
// report to stdout. Progress goes to stderr.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sparka-ai/deepresearch/internal/app"
	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/research"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		noClarify  bool
		searchAPI  string
		maxUnits   int
		asJSON     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "research [question]",
		Short: "Run a deep research request and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			} else {
				_ = godotenv.Load()
			}
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			conf, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("search") {
				conf.DeepResearch.SearchAPI = searchAPI
			}
			if noClarify {
				conf.DeepResearch.AllowClarification = false
			}
			if maxUnits > 0 {
				conf.DeepResearch.MaxResearchUnits = maxUnits
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			components, err := app.Build(ctx, conf, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			question := strings.Join(args, " ")
			progress := cmd.ErrOrStderr()
			opts := research.AgentOptions{
				Config:  conf.Runtime(),
				Emitter: research.NewEmitter(uuid.NewString(), func(u research.Update) { printUpdate(progress, u) }),
			}
			res, err := components.Pipeline.Run(ctx, opts, research.Input{
				MessageID: uuid.NewString(),
				Messages:  []llm.Message{{Role: llm.RoleUser, Content: question}},
			})
			if err != nil {
				if errors.Is(err, research.ErrCancelled) {
					fmt.Fprintln(progress, "research cancelled")
				}
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "path to research.yaml (default CONFIG_PATH or config/research.yaml)")
	f.StringVar(&envFile, "env-file", "", "load environment variables from this file")
	f.BoolVar(&noClarify, "no-clarify", false, "never ask a clarifying question")
	f.StringVar(&searchAPI, "search", "auto", "search provider: auto, firecrawl, tavily or none")
	f.IntVar(&maxUnits, "max-units", 0, "cap on planned research units (0 keeps the configured value)")
	f.BoolVar(&asJSON, "json", false, "print the result envelope as JSON")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

// printUpdate renders progress. Writing chunks are not echoed since the
// report is printed once complete.
func printUpdate(w io.Writer, u research.Update) {
	h := u.Header()
	switch v := u.(type) {
	case research.Web:
		fmt.Fprintf(w, "[web] %s: %s (%d results)\n", h.Title, strings.Join(v.Queries, "; "), len(v.Results))
	case research.Thoughts:
		fmt.Fprintf(w, "[thoughts] %s\n", h.Title)
	case research.Problem:
		fmt.Fprintf(w, "[problem] %s: %s\n", h.Title, v.Error)
	case research.Writing:
	default:
		fmt.Fprintf(w, "[%s] %s\n", u.Kind(), h.Title)
	}
}

func printResult(w io.Writer, res *research.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	switch res.Type {
	case research.ResultClarifyingQuestion:
		_, err := fmt.Fprintf(w, "Clarifying question: %s\n", res.Question)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s\n\nDocument: %s\n", res.Report.Content, res.Report.ID)
		return err
	}
}
