package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/draftforge-labs/resumepipeline/eventbus"
	"github.com/draftforge-labs/resumepipeline/pipecore/archive"
	"github.com/draftforge-labs/resumepipeline/pipecore/capability"
	"github.com/draftforge-labs/resumepipeline/pipecore/completion"
	"github.com/draftforge-labs/resumepipeline/pipecore/config"
	"github.com/draftforge-labs/resumepipeline/pipecore/document"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/observability"
	"github.com/draftforge-labs/resumepipeline/pipecore/prompt"
	"github.com/draftforge-labs/resumepipeline/pipecore/runmgr"
)

var (
	// run command flags
	runResume        string
	runJob           string
	runOut           string
	runArchive       string
	runOffline       bool
	runMaxIterations int
)

// offlineRejections is how many drafts the canned reviewer rejects in
// offline mode, so a full revision cycle is visible without an API key.
const offlineRejections = 1

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runResume, "resume", "", "resume document (txt, pdf or docx); relative paths resolve under documents.root")
	runCmd.Flags().StringVar(&runJob, "job", "", "job posting document; relative paths resolve under documents.root")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the optimized resume to this file instead of stdout")
	runCmd.Flags().StringVar(&runArchive, "archive", "", "archive the finished run into this sqlite database")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "use canned model responses instead of the Gemini API")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override the revision loop ceiling (0 keeps the plan's value)")
	_ = runCmd.MarkFlagRequired("resume")
	_ = runCmd.MarkFlagRequired("job")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline against a resume and a job posting",
	Long: `Run the pipeline end to end. Progress goes to stderr, structured logs
to the configured logger, and the optimized resume to stdout or --out.

A run that exhausts its revision loop still publishes the last draft; the
exhaustion is reported as a warning on stderr, not a failure.

Examples:
  # Against the Gemini API (needs GEMINI_API_KEY or provider.api_key)
  resumepipeline run --resume resume.pdf --job posting.txt

  # Without network access, using canned model responses
  resumepipeline run --offline --resume resume.txt --job posting.txt

  # Cap the revision loop and write the result to a file
  resumepipeline run --resume resume.docx --job posting.pdf --max-iterations 2 --out optimized.txt`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	applyRunOverrides(cfg, runOffline, runMaxIterations)
	if runArchive != "" {
		cfg.Archive.Enabled = true
		cfg.Archive.Path = runArchive
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		stop, err := startTelemetry(cfg.Telemetry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	provider, err := buildProvider(ctx, cfg.Provider, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(logger)
	bus.AddMiddleware(eventbus.NewLoggingMiddleware(logger))
	subscribeProgress(bus, os.Stderr)

	var archiver archive.Archiver
	if cfg.Archive.Enabled {
		db, err := archive.OpenSQLite(cfg.Archive.Path, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		archiver = db
	}

	runner, err := config.BuildRunner(&cfg.Plan, config.BuildDeps{
		Completion:   provider,
		Documents:    document.NewFileSource(cfg.Documents.Root, logger),
		Prompts:      prompt.Builtin(),
		DefaultModel: cfg.Provider.DefaultModel,
		Logger:       logger,
		Events:       eventbus.NewSink(bus),
	})
	if err != nil {
		return err
	}

	mgr := runmgr.New(runmgr.Config{
		MaxConcurrent: cfg.Runs.MaxConcurrent,
		Archiver:      archiver,
		Bus:           bus,
		Logger:        logger,
	})

	run, err := mgr.Execute(ctx, runmgr.Request{
		Runner: runner,
		Seeds:  map[string]any{"resume_ref": runResume, "job_ref": runJob},
	})
	if err != nil {
		return err
	}

	for _, w := range run.Report.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w.String())
	}

	key := finalArtifactKey(&cfg.Plan)
	if key == "" {
		fmt.Fprintf(os.Stderr, "run %s finished: %s\n", run.ID, run.Status)
		return nil
	}
	text, ok := run.Snapshot.Values[key].(string)
	if !ok {
		return fmt.Errorf("run finished but %q is missing from the store", key)
	}
	return writeResult(runOut, text)
}

// applyRunOverrides folds command-line choices into loaded settings before
// validation. Offline forces the scripted provider; a positive iteration
// ceiling overrides every loop in the plan.
func applyRunOverrides(cfg *config.Settings, offline bool, maxIterations int) {
	if offline {
		cfg.Provider.Kind = config.ProviderScripted
	}
	if maxIterations > 0 {
		for i := range cfg.Plan.Loops {
			cfg.Plan.Loops[i].MaxIterations = maxIterations
		}
	}
}

// buildProvider selects the completion backend. Scripted is the offline
// backend: canned responses keyed to the builtin prompts.
func buildProvider(ctx context.Context, ps config.ProviderSettings, logger logging.Logger) (capability.CompletionProvider, error) {
	switch ps.Kind {
	case config.ProviderScripted:
		return completion.NewOffline(offlineRejections), nil

	case config.ProviderGemini:
		gemini, err := completion.NewGemini(ctx, completion.GeminiConfig{
			APIKey:       ps.APIKey,
			DefaultModel: ps.DefaultModel,
		}, logger)
		if err != nil {
			return nil, err
		}
		if ps.RequestsPerMinute > 0 {
			return completion.NewRateLimited(gemini, ps.RequestsPerMinute, logger), nil
		}
		return gemini, nil

	default:
		return nil, fmt.Errorf("unknown provider kind %q", ps.Kind)
	}
}

// startTelemetry serves Prometheus metrics and wires the OTLP trace
// exporter. The returned function flushes traces and stops the listener.
func startTelemetry(ts config.TelemetrySettings, logger logging.Logger) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ts.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_listener_failed", "error", err.Error())
		}
	}()
	logger.Info("metrics_listening", "addr", ts.MetricsAddr)

	shutdownTracer, err := observability.InitTracer("resumepipeline", ts.OTLPEndpoint)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer_shutdown_failed", "error", err.Error())
		}
		_ = srv.Close()
	}, nil
}

// subscribeProgress prints human-readable progress to w while stdout stays
// reserved for the final document.
func subscribeProgress(bus *eventbus.Bus, w io.Writer) {
	bus.Subscribe(eventbus.KindStageSucceeded, func(_ context.Context, e eventbus.Event) error {
		ev := e.(*eventbus.StageSucceeded)
		fmt.Fprintf(w, "  %s done (%dms)\n", ev.Stage, ev.DurationMS)
		return nil
	})
	bus.Subscribe(eventbus.KindStageFailed, func(_ context.Context, e eventbus.Event) error {
		ev := e.(*eventbus.StageFailed)
		fmt.Fprintf(w, "  %s failed after %dms: %s\n", ev.Stage, ev.DurationMS, ev.Error)
		return nil
	})
	bus.Subscribe(eventbus.KindLoopIteration, func(_ context.Context, e eventbus.Event) error {
		ev := e.(*eventbus.LoopIteration)
		fmt.Fprintf(w, "  draft %d reviewed, %d issues open\n", ev.Iteration, ev.OpenIssues)
		return nil
	})
	bus.Subscribe(eventbus.KindLoopFinalized, func(_ context.Context, e eventbus.Event) error {
		ev := e.(*eventbus.LoopFinalized)
		if ev.Clean {
			fmt.Fprintf(w, "  draft accepted after %d iteration(s)\n", ev.Iterations)
		} else {
			fmt.Fprintf(w, "  iteration ceiling hit after %d, publishing the last draft\n", ev.Iterations)
		}
		return nil
	})
}

// finalArtifactKey is the store key holding the pipeline's end product:
// the final key of the plan's last revision loop.
func finalArtifactKey(plan *config.Plan) string {
	if len(plan.Loops) == 0 {
		return ""
	}
	return plan.Loops[len(plan.Loops)-1].FinalKey
}

// writeResult writes the final document to path, or stdout when path is
// empty.
func writeResult(path, text string) error {
	if path == "" {
		fmt.Println(text)
		return nil
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintln(os.Stderr, "wrote", path)
	return nil
}
