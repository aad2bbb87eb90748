package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rahul/conductor/internal/conductor"
	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/internal/plan"
	"github.com/rahul/conductor/internal/sidebar"
	"github.com/rahul/conductor/internal/tui"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and execute one request",
	RunE:  runSession,
}

var (
	runIndustry      string
	runUseCase       string
	runQuery         string
	runTUI           bool
	runHTML          string
	runMaxIterations int
)

func init() {
	runCmd.Flags().StringVar(&runIndustry, "industry", "", "Industry of the request (required)")
	runCmd.Flags().StringVar(&runUseCase, "use-case", "", "Use case of the request (required)")
	runCmd.Flags().StringVar(&runQuery, "query", "", "The question to answer (required)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live terminal view")
	runCmd.Flags().StringVar(&runHTML, "html", "", "Write the HTML sidebar to this file after every update")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", -1, "Override loop.max_iterations (0 = unbounded)")
	runCmd.MarkFlagRequired("industry")
	runCmd.MarkFlagRequired("use-case")
	runCmd.MarkFlagRequired("query")
}

// printer writes narration and the terminal sidebar to stdout.
type printer struct{}

func (printer) OnSnapshot(snap plan.Snapshot) {
	fmt.Print(sidebar.RenderTerminal(snap, 0))
}

func (printer) OnNarration(n conductor.Narration) {
	fmt.Printf("[%s] %s\n", n.Phase, n.Text)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logOut := os.Stderr
	if runTUI {
		// The alt screen owns the terminal; logs go to a file instead.
		dir := filepath.Join(cfg.App.Workspace, "logs")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "conductor.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	initLogging(cfg, logOut)

	transcript, err := openTranscript(cfg)
	if err != nil {
		return err
	}
	if transcript != nil {
		defer transcript.Close()
	}

	events := newEvents(cfg)
	decider, err := newDecider(cfg, events)
	if err != nil {
		return err
	}

	opts := conductorOptions(cfg, events, transcript)
	if runMaxIterations >= 0 {
		opts.MaxIterations = runMaxIterations
	}
	c := conductor.New(decider, opts)

	var observers []conductor.Observer
	if runHTML != "" {
		observers = append(observers, sidebar.HTMLFile{Path: runHTML})
	}

	scenario := plan.Scenario{Industry: runIndustry, UseCase: runUseCase, Query: runQuery}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res conductor.Result
	if runTUI {
		res, err = tui.Run(ctx, c, scenario, observers...)
		if err != nil {
			return err
		}
	} else {
		res, _ = c.Run(ctx, scenario, append(observers, printer{})...)
	}

	observability.Info().
		Add(observability.SessionID(res.SessionID)).
		Add(observability.Str("outcome", string(res.Outcome))).
		Add(observability.Int("iterations", res.Iterations)).
		Msg("session finished")

	switch res.Outcome {
	case conductor.OutcomeCompleted:
		if !runTUI && res.Summary != "" {
			fmt.Println()
			fmt.Println(res.Summary)
		}
		return nil
	case conductor.OutcomeCancelled:
		return errors.New("plan cancelled")
	default:
		if res.Err != nil {
			return fmt.Errorf("could not continue the plan: %w", res.Err)
		}
		return errors.New("could not continue the plan")
	}
}
