package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rahul/conductor/internal/agent"
	"github.com/rahul/conductor/internal/conductor"
	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/internal/store"
	"github.com/rahul/conductor/pkg/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Conductor - multi-agent plan conductor",
	Long: `Conductor turns a request (industry, use case, query) into a plan of agent
tasks and walks it, one dispatch and execution at a time, until the plan reports
completion.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Config file (.json or .yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transcriptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config. A missing default file falls back to built-in
// defaults; a missing file named explicitly is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if errors.Is(err, config.ErrConfigNotFound) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return cfg, err
}

func initLogging(cfg *config.Config, out io.Writer) {
	observability.Init(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: out,
	})
}

// openTranscript returns nil when transcripts are disabled.
func openTranscript(cfg *config.Config) (*store.TranscriptStore, error) {
	if cfg.Memory.Type == "none" || cfg.Memory.Path == "" {
		return nil, nil
	}
	return store.NewTranscriptStore(cfg.Memory.Path)
}

func newEvents(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(nil, filepath.Join(cfg.App.Workspace, "logs"))
}

func newDecider(cfg *config.Config, events *observability.Logger) (agent.Decider, error) {
	name, provider := cfg.GetDefaultProvider()
	if name == "" {
		return nil, errors.New("no enabled provider found in config")
	}
	model, err := agent.NewModel(name, provider)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return agent.NewLLMDecider(model, agent.NewPromptManager(cfg.App.Prompts), events, provider.Model), nil
}

func conductorOptions(cfg *config.Config, events *observability.Logger, transcript *store.TranscriptStore) conductor.Options {
	opts := conductor.OptionsFromConfig(cfg.Loop)
	opts.Events = events
	if transcript != nil {
		opts.Transcript = transcript
	}
	return opts
}
