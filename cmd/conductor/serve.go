package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rahul/conductor/internal/conductor"
	"github.com/rahul/conductor/internal/gateway"
	"github.com/rahul/conductor/internal/governance"
	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/pkg/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enabled chat gateways",
	RunE:  runServe,
}

var serveNoDashboard bool

func init() {
	serveCmd.Flags().BoolVar(&serveNoDashboard, "no-dashboard", false, "Disable the banner and live status line")
}

func newPolicy(cfg *config.Config) *governance.DefaultPolicyEngine {
	gov := governance.NewDefaultPolicyEngine()
	gov.MaxTextLength = 2000
	for name, g := range cfg.Gateways {
		gov.AllowChats(name, g.AllowedChats...)
	}
	return gov
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dashboard := !serveNoDashboard
	if dashboard {
		observability.PrintBanner()
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
		// Route all log output through the terminal mutex so it never
		// interrupts the dashboard's cursor save/restore sequence.
		initLogging(cfg, observability.NewTermWriter())
	} else {
		initLogging(cfg, os.Stderr)
	}

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
	router := gateway.NewRouter(func() gateway.Runner {
		return conductor.New(decider, opts)
	}, newPolicy(cfg))

	var messengers []gateway.Messenger
	if tg, ok := cfg.GetTelegramConfig(); ok {
		m, err := gateway.NewTelegramGateway(tg.Token)
		if err != nil {
			return err
		}
		messengers = append(messengers, m)
	}
	if dc, ok := cfg.GetDiscordConfig(); ok {
		m, err := gateway.NewDiscordGateway(dc.Token)
		if err != nil {
			return err
		}
		messengers = append(messengers, m)
	}
	if len(messengers) == 0 {
		return errors.New("no chat gateway is enabled in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dashboard {
		go func() {
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					observability.PrintLiveStatus()
				}
			}
		}()
	}

	observability.Heartbeat()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				events.LogHeartbeat()
			}
		}
	}()

	var wg sync.WaitGroup
	for _, m := range messengers {
		wg.Add(1)
		go func(m gateway.Messenger) {
			defer wg.Done()
			observability.Info().Add(observability.Str("gateway", m.Name())).Msg("gateway online")
			if err := m.Start(ctx, router.Handle); err != nil {
				observability.Error().
					Add(observability.Str("gateway", m.Name())).
					Add(observability.ErrorField(err)).
					Msg("gateway stopped")
			}
		}(m)
	}

	<-ctx.Done()
	observability.Info().Msg("shutting down")
	for _, m := range messengers {
		m.Stop()
	}
	wg.Wait()
	router.Wait()
	return nil
}
