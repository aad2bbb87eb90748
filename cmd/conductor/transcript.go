package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript [session-id]",
	Short: "List recorded sessions, or show the decisions of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTranscript,
}

var (
	transcriptLimit int
	transcriptFull  bool
)

func init() {
	transcriptCmd.Flags().IntVar(&transcriptLimit, "limit", 20, "Number of sessions to list")
	transcriptCmd.Flags().BoolVar(&transcriptFull, "full", false, "Print full request and response bodies")
}

// truncate flattens s onto one line and cuts it to n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func runTranscript(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg, os.Stderr)

	transcript, err := openTranscript(cfg)
	if err != nil {
		return err
	}
	if transcript == nil {
		return errors.New("transcripts are disabled (memory.type is none)")
	}
	defer transcript.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if len(args) == 0 {
		sessions, err := transcript.ListSessions(transcriptLimit)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		fmt.Fprintln(w, "ID\tSTARTED\tOUTCOME\tINDUSTRY\tQUERY")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Outcome, s.Industry, truncate(s.Query, 50))
		}
		return nil
	}

	decisions, err := transcript.Decisions(args[0])
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}
	if len(decisions) == 0 {
		return fmt.Errorf("no decisions recorded for session %s", args[0])
	}

	if transcriptFull {
		w.Flush()
		for _, d := range decisions {
			fmt.Printf("== iteration %d · %s · %v\n", d.Iteration, d.Kind, d.Duration)
			fmt.Printf("-- request\n%s\n-- response\n%s\n", d.Request, d.Response)
			if d.Error != "" {
				fmt.Printf("-- error\n%s\n", d.Error)
			}
			fmt.Println()
		}
		return nil
	}

	fmt.Fprintln(w, "ITER\tKIND\tDURATION\tRESULT")
	for _, d := range decisions {
		result := truncate(d.Response, 60)
		if d.Error != "" {
			result = "error: " + truncate(d.Error, 53)
		}
		fmt.Fprintf(w, "%d\t%s\t%v\t%s\n", d.Iteration, d.Kind, d.Duration, result)
	}
	return nil
}
