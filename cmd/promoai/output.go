package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/promoai/internal/conversation"
	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/modelgen"
	"github.com/kalambet/promoai/internal/repair"
	"github.com/kalambet/promoai/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// reportRunFailure explains a failed generate or refine on stderr. The error
// itself is printed by main.
func reportRunFailure(sess *modelgen.Session, err error) {
	var exhausted *repair.ExhaustionError
	var transportErr *engine.TransportError
	var cfgErr *engine.ConfigError
	switch {
	case errors.As(err, &exhausted):
		printWarning("No valid model after %d attempts", exhausted.Attempts)
	case errors.As(err, &transportErr):
		printWarning("Could not reach %s", transportErr.Provider)
	case errors.As(err, &cfgErr):
		printWarning("Check the provider settings (promoai config show)")
	}
	if sess != nil {
		printStatus("Session", "%s (%s)", sess.ID, sess.Status)
		printStatus("Inspect", "promoai show %s --conversation --runs", sess.ID)
	}
}

func printSession(w io.Writer, s *modelgen.Session) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Session"), s.ID)
	fmt.Fprintf(w, "  Title:    %s\n", s.Title)
	fmt.Fprintf(w, "  Status:   %s\n", statusLabel(s.Status))
	fmt.Fprintf(w, "  Source:   %s\n", s.Source)
	if s.Provider != "" {
		fmt.Fprintf(w, "  Model:    %s (%s)\n", s.ModelName, s.Provider)
	}
	fmt.Fprintf(w, "  Updated:  %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	if len(s.Feedback) > 0 {
		fmt.Fprintf(w, "  Feedback:\n")
		for i, f := range s.Feedback {
			fmt.Fprintf(w, "    %d. %s\n", i+1, f)
		}
	}
	if s.Process != nil {
		st := s.Stats
		fmt.Fprintf(w, "  Stats:    %d activities (%d distinct), %d operators, depth %d\n",
			st.Activities, st.Distinct, st.Operators, st.Depth)
		fmt.Fprintf(w, "\n%s\n", s.Tree)
	}
}

func printSessionLine(w io.Writer, s *modelgen.Session) {
	title := s.Title
	if r := []rune(title); len(r) > 60 {
		title = string(r[:60]) + "..."
	}
	fmt.Fprintf(w, "%s  %s  %-8s  %s\n",
		colorize(colorCyan, s.ID[:8]),
		s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		statusLabel(s.Status),
		title,
	)
}

func printConversation(w io.Writer, c *conversation.Conversation) {
	if c == nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Conversation"))
	for i, t := range c.Turns() {
		fmt.Fprintf(w, "\n[%d] %s\n", i+1, colorize(colorCyan, string(t.Role)))
		fmt.Fprintln(w, strings.TrimRight(t.Content, "\n"))
	}
}

func printRuns(w io.Writer, runs []storage.Run) {
	fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Runs"))
	for _, r := range runs {
		fmt.Fprintf(w, "  %s  %-8s %-9s %d attempt(s)  %s/%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Kind, statusLabel(r.Status), r.Attempts, r.Provider, r.Model)
		for i, h := range r.ErrorHistory {
			fmt.Fprintf(w, "      %d. %s\n", i+1, h)
		}
	}
}

func statusLabel(status string) string {
	switch status {
	case storage.StatusReady, storage.StatusSucceeded:
		return colorize(colorGreen, status)
	case storage.StatusFailed:
		return colorize(colorRed, status)
	}
	return status
}
