package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/shelfrec/internal/recommend"
	"github.com/kalambet/shelfrec/internal/refresh"
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
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// writeRecommendations renders a ranked list, one book per block.
func writeRecommendations(w io.Writer, recs recommend.Result) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No recommendations yet. Like some books or run a refresh.")
		return
	}
	for i, r := range recs {
		fmt.Fprintf(w, "%s %s %s [score: %.3f]\n",
			colorize(colorBold, fmt.Sprintf("%2d.", i+1)),
			r.Title,
			colorize(colorCyan, "by "+r.Author),
			r.Score,
		)
		if len(r.Genres) > 0 {
			fmt.Fprintf(w, "    %s\n", strings.Join(r.Genres, ", "))
		}
		fmt.Fprintf(w, "    %s (id %s)\n", r.Reason, r.CatalogID)
	}
}

// writeReport renders a refresh or rebuild outcome with its log.
func writeReport(w io.Writer, rep refresh.Report) {
	status := colorize(colorGreen, rep.Status)
	if rep.Status != "success" {
		status = colorize(colorRed, rep.Status)
	}
	fmt.Fprintf(w, "%s %s: %s\n", colorize(colorBold, rep.Kind), status, rep.Message)
	for _, line := range rep.Log {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if rep.Duration > 0 {
		fmt.Fprintf(w, "  took %s\n", rep.Duration.Round(1e6))
	}
}
