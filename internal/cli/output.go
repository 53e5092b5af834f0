package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/membrane-ai/membrane/internal/model"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func isColorEnabled() bool {
	return os.Getenv("NO_COLOR") == ""
}

func colorize(color, text string) string {
	if !isColorEnabled() {
		return text
	}
	return color + text + colorReset
}

func printOK(msg string) {
	fmt.Println(colorize(colorGreen, "  ✓ ") + msg)
}

func printWarn(msg string) {
	fmt.Println(colorize(colorYellow, "  ! ") + msg)
}

func printFail(msg string) {
	fmt.Println(colorize(colorRed, "  ✗ ") + msg)
}

func printRecord(rec model.MemoryRecord) {
	fmt.Println()
	fmt.Printf("  %s\n", colorize(colorDim, rec.ID.String()))
	fmt.Printf("  Importance: %.2f  Created: %s\n", rec.ImportanceScore, formatTime(rec.CreatedAt))
	if rec.SimilarityScore > 0 {
		fmt.Printf("  Similarity: %.3f\n", rec.SimilarityScore)
	}
	for _, line := range strings.Split(rec.Content, "\n") {
		fmt.Printf("  %s\n", line)
	}
}

func printResponse(resp *model.QueryResponse) {
	if len(resp.Memories) == 0 {
		printWarn("No memories found.")
		return
	}
	for _, rec := range resp.Memories {
		printRecord(rec)
	}
	fmt.Println()
	fmt.Printf("  %s %d of %d  %s %.1fms  %s %s\n",
		colorize(colorDim, "Showing:"), len(resp.Memories), resp.TotalFound,
		colorize(colorDim, "Query:"), resp.QueryTimeMs,
		colorize(colorDim, "Via:"), strings.Join(resp.ProvidersUsed, ", "),
	)
}

func printStatsMap(title string, stats map[string]any) {
	fmt.Println()
	fmt.Println(colorize(colorBold, "  "+title))
	fmt.Println(colorize(colorDim, "  "+strings.Repeat("─", len(title)+2)))
	for key, value := range stats {
		fmt.Printf("  %-24s %v\n", colorize(colorCyan, key), value)
	}
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
