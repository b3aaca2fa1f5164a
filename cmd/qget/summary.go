package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/italolelis/qget/internal/transfer"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// printSummary writes one line per transfer.
func printSummary(w io.Writer, results []transfer.Result) {
	failed := 0

	for _, res := range results {
		if res.Err != nil {
			failed++

			failColor.Fprint(w, "FAIL ")
			fmt.Fprintf(w, "%s %s ", res.Method, res.URL)
			dimColor.Fprintln(w, res.Err)

			continue
		}

		okColor.Fprint(w, "OK   ")
		fmt.Fprintf(w, "%s %s ", res.Method, res.URL)
		dimColor.Fprintln(w, describe(res))
	}

	if len(results) > 1 {
		fmt.Fprintf(w, "%d transfers, %d failed\n", len(results), failed)
	}
}

// describe summarizes a successful transfer.
func describe(res transfer.Result) string {
	var parts []string

	if res.OutputFile != "" {
		parts = append(parts, "-> "+res.OutputFile)
	}

	parts = append(parts, fmt.Sprintf("HTTP %d", res.StatusCode))

	if res.Method == transfer.Get {
		parts = append(parts, humanize.Bytes(uint64(res.BytesWritten)))
	}

	if n := len(res.Redirects); n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", n, plural(n, "redirect", "redirects")))
	}

	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		parts = append(parts, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String())
	}

	return strings.Join(parts, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}
