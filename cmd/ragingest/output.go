package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/pkg/pipeline"
)

const previewLength = 500

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("sources"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

type sourceSummary struct {
	source string
	docs   int
	chars  int
}

// summarize groups documents by source, keeping first-seen order.
func summarize(docs []models.Document) []sourceSummary {
	index := map[string]int{}
	var out []sourceSummary
	for _, d := range docs {
		src := d.Meta.Source()
		i, ok := index[src]
		if !ok {
			i = len(out)
			index[src] = i
			out = append(out, sourceSummary{source: src})
		}
		out[i].docs++
		out[i].chars += d.Meta.ContentLength
	}
	return out
}

func printResult(res *pipeline.Result, failed []string) {
	for _, s := range summarize(res.Documents) {
		color.Green("  ✓ %s: %d document(s), %d chars", s.source, s.docs, s.chars)
	}

	sort.Strings(failed)
	for _, f := range failed {
		color.Red("  ✗ %s", f)
	}
	for _, skipped := range res.Skipped {
		color.Yellow("  skipped: %v", skipped)
	}

	color.Green("\n✓ Loaded %d documents into %d chunks\n", len(res.Documents), len(res.Chunks))
}

func printDebugDocument(doc models.Document) {
	preview := doc.Content
	if runes := []rune(preview); len(runes) > previewLength {
		preview = string(runes[:previewLength]) + "..."
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s %s\n", bold("URL:"), doc.Meta.SourceURL)
	fmt.Printf("%s %s\n", bold("Title:"), doc.Meta.Title)
	fmt.Printf("%s %s\n", bold("Extraction:"), doc.Meta.ExtractionMethod)
	fmt.Printf("%s %d\n", bold("Length:"), doc.Meta.ContentLength)
	fmt.Printf("%s %s\n", bold("Content hash:"), doc.Meta.ContentHash)
	fmt.Printf("\n%s\n%s\n", bold("Preview:"), strings.TrimSpace(preview))
}
