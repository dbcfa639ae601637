// Package report renders run results for the terminal.
package report

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"lks_builder/backfill"
	"lks_builder/internal/enhance"
	"lks_builder/internal/htmlexport"
	"lks_builder/internal/images"
	"lks_builder/internal/pipeline"
	"lks_builder/internal/quality"
)

var (
	accent  = lipgloss.Color("#2196F3")
	success = lipgloss.Color("#8BC34A")
	danger  = lipgloss.Color("#e53935")
	muted   = lipgloss.Color("#8a94a6")
)

// Styles groups the lipgloss styles used by every block.
type Styles struct {
	Title lipgloss.Style
	Key   lipgloss.Style
	Value lipgloss.Style
	Good  lipgloss.Style
	Bad   lipgloss.Style
	Muted lipgloss.Style
	Box   lipgloss.Style
}

// DefaultStyles returns the palette used by the CLI.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Key:   lipgloss.NewStyle().Foreground(muted),
		Value: lipgloss.NewStyle().Bold(true),
		Good:  lipgloss.NewStyle().Foreground(success),
		Bad:   lipgloss.NewStyle().Bold(true).Foreground(danger),
		Muted: lipgloss.NewStyle().Foreground(muted).Italic(true),
		Box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
	}
}

type line struct {
	key, value string
	bad        bool
}

func (s Styles) block(title string, lines []line, footer string) string {
	width := 0
	for _, l := range lines {
		if w := lipgloss.Width(l.key); w > width {
			width = w
		}
	}
	var sb strings.Builder
	sb.WriteString(s.Title.Render(title))
	for _, l := range lines {
		sb.WriteString("\n")
		sb.WriteString(s.Key.Width(width + 2).Render(l.key))
		if l.bad {
			sb.WriteString(s.Bad.Render(l.value))
		} else {
			sb.WriteString(s.Value.Render(l.value))
		}
	}
	if footer != "" {
		sb.WriteString("\n")
		sb.WriteString(footer)
	}
	return s.Box.Render(sb.String())
}

// Build renders the outcome of one build run.
func (s Styles) Build(o pipeline.Outcome) string {
	lines := []line{
		{key: "Source", value: filepath.Base(o.Source)},
		{key: "Total SOs (raw)", value: strconv.Itoa(o.Stats.TotalSOsRaw)},
		{key: "Duplicates skipped", value: strconv.Itoa(o.Stats.DuplicatesSkipped)},
		{key: "TRAS removed", value: strconv.Itoa(o.Stats.TrasRemoved)},
		{key: "SOs after TRAS", value: strconv.Itoa(o.Stats.SOsAfterTras)},
		{key: "Invalid dates", value: strconv.Itoa(o.Stats.InvalidDates), bad: o.Stats.InvalidDates > 0},
		{key: "Missing address", value: strconv.Itoa(o.Stats.MissingAddress), bad: o.Stats.MissingAddress > 0},
		{key: "Missing technician", value: strconv.Itoa(o.Stats.MissingTechnician), bad: o.Stats.MissingTechnician > 0},
		{key: "Same old/new meter", value: strconv.Itoa(o.Stats.SameOldNewMeter), bad: o.Stats.SameOldNewMeter > 0},
		{key: "New rows", value: strconv.Itoa(o.NewRows)},
	}
	if o.Skipped > 0 {
		lines = append(lines, line{key: "Already in template", value: strconv.Itoa(o.Skipped)})
	}
	if o.Output == "" {
		return s.block("LKS build", lines, s.Muted.Render("nothing new to write"))
	}
	lines = append(lines,
		line{key: "Claims total", value: strconv.Itoa(o.Summary.Total)},
		line{key: "Date range", value: o.Summary.DateRange()},
		line{key: "Output", value: o.Output},
		line{key: "Elapsed", value: o.Elapsed.Round(time.Millisecond).String()},
	)
	return s.block("LKS build", lines, s.quality(o.Report))
}

// Quality renders a completeness report for a workbook.
func (s Styles) Quality(path string, r quality.Report) string {
	return s.block("Photo check", []line{{key: "Workbook", value: filepath.Base(path)}}, s.quality(r))
}

func (s Styles) quality(r quality.Report) string {
	var sb strings.Builder
	counts := fmt.Sprintf("missing old %d · card %d · new %d",
		r.Counts[string(images.SlotOld)], r.Counts[string(images.SlotCard)], r.Counts[string(images.SlotNew)])
	if r.Clean() {
		sb.WriteString(s.Good.Render("all photos present"))
		return sb.String()
	}
	sb.WriteString(s.Bad.Render(fmt.Sprintf("%d defective SOs", len(r.Defective))))
	sb.WriteString("  ")
	sb.WriteString(s.Muted.Render(counts))
	for _, so := range r.Defective {
		sb.WriteString("\n  ")
		sb.WriteString(so)
		sb.WriteString(" ")
		sb.WriteString(s.Muted.Render(strings.Join(r.Missing[so], ", ")))
	}
	return sb.String()
}

// Enhance renders the OCR pass counts.
func (s Styles) Enhance(path string, r enhance.Result) string {
	return s.block("OCR dates", []line{
		{key: "Workbook", value: filepath.Base(path)},
		{key: "Rows", value: strconv.Itoa(r.Rows)},
		{key: "Updated", value: strconv.Itoa(r.Processed)},
		{key: "Diskon", value: strconv.Itoa(r.Diskon)},
		{key: "No photo", value: strconv.Itoa(r.NoImage)},
		{key: "No date read", value: strconv.Itoa(r.NoDate)},
		{key: "Failed", value: strconv.Itoa(r.Failed), bad: r.Failed > 0},
	}, "")
}

// Extract renders the HTML photo extraction result.
func (s Styles) Extract(outDir string, r htmlexport.Result) string {
	footer := ""
	if len(r.Missing) > 0 {
		footer = s.Muted.Render("not found: " + strings.Join(r.Missing, ", "))
	}
	return s.block("Photo extraction", []line{
		{key: "Rows", value: strconv.Itoa(r.Rows)},
		{key: "Saved", value: strconv.Itoa(r.Saved)},
		{key: "Missing files", value: strconv.Itoa(len(r.Missing)), bad: len(r.Missing) > 0},
		{key: "Output", value: outDir},
	}, footer)
}

// FixDates renders the date conversion counts.
func (s Styles) FixDates(path string, updated, total int) string {
	return s.block("Status dates", []line{
		{key: "Workbook", value: filepath.Base(path)},
		{key: "Converted", value: fmt.Sprintf("%d / %d", updated, total)},
	}, "")
}

// Backfill renders a backfill summary.
func (s Styles) Backfill(sum backfill.Summary) string {
	return s.block("Backfill", []line{
		{key: "Inbox files", value: strconv.Itoa(sum.TotalCandidates)},
		{key: "Already built", value: strconv.Itoa(sum.AlreadyProcessed)},
		{key: "Selected", value: strconv.Itoa(sum.SelectedForBackfill)},
		{key: "Queued", value: strconv.Itoa(sum.EnqueueSucceeded)},
		{key: "Dropped (queue full)", value: strconv.Itoa(sum.EnqueueDroppedFull), bad: sum.EnqueueDroppedFull > 0},
		{key: "Failed", value: strconv.Itoa(sum.EnqueueFailed), bad: sum.EnqueueFailed > 0},
	}, "")
}
