// Package ui renders assets, findings and import reports for the terminal.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
)

// Output formats accepted by the list commands.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	titleCaser   = cases.Title(language.English)
)

// SeverityStyle returns the badge style for a severity.
func SeverityStyle(s models.Severity) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("15"))
	switch s {
	case models.SeverityCritical:
		return base.Background(lipgloss.Color("197"))
	case models.SeverityHigh:
		return base.Background(lipgloss.Color("208"))
	case models.SeverityMedium:
		return base.Background(lipgloss.Color("214"))
	case models.SeverityLow:
		return base.Background(lipgloss.Color("148"))
	default:
		return base.Background(lipgloss.Color("240"))
	}
}

// Title renders a heading.
func Title(s string) string {
	return titleStyle.Render(titleCaser.String(s))
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// Assets writes assets as a table or JSON.
func Assets(w io.Writer, assets []models.Asset, format string) error {
	if format == FormatJSON {
		return JSON(w, assets)
	}
	if len(assets) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("No assets"))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tMETHOD\tENDPOINT\tSOURCE\tLAST SCANNED"); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, a := range assets {
		scanned := "never"
		if a.LastScanned != nil {
			scanned = FormatTimeAgo(*a.LastScanned)
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Method, a.Endpoint, a.Source, scanned); err != nil {
			return fmt.Errorf("writing asset row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flushing table writer: %w", err)
	}
	return nil
}

// Findings writes findings most severe first, as a table or JSON.
func Findings(w io.Writer, findings []models.Finding, format string) error {
	if format == FormatJSON {
		return JSON(w, findings)
	}
	if len(findings) == 0 {
		_, err := fmt.Fprintln(w, successStyle.Render("No findings"))
		return err
	}

	sorted := append([]models.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tSEVERITY\tSTATUS\tCATEGORY\tDESCRIPTION"); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, f := range sorted {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			SeverityStyle(f.Severity).Render(string(f.Severity)),
			f.Status,
			f.Category,
			f.Description,
		); err != nil {
			return fmt.Errorf("writing finding row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flushing table writer: %w", err)
	}
	return Summary(w, models.Summarize(findings))
}

// Summary writes a one-line severity breakdown.
func Summary(w io.Writer, s models.FindingSummary) error {
	parts := make([]string, 0, len(s.BySeverity))
	for _, sev := range models.ValidSeverities() {
		if n := s.BySeverity[sev]; n > 0 {
			parts = append(parts, SeverityStyle(sev).Render(fmt.Sprintf("%d %s", n, strings.ToLower(string(sev)))))
		}
	}
	line := fmt.Sprintf("%d findings", s.Total)
	if len(parts) > 0 {
		line += ": " + strings.Join(parts, " ")
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// Report writes an import report.
func Report(w io.Writer, r *ingest.Report, format string) error {
	if format == FormatJSON {
		return JSON(w, struct {
			*ingest.Report
			Summary string `json:"summary"`
		}{r, r.Summary()})
	}

	if _, err := fmt.Fprintf(w, "%s %s\n", Title("imported "+r.Variant.String()), mutedStyle.Render(r.Summary())); err != nil {
		return err
	}
	for _, a := range r.Imported {
		if _, err := fmt.Fprintf(w, "  %s %s %s\n", successStyle.Render("+"), a.Method, a.Endpoint); err != nil {
			return err
		}
	}
	for _, d := range r.Diagnostics {
		loc := "document"
		if d.ItemIndex >= 0 {
			loc = fmt.Sprintf("item %d", d.ItemIndex)
		}
		if _, err := fmt.Fprintf(w, "  %s %s (%s): %s\n", warnStyle.Render("!"), loc, d.Stage, d.Reason); err != nil {
			return err
		}
	}
	return nil
}

// FormatTimeAgo renders t relative to now.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour") + " ago"
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day") + " ago"
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
