package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/pulse/internal/model"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func priorityStyle(p model.Priority) lipgloss.Style {
	switch p {
	case model.PriorityCritical:
		return redStyle
	case model.PriorityHigh:
		return yellowStyle
	case model.PriorityMedium:
		return cyanStyle
	default:
		return dimStyle
	}
}

// renderAnalytics prints a report as aligned text sections.
func renderAnalytics(w io.Writer, a model.Analytics) {
	var lines []string
	heading := func(title string) {
		lines = append(lines, "", boldStyle.Render("    "+title), "")
	}
	row := func(label, value string) {
		lines = append(lines, fmt.Sprintf("    %-22s %s", dimStyle.Render(label), value))
	}

	lines = append(lines, "")
	lines = append(lines, cyanStyle.Bold(true).Render("    Pulse analytics"))
	lines = append(lines, dimStyle.Render(fmt.Sprintf("    %s → %s",
		a.Start.Format("2006-01-02 15:04:05"), a.End.Format("2006-01-02 15:04:05"))))

	heading("Summary")
	s := a.Summary
	row("Total metrics", strconv.Itoa(s.TotalMetrics))
	row("Avg response time", fmt.Sprintf("%.1f ms", s.AverageResponseTime))
	row("Peak memory", fmt.Sprintf("%.1f MB", s.PeakMemoryUsage))
	row("Errors", strconv.Itoa(s.ErrorCount))

	if len(s.SlowestOperations) > 0 {
		heading("Slowest operations")
		for _, m := range s.SlowestOperations {
			row(m.Name, fmt.Sprintf("%s%s %s", formatValue(m.Value), m.Unit, dimStyle.Render(string(m.Type))))
		}
	}

	if len(a.Trends.Buckets) > 0 {
		heading("Trends (" + string(a.Trends.Mode) + ")")
		for _, b := range a.Trends.Buckets {
			label := fmt.Sprintf("%02d:00", b.Hour)
			if !b.Start.IsZero() {
				label = b.Start.Format("01-02 15:00")
			}
			row(label, fmt.Sprintf("n=%d  rt=%.1fms  mem=%.1fMB  err=%.1f%%",
				b.Count, b.AverageResponseTime, b.PeakMemoryUsage, b.ErrorRate))
		}
	}

	if len(a.Bottlenecks) > 0 {
		heading("Bottlenecks")
		for _, b := range a.Bottlenecks {
			row(b.Name, fmt.Sprintf("%s avg=%.0fms x%d %s",
				yellowStyle.Render(string(b.Impact)), b.AverageTime, b.Frequency, dimStyle.Render(b.Suggestion)))
		}
	}

	if len(a.Recommendations) > 0 {
		heading("Recommendations")
		for _, r := range a.Recommendations {
			lines = append(lines, fmt.Sprintf("    %s  %s", priorityStyle(r.Priority).Render("["+string(r.Priority)+"]"), r.Title))
			if r.Description != "" {
				lines = append(lines, "        "+dimStyle.Render(r.Description))
			}
			for _, action := range r.Actions {
				lines = append(lines, "        "+greenStyle.Render("•")+" "+action)
			}
		}
	}

	lines = append(lines, "")
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}
