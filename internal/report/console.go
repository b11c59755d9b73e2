// internal/report/console.go
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"sensorqa/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func statusStyle(s model.Status) lipgloss.Style {
	switch s {
	case model.StatusPassed:
		return passStyle
	case model.StatusIncomplete:
		return warnStyle
	default:
		return failStyle
	}
}

// Render prints the run totals, one line per sensor and any failover events.
func (r *Report) Render(w io.Writer) {
	var b strings.Builder

	b.WriteString(titleStyle.Render(r.Title))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("run %s  %s", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))))
	b.WriteString("\n\n")

	for _, s := range r.Sensors {
		passed := s.Count(model.StatusPassed)
		failed := s.Count(model.StatusFailed)
		incomplete := s.Count(model.StatusIncomplete)

		status := model.StatusPassed
		switch {
		case failed > 0:
			status = model.StatusFailed
		case incomplete > 0:
			status = model.StatusIncomplete
		}
		addr := s.Address
		if s.ActiveAddress != "" {
			addr = fmt.Sprintf("%s -> %s", s.Address, s.ActiveAddress)
		}
		fmt.Fprintf(&b, "  %-12s %-28s %s  %d passed, %d failed",
			statusStyle(status).Render(string(status)), s.Hostname, dimStyle.Render(addr), passed, failed)
		if incomplete > 0 {
			fmt.Fprintf(&b, ", %d incomplete", incomplete)
		}
		b.WriteString("\n")

		for _, c := range s.Categories {
			for _, t := range c.Tests {
				if t.Status == model.StatusPassed {
					continue
				}
				fmt.Fprintf(&b, "      %s %s/%s: %s\n",
					statusStyle(t.Status).Render("x"), c.Category, t.TestName, firstLine(t.Error))
			}
		}
	}

	if len(r.Failovers) > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("Failover events"))
		b.WriteString("\n")
		for _, f := range r.Failovers {
			fmt.Fprintf(&b, "  %s %s -> %s: %s\n", f.Hostname, f.OriginalAddress, f.UpdatedAddress, f.Reason)
		}
	}

	sum := r.Summary
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d sensors, %d tests: %s, %s, %s, %d failover events\n",
		sum.Sensors, sum.Total(),
		passStyle.Render(fmt.Sprintf("%d passed", sum.Passed)),
		failStyle.Render(fmt.Sprintf("%d failed", sum.Failed)),
		warnStyle.Render(fmt.Sprintf("%d incomplete", sum.Incomplete)),
		sum.FailoverEvents)

	_, _ = io.WriteString(w, b.String())
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "no error output"
	}
	return s
}
