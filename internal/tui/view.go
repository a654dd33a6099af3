package tui

import (
	"fmt"
	"image/color"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/process"
)

// palette colors shared by every screen.
var (
	accentColor  = lipgloss.Color("62")
	mutedColor   = lipgloss.Color("241")
	dimColor     = lipgloss.Color("239")
	titleColor   = lipgloss.Color("252")
	okColor      = lipgloss.Color("42")
	dueSoonColor = lipgloss.Color("214")
	overdueColor = lipgloss.Color("196")
)

// View handles view.
func (m Model) View() tea.View {
	var content string
	switch {
	case m.err != nil:
		content = "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	case !m.ready:
		content = "loading..."
	case m.mode == modeDetail:
		content = m.renderDetail()
	case m.mode == modeBoard:
		content = m.renderBoard()
	default:
		content = m.renderCaseList()
	}
	if m.err == nil && m.ready {
		content = m.withFooter(content)
	}
	v := tea.NewView(content)
	v.AltScreen = true
	return v
}

// withFooter appends status and help lines, fitting content to the window height.
func (m Model) withFooter(content string) string {
	statusStyle := lipgloss.NewStyle().Foreground(dimColor)
	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(mutedColor).
		BorderTop(true).
		BorderForeground(dimColor).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(m.keys))
	footer := helpLine
	if status := strings.TrimSpace(m.status); status != "" && status != "ready" {
		footer = statusStyle.Render(status) + "\n" + helpLine
	}
	if m.height > 0 {
		content = fitLines(content, max(0, m.height-lipgloss.Height(footer)))
	}
	return content + "\n" + footer
}

// renderCaseList renders the case list with deadline badges.
func (m Model) renderCaseList() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(titleColor)
	hintStyle := lipgloss.NewStyle().Foreground(mutedColor)
	selectedStyle := lipgloss.NewStyle().Bold(true).Foreground(accentColor)

	scope := "open cases"
	if m.includeClosed {
		scope = "all cases"
	}
	lines := []string{
		titleStyle.Render("convivencia") + hintStyle.Render(fmt.Sprintf("  %s: %d", scope, len(m.cases))),
		"",
	}
	if len(m.cases) == 0 {
		lines = append(lines, hintStyle.Render("No cases yet."))
		return strings.Join(lines, "\n")
	}
	for idx, overview := range m.cases {
		c := overview.Case
		stage := domain.NoStageLabel
		if cur := domain.NormalizeStageLabel(c.CurrentStage); cur != "" {
			stage = process.DisplayLabel(cur)
		}
		if c.IsClosed() {
			stage = "cerrado"
		}
		row := fmt.Sprintf("%-14s %-28s %-6s %-18s", c.Folio, truncate(c.StudentName, 28), truncate(c.Course, 6), truncate(stage, 18))
		badge := alertBadge(overview.Deadline)
		if idx == m.selectedCase {
			lines = append(lines, selectedStyle.Render("› "+row)+" "+badge)
			continue
		}
		lines = append(lines, "  "+row+" "+badge)
	}
	return strings.Join(lines, "\n")
}

// renderBoard renders the progress header and stage accordion of the open case.
func (m Model) renderBoard() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(titleColor)
	hintStyle := lipgloss.NewStyle().Foreground(mutedColor)
	if m.board == nil {
		return hintStyle.Render("loading case...")
	}
	c := m.board.Case
	header := []string{
		titleStyle.Render(c.Folio) + "  " + c.StudentName + hintStyle.Render("  "+strings.TrimSpace(c.Course+" "+c.ConductType)),
		m.renderProgress(),
	}
	if line := deadlineText(m.board.Deadline); line != "" {
		header = append(header, alertStyle(m.board.Deadline.Level).Render("plazo: "+line))
	}
	header = append(header, "")

	body, cursorLine := m.accordionLines()
	bodyHeight := len(body)
	if m.height > 0 {
		bodyHeight = max(3, m.height-len(header)-3)
	}
	return strings.Join(header, "\n") + "\n" + strings.Join(scrollWindow(body, cursorLine, bodyHeight), "\n")
}

// renderProgress renders the one-line stage stepper.
func (m Model) renderProgress() string {
	parts := make([]string, 0, len(m.board.Progress))
	for _, entry := range m.board.Progress {
		label := entry.Label
		if entry.SLADays != nil {
			label += fmt.Sprintf(" (%dd)", *entry.SLADays)
		}
		switch entry.State {
		case process.StateCompleted:
			parts = append(parts, lipgloss.NewStyle().Foreground(okColor).Render("✓ "+label))
		case process.StateCurrent:
			parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(accentColor).Render("● "+label))
		default:
			parts = append(parts, lipgloss.NewStyle().Foreground(dimColor).Render("○ "+label))
		}
	}
	return strings.Join(parts, lipgloss.NewStyle().Foreground(dimColor).Render(" → "))
}

// accordionLines renders accordion rows and reports the cursor line.
func (m Model) accordionLines() ([]string, int) {
	hintStyle := lipgloss.NewStyle().Foreground(mutedColor)
	selectedStyle := lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	buckets := m.buckets()
	rows := m.rows()
	lines := make([]string, 0, len(rows))
	for idx, row := range rows {
		bucket := buckets[row.bucket]
		var line string
		if row.kind == rowStage {
			marker := "▸"
			if m.expanded[bucket.Stage] {
				marker = "▾"
			}
			prefix := fmt.Sprintf("%d. ", bucket.Index)
			if bucket.Index == 0 {
				prefix = ""
			}
			line = fmt.Sprintf("%s %s%s %s", marker, prefix, bucket.Label, hintStyle.Render(fmt.Sprintf("(%d)", len(bucket.Actions))))
		} else {
			action := bucket.Actions[row.action]
			line = "    " + actionLine(action)
		}
		if idx == m.rowCursor {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, hintStyle.Render("No stages configured."))
	}
	return lines, m.rowCursor
}

// renderDetail renders the selected follow-up through glamour.
func (m Model) renderDetail() string {
	action, ok := m.selectedAction()
	if !ok {
		return m.renderBoard()
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(titleColor)
	header := titleStyle.Render(m.board.Case.Folio) + "  " + m.board.Case.StudentName
	return header + "\n\n" + m.markdown.render(followUpMarkdown(action), max(24, m.width-4))
}

// actionLine summarizes one follow-up on a single line.
func actionLine(f domain.FollowUp) string {
	date := strings.TrimSpace(f.Date)
	if date == "" {
		date = "sin fecha"
	}
	text := strings.Join(strings.Fields(f.FreeText()), " ")
	if text == "" {
		text = "(sin detalle)"
	}
	line := fmt.Sprintf("%-10s  %s", date, truncate(text, 60))
	if who := strings.TrimSpace(f.Responsible); who != "" {
		line += "  · " + who
	}
	return line
}

// alertBadge renders the deadline level of one case.
func alertBadge(d process.Deadline) string {
	text := ""
	switch d.Level {
	case process.AlertOverdue:
		text = "● vencido"
	case process.AlertDueSoon:
		text = "● por vencer"
	case process.AlertOK:
		text = "● en plazo"
	default:
		return ""
	}
	return alertStyle(d.Level).Render(text)
}

// alertStyle colors one deadline level.
func alertStyle(level process.AlertLevel) lipgloss.Style {
	var c color.Color
	switch level {
	case process.AlertOverdue:
		c = overdueColor
	case process.AlertDueSoon:
		c = dueSoonColor
	case process.AlertOK:
		c = okColor
	default:
		c = dimColor
	}
	return lipgloss.NewStyle().Foreground(c)
}

// scrollWindow returns at most height lines keeping cursor visible.
func scrollWindow(lines []string, cursor, height int) []string {
	if height <= 0 || len(lines) <= height {
		return lines
	}
	start := clamp(cursor-height/2, 0, len(lines)-height)
	return lines[start : start+height]
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(runes[:n-1]) + "…"
}

// fitLines pads or truncates content to exactly maxLines lines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		padding := make([]string, maxLines-len(lines))
		lines = append(lines, padding...)
	}
	return strings.Join(lines, "\n")
}
