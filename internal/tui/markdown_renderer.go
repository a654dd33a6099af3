package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/process"
)

// markdownRenderer renders markdown for terminal views and recreates the renderer when wrap width changes.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

// render converts markdown input into ANSI-styled terminal text with the requested wrap width.
func (r *markdownRenderer) render(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}

	wrapWidth := max(width, 24)
	style := r.style
	if style == "" {
		style = "dark"
	}

	if r.renderer == nil || r.width != wrapWidth {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(wrapWidth),
		)
		if err != nil {
			return markdown
		}
		r.renderer = renderer
		r.width = wrapWidth
	}

	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}

// followUpMarkdown lays out one follow-up record as a markdown document.
func followUpMarkdown(f domain.FollowUp) string {
	stage := domain.NormalizeStageLabel(f.Stage)
	title := domain.NoStageLabel
	if stage != "" {
		title = process.DisplayLabel(stage)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", title)
	meta := make([]string, 0, 3)
	if date := strings.TrimSpace(f.Date); date != "" {
		meta = append(meta, "**Fecha:** "+date)
	}
	if who := strings.TrimSpace(f.Responsible); who != "" {
		meta = append(meta, "**Responsable:** "+who)
	}
	if status := strings.TrimSpace(f.StageStatus); status != "" {
		meta = append(meta, "**Estado:** "+status)
	}
	if len(meta) > 0 {
		b.WriteString(strings.Join(meta, "  \n"))
		b.WriteString("\n\n")
	}
	for _, section := range []struct {
		heading string
		body    string
	}{
		{"Detalle", f.Detail},
		{"Descripción", f.Description},
		{"Acciones", f.Actions},
		{"Observaciones", f.Observations},
	} {
		body := strings.TrimSpace(section.body)
		if body == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", section.heading, body)
	}
	return strings.TrimSpace(b.String())
}
