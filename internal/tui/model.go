package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"github.com/atotto/clipboard"

	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/eventbus"
	"github.com/hylla/convivencia/internal/process"
)

// Service is the read surface the dashboard renders.
type Service interface {
	ListCaseOverviews(context.Context, bool) ([]app.CaseOverview, error)
	CaseBoard(context.Context, string) (app.CaseBoard, error)
}

// viewMode identifies the active screen.
type viewMode int

// modeCaseList and related constants define the dashboard screens.
const (
	modeCaseList viewMode = iota
	modeBoard
	modeDetail
)

// rowKind distinguishes accordion headers from follow-up rows.
type rowKind int

const (
	rowStage rowKind = iota
	rowAction
)

// boardRow is one selectable line of the stage accordion.
type boardRow struct {
	kind   rowKind
	bucket int
	action int
}

// Model is the case dashboard.
type Model struct {
	svc Service

	ready  bool
	width  int
	height int
	err    error
	status string

	help help.Model
	keys keyMap

	signals  <-chan eventbus.Signal
	copyText ClipboardFunc
	markdown *markdownRenderer

	includeClosed bool
	cases         []app.CaseOverview
	selectedCase  int

	mode      viewMode
	board     *app.CaseBoard
	boardID   string
	expanded  map[string]bool
	rowCursor int
}

// loadedMsg carries one reload result; board is nil when boardID no longer exists.
type loadedMsg struct {
	cases   []app.CaseOverview
	board   *app.CaseBoard
	boardID string
	err     error
}

// refreshMsg reports one Event Bus refresh signal.
type refreshMsg struct {
	source string
}

// copiedMsg reports the clipboard write result.
type copiedMsg struct {
	err error
}

// NewModel constructs the dashboard model.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:      svc,
		status:   "loading...",
		help:     h,
		keys:     newKeyMap(),
		copyText: clipboard.WriteAll,
		markdown: &markdownRenderer{},
		expanded: map[string]bool{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init loads cases and, when wired, starts listening for refresh signals.
func (m Model) Init() tea.Cmd {
	if m.signals == nil {
		return m.loadData
	}
	return tea.Batch(m.loadData, m.waitForRefresh)
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		return m.applyLoaded(msg), nil

	case refreshMsg:
		m.status = "refreshed"
		if msg.source != "" {
			m.status = "refreshed (" + msg.source + ")"
		}
		if m.signals == nil {
			return m, m.loadData
		}
		return m, tea.Batch(m.loadData, m.waitForRefresh)

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
			return m, nil
		}
		m.status = "case summary copied"
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	default:
		return m, nil
	}
}

// loadData fetches cases and the open board in one pass.
func (m Model) loadData() tea.Msg {
	ctx := context.Background()
	cases, err := m.svc.ListCaseOverviews(ctx, m.includeClosed)
	if err != nil {
		return loadedMsg{err: err}
	}
	out := loadedMsg{cases: cases, boardID: m.boardID}
	if m.boardID == "" {
		return out
	}
	board, err := m.svc.CaseBoard(ctx, m.boardID)
	switch {
	case errors.Is(err, app.ErrNotFound):
		return out
	case err != nil:
		return loadedMsg{err: err}
	}
	out.board = &board
	return out
}

// waitForRefresh blocks until the next refresh signal.
func (m Model) waitForRefresh() tea.Msg {
	sig, ok := <-m.signals
	if !ok {
		return nil
	}
	return refreshMsg{source: sig.Source}
}

// applyLoaded folds one reload into the model, keeping the selection stable.
func (m Model) applyLoaded(msg loadedMsg) Model {
	if msg.err != nil {
		m.err = msg.err
		return m
	}
	m.err = nil

	selectedID := ""
	if c, ok := m.currentCase(); ok {
		selectedID = c.Case.ID
	}
	m.cases = msg.cases
	m.selectedCase = 0
	for idx, c := range m.cases {
		if c.Case.ID == selectedID {
			m.selectedCase = idx
			break
		}
	}

	switch {
	case m.boardID == "" || msg.boardID != m.boardID:
	case msg.board == nil:
		m.status = "case no longer available"
		m.closeBoard()
	default:
		stage, actionID := m.selectionKey()
		first := m.board == nil
		m.board = msg.board
		if first {
			m.expanded = map[string]bool{}
			if cur := domain.NormalizeStageLabel(m.board.Case.CurrentStage); cur != "" {
				m.expanded[cur] = true
				stage = cur
			}
		}
		m.restoreSelection(stage, actionID)
		if _, ok := m.selectedAction(); m.mode == modeDetail && !ok {
			m.mode = modeBoard
		}
	}
	if m.status == "" || m.status == "loading..." || m.status == "loading case..." {
		m.status = "ready"
	}
	return m
}

// handleKey routes key presses for the active screen.
func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		return m, m.loadData
	}
	if m.err != nil {
		return m, nil
	}

	switch m.mode {
	case modeDetail:
		if key.Matches(msg, m.keys.back) {
			m.mode = modeBoard
			return m, nil
		}
		if key.Matches(msg, m.keys.copySummary) {
			return m, m.copySummaryCmd()
		}
		return m, nil
	case modeBoard:
		return m.handleBoardKey(msg)
	default:
		return m.handleListKey(msg)
	}
}

// handleListKey handles case-list navigation.
func (m Model) handleListKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.moveUp):
		m.selectedCase = clamp(m.selectedCase-1, 0, len(m.cases)-1)
	case key.Matches(msg, m.keys.moveDown):
		m.selectedCase = clamp(m.selectedCase+1, 0, len(m.cases)-1)
	case key.Matches(msg, m.keys.nextAlertCase):
		m.selectNextAlert()
	case key.Matches(msg, m.keys.toggleClosed):
		m.includeClosed = !m.includeClosed
		if m.includeClosed {
			m.status = "showing closed cases"
		} else {
			m.status = "hiding closed cases"
		}
		return m, m.loadData
	case key.Matches(msg, m.keys.open):
		c, ok := m.currentCase()
		if !ok {
			return m, nil
		}
		m.boardID = c.Case.ID
		m.board = nil
		m.rowCursor = 0
		m.mode = modeBoard
		m.status = "loading case..."
		return m, m.loadData
	}
	return m, nil
}

// handleBoardKey handles stage accordion navigation.
func (m Model) handleBoardKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	rows := m.rows()
	switch {
	case key.Matches(msg, m.keys.back):
		m.closeBoard()
		return m, nil
	case key.Matches(msg, m.keys.moveUp):
		m.rowCursor = clamp(m.rowCursor-1, 0, len(rows)-1)
	case key.Matches(msg, m.keys.moveDown):
		m.rowCursor = clamp(m.rowCursor+1, 0, len(rows)-1)
	case key.Matches(msg, m.keys.expandAll):
		for _, bucket := range m.buckets() {
			m.expanded[bucket.Stage] = true
		}
	case key.Matches(msg, m.keys.collapseAll):
		stage, _ := m.selectionKey()
		m.expanded = map[string]bool{}
		m.restoreSelection(stage, "")
	case key.Matches(msg, m.keys.copySummary):
		return m, m.copySummaryCmd()
	case key.Matches(msg, m.keys.open):
		if len(rows) == 0 {
			return m, nil
		}
		row := rows[clamp(m.rowCursor, 0, len(rows)-1)]
		if row.kind == rowAction {
			m.mode = modeDetail
			return m, nil
		}
		stage := m.buckets()[row.bucket].Stage
		m.expanded[stage] = !m.expanded[stage]
		m.restoreSelection(stage, "")
	}
	return m, nil
}

// copySummaryCmd writes the open case summary to the clipboard.
func (m Model) copySummaryCmd() tea.Cmd {
	if m.board == nil {
		return nil
	}
	text := caseSummary(*m.board)
	copyText := m.copyText
	return func() tea.Msg {
		return copiedMsg{err: copyText(text)}
	}
}

// closeBoard returns to the case list.
func (m *Model) closeBoard() {
	m.mode = modeCaseList
	m.board = nil
	m.boardID = ""
	m.rowCursor = 0
	m.expanded = map[string]bool{}
}

// currentCase returns the selected case overview.
func (m Model) currentCase() (app.CaseOverview, bool) {
	if len(m.cases) == 0 {
		return app.CaseOverview{}, false
	}
	return m.cases[clamp(m.selectedCase, 0, len(m.cases)-1)], true
}

// selectNextAlert jumps to the next case whose deadline is due soon or overdue.
func (m *Model) selectNextAlert() {
	n := len(m.cases)
	for step := 1; step <= n; step++ {
		idx := (m.selectedCase + step) % n
		switch m.cases[idx].Deadline.Level {
		case process.AlertOverdue, process.AlertDueSoon:
			m.selectedCase = idx
			return
		}
	}
	m.status = "no cases with deadline alerts"
}

// buckets returns canonical stage buckets followed by orphan buckets.
func (m Model) buckets() []process.StageBucket {
	if m.board == nil {
		return nil
	}
	out := make([]process.StageBucket, 0, len(m.board.Stages)+len(m.board.Orphans))
	out = append(out, m.board.Stages...)
	return append(out, m.board.Orphans...)
}

// rows flattens the accordion into selectable rows.
func (m Model) rows() []boardRow {
	buckets := m.buckets()
	out := make([]boardRow, 0, len(buckets))
	for bi, bucket := range buckets {
		out = append(out, boardRow{kind: rowStage, bucket: bi})
		if !m.expanded[bucket.Stage] {
			continue
		}
		for ai := range bucket.Actions {
			out = append(out, boardRow{kind: rowAction, bucket: bi, action: ai})
		}
	}
	return out
}

// selectedAction returns the follow-up under the cursor.
func (m Model) selectedAction() (domain.FollowUp, bool) {
	rows := m.rows()
	if len(rows) == 0 {
		return domain.FollowUp{}, false
	}
	row := rows[clamp(m.rowCursor, 0, len(rows)-1)]
	if row.kind != rowAction {
		return domain.FollowUp{}, false
	}
	return m.buckets()[row.bucket].Actions[row.action], true
}

// selectionKey identifies the cursor row independent of its index.
func (m Model) selectionKey() (string, string) {
	rows := m.rows()
	if len(rows) == 0 {
		return "", ""
	}
	row := rows[clamp(m.rowCursor, 0, len(rows)-1)]
	bucket := m.buckets()[row.bucket]
	if row.kind == rowAction {
		return bucket.Stage, bucket.Actions[row.action].ID
	}
	return bucket.Stage, ""
}

// restoreSelection moves the cursor back onto stage/action after a rebuild.
func (m *Model) restoreSelection(stage, actionID string) {
	rows := m.rows()
	buckets := m.buckets()
	fallback := -1
	for idx, row := range rows {
		bucket := buckets[row.bucket]
		if bucket.Stage != stage {
			continue
		}
		if row.kind == rowStage && fallback < 0 {
			fallback = idx
		}
		if actionID == "" || row.kind != rowAction {
			continue
		}
		if bucket.Actions[row.action].ID == actionID {
			m.rowCursor = idx
			return
		}
	}
	if fallback >= 0 {
		m.rowCursor = fallback
		return
	}
	m.rowCursor = clamp(m.rowCursor, 0, len(rows)-1)
}

// clamp bounds v to [minV, maxV]; an empty range yields minV.
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// caseSummary renders a plain-text case summary for the clipboard.
func caseSummary(board app.CaseBoard) string {
	c := board.Case
	var b strings.Builder
	fmt.Fprintf(&b, "Folio %s: %s", c.Folio, c.StudentName)
	if course := strings.TrimSpace(c.Course); course != "" {
		fmt.Fprintf(&b, " (%s)", course)
	}
	b.WriteString("\n")
	if conduct := strings.TrimSpace(c.ConductType); conduct != "" {
		fmt.Fprintf(&b, "Conducta: %s\n", conduct)
	}
	fmt.Fprintf(&b, "Estado: %s\n", c.Status)
	if stage := domain.NormalizeStageLabel(c.CurrentStage); stage != "" {
		fmt.Fprintf(&b, "Etapa actual: %s\n", process.DisplayLabel(stage))
	}
	if line := deadlineText(board.Deadline); line != "" {
		fmt.Fprintf(&b, "Plazo: %s\n", line)
	}
	b.WriteString("\n")
	for _, entry := range board.Progress {
		count := 0
		if entry.Index-1 < len(board.Stages) && entry.Index > 0 {
			count = len(board.Stages[entry.Index-1].Actions)
		}
		fmt.Fprintf(&b, "%d. %s [%s] %d acciones\n", entry.Index, entry.Label, entry.State, count)
	}
	for _, orphan := range board.Orphans {
		fmt.Fprintf(&b, "- %s: %d acciones\n", orphan.Label, len(orphan.Actions))
	}
	return strings.TrimRight(b.String(), "\n")
}

// deadlineText describes one deadline alert; AlertNone yields "".
func deadlineText(d process.Deadline) string {
	if d.Level == process.AlertNone || d.SLADays == nil {
		return ""
	}
	var label string
	switch d.Level {
	case process.AlertOverdue:
		label = "vencido"
	case process.AlertDueSoon:
		label = "por vencer"
	default:
		label = "en plazo"
	}
	return fmt.Sprintf("%s (%d/%d días)", label, d.ElapsedDays, *d.SLADays)
}
