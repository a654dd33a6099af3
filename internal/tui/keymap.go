package tui

import "charm.land/bubbles/v2/key"

// keyMap represents key map data used by this package.
type keyMap struct {
	quit          key.Binding
	reload        key.Binding
	toggleHelp    key.Binding
	moveUp        key.Binding
	moveDown      key.Binding
	open          key.Binding
	back          key.Binding
	expandAll     key.Binding
	collapseAll   key.Binding
	toggleClosed  key.Binding
	copySummary   key.Binding
	nextAlertCase key.Binding
}

// newKeyMap constructs key map.
func newKeyMap() keyMap {
	return keyMap{
		quit:          key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:        key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		moveDown:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		open:          key.NewBinding(key.WithKeys("enter", "l", "right"), key.WithHelp("enter", "open/expand")),
		back:          key.NewBinding(key.WithKeys("esc", "h", "left"), key.WithHelp("esc", "back")),
		expandAll:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "expand all")),
		collapseAll:   key.NewBinding(key.WithKeys("E", "shift+e"), key.WithHelp("E", "collapse all")),
		toggleClosed:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "toggle closed")),
		copySummary:   key.NewBinding(key.WithKeys("c", "y"), key.WithHelp("c", "copy summary")),
		nextAlertCase: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next alert")),
	}
}

// ShortHelp handles short help.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.open, k.back, k.copySummary, k.toggleClosed, k.reload, k.toggleHelp, k.quit,
	}
}

// FullHelp handles full help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.moveUp, k.moveDown, k.open, k.back, k.nextAlertCase},
		{k.expandAll, k.collapseAll, k.copySummary},
		{k.toggleClosed, k.reload, k.toggleHelp, k.quit},
	}
}
