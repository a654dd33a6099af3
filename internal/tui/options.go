package tui

import (
	"strings"

	"github.com/hylla/convivencia/internal/eventbus"
)

type Option func(*Model)

// ClipboardFunc writes text to the system clipboard.
type ClipboardFunc func(string) error

// WithRefreshSignals makes the model reload whenever a signal arrives on ch.
func WithRefreshSignals(ch <-chan eventbus.Signal) Option {
	return func(m *Model) {
		m.signals = ch
	}
}

func WithClipboard(fn ClipboardFunc) Option {
	return func(m *Model) {
		if fn != nil {
			m.copyText = fn
		}
	}
}

func WithIncludeClosed(include bool) Option {
	return func(m *Model) {
		m.includeClosed = include
	}
}

// WithMarkdownStyle selects the glamour standard style used for follow-up details.
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		if style = strings.TrimSpace(style); style != "" {
			m.markdown.style = style
		}
	}
}

// ForwardSignals returns a bus handler that queues signals on ch without blocking.
// A full channel already holds a pending reload, so extra signals are dropped.
func ForwardSignals(ch chan<- eventbus.Signal) eventbus.Handler {
	return func(sig eventbus.Signal) {
		select {
		case ch <- sig:
		default:
		}
	}
}
