package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/feedplay/internal/playback"
	"github.com/mmcdole/feedplay/internal/tui/components"
)

const tickInterval = 250 * time.Millisecond

// tickMsg drives snapshot polling and the spinner
type tickMsg time.Time

// snapshotMsg carries controller state copied on the loop
type snapshotMsg struct {
	snap playback.Snapshot
	err  error
}

// pickerKind selects what a picker chooses
type pickerKind int

const (
	pickAuthor pickerKind = iota
	pickPlaylist
)

// catalogMsg delivers picker entries loaded from the server
type catalogMsg struct {
	kind    pickerKind
	entries []components.PickerEntry
	err     error
}

// membershipMsg reports a playlist toggle from the loop
type membershipMsg struct {
	member bool
	err    error
}

// loopClosedMsg means the engine stopped
type loopClosedMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// mailbox adapts loop callbacks to a channel for Bubble Tea.
type mailbox struct {
	ch chan tea.Msg
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan tea.Msg, 16)}
}

// send delivers msg without blocking the loop
func (b *mailbox) send(msg tea.Msg) {
	select {
	case b.ch <- msg:
	default: // Non-blocking if channel full
	}
}

func (b *mailbox) wait() tea.Cmd {
	return func() tea.Msg { return <-b.ch }
}
