package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

func matches(msg tea.KeyMsg, b key.Binding) bool {
	return key.Matches(msg, b)
}
