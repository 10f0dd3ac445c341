package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings for the application
type KeyMap struct {
	// Navigation
	Up       key.Binding
	Down     key.Binding
	HalfUp   key.Binding
	HalfDown key.Binding
	Home     key.Binding
	End      key.Binding
	Enter    key.Binding

	// Playback
	Next      key.Binding
	Previous  key.Binding
	Replay    key.Binding
	Source    key.Binding
	Authorize key.Binding
	Playlist  key.Binding

	// Lists
	Filter    key.Binding
	Authors   key.Binding
	Playlists key.Binding
	Daily     key.Binding
	LoadMore  key.Binding

	// Actions
	Quit   key.Binding
	Help   key.Binding
	Escape key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		HalfUp: key.NewBinding(
			key.WithKeys("ctrl+u", "pgup"),
			key.WithHelp("C-u", "half page up"),
		),
		HalfDown: key.NewBinding(
			key.WithKeys("ctrl+d", "pgdown"),
			key.WithHelp("C-d", "half page down"),
		),
		Home: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "go to top"),
		),
		End: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "go to bottom"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "play / resume"),
		),

		Next: key.NewBinding(
			key.WithKeys("n", "l", "right"),
			key.WithHelp("n", "next"),
		),
		Previous: key.NewBinding(
			key.WithKeys("N", "h", "left"),
			key.WithHelp("N", "previous"),
		),
		Replay: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "replay"),
		),
		Source: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "switch source"),
		),
		Authorize: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "authorize LAN"),
		),
		Playlist: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "toggle playlist"),
		),

		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		Authors: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "authors"),
		),
		Playlists: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "playlists"),
		),
		Daily: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "daily feed"),
		),
		LoadMore: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "load more"),
		),

		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel/clear"),
		),
	}
}

// ShortHelp implements help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Enter, k.Next, k.Replay, k.Source, k.Playlist, k.Filter, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.HalfUp, k.HalfDown, k.Home, k.End, k.Enter},
		{k.Next, k.Previous, k.Replay, k.Source, k.Authorize, k.Playlist},
		{k.Filter, k.Authors, k.Playlists, k.Daily, k.LoadMore},
		{k.Escape, k.Help, k.Quit},
	}
}

// Keys is the global key bindings instance
var Keys = DefaultKeyMap()
