package components

import (
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mmcdole/feedplay/internal/tui/styles"
)

// PickerEntry is one choice in a Picker
type PickerEntry struct {
	ID     string
	Label  string
	Detail string
}

// Picker is a modal list with a ranked fuzzy query
type Picker struct {
	visible bool
	title   string
	entries []PickerEntry
	shown   []PickerEntry
	cursor  int
	query   textinput.Model
}

const (
	pickerWidth   = 44
	pickerVisible = 10
)

// NewPicker creates a hidden picker
func NewPicker() Picker {
	ti := textinput.New()
	ti.Placeholder = "type to search..."
	ti.Prompt = "> "
	ti.CharLimit = 50
	ti.Width = pickerWidth - 4
	ti.PromptStyle = styles.FilterPromptStyle
	ti.TextStyle = lipgloss.NewStyle().Foreground(styles.White)
	ti.PlaceholderStyle = styles.DimStyle
	return Picker{query: ti}
}

// Show displays the modal with entries
func (m *Picker) Show(title string, entries []PickerEntry) tea.Cmd {
	m.visible = true
	m.title = title
	m.entries = entries
	m.shown = entries
	m.cursor = 0
	m.query.SetValue("")
	return m.query.Focus()
}

// Hide dismisses the modal
func (m *Picker) Hide() {
	m.visible = false
	m.query.Blur()
}

// IsVisible returns whether the modal is shown
func (m *Picker) IsVisible() bool { return m.visible }

// Shown returns the entries matching the current query in rank order
func (m *Picker) Shown() []PickerEntry { return m.shown }

// HandleKeyMsg processes a key. It returns the chosen entry on enter; closed
// is set when the modal went away.
func (m *Picker) HandleKeyMsg(msg tea.KeyMsg) (chosen *PickerEntry, closed bool, cmd tea.Cmd) {
	if !m.visible {
		return nil, false, nil
	}
	switch msg.String() {
	case "esc":
		m.Hide()
		return nil, true, nil
	case "enter":
		if m.cursor < len(m.shown) {
			entry := m.shown[m.cursor]
			m.Hide()
			return &entry, true, nil
		}
		return nil, false, nil
	case "up", "ctrl+p", "ctrl+k":
		m.cursor = max(m.cursor-1, 0)
		return nil, false, nil
	case "down", "ctrl+n", "ctrl+j":
		m.cursor = min(m.cursor+1, max(len(m.shown)-1, 0))
		return nil, false, nil
	}

	m.query, cmd = m.query.Update(msg)
	m.rank()
	return nil, false, cmd
}

// rank orders entries by edit distance to the query
func (m *Picker) rank() {
	q := strings.TrimSpace(m.query.Value())
	m.cursor = 0
	if q == "" {
		m.shown = m.entries
		return
	}

	labels := make([]string, len(m.entries))
	for i, e := range m.entries {
		labels[i] = e.Label
	}
	ranks := fuzzy.RankFindFold(q, labels)
	sort.Stable(ranks)

	m.shown = make([]PickerEntry, 0, len(ranks))
	for _, r := range ranks {
		m.shown = append(m.shown, m.entries[r.OriginalIndex])
	}
}

// View renders the modal
func (m Picker) View() string {
	if !m.visible {
		return ""
	}

	bg := lipgloss.NewStyle().Width(pickerWidth).Background(styles.SlateDark)
	lines := []string{
		bg.Foreground(styles.White).Bold(true).Render(m.title),
		bg.Render(""),
		bg.Render(m.query.View()),
		bg.Render(""),
	}

	start := 0
	if m.cursor >= pickerVisible {
		start = m.cursor - pickerVisible + 1
	}
	end := min(start+pickerVisible, len(m.shown))
	if len(m.shown) == 0 {
		lines = append(lines, bg.Inherit(styles.DimStyle).Render("No matches"))
	}
	for i := start; i < end; i++ {
		e := m.shown[i]
		text := styles.Truncate(e.Label, pickerWidth-lipgloss.Width(e.Detail)-4)
		if e.Detail != "" {
			text += "  " + styles.DimStyle.Render(e.Detail)
		}
		style := bg.Foreground(styles.LightGray)
		if i == m.cursor {
			style = bg.Foreground(styles.White).Background(styles.SlateLight)
			text = "› " + text
		} else {
			text = "  " + text
		}
		lines = append(lines, style.Render(text))
	}

	return styles.ModalStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
