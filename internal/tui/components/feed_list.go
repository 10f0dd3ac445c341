package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/feedplay/internal/playback"
	"github.com/mmcdole/feedplay/internal/tui/styles"
)

// Layout constants for the list
const (
	// Border adds 1 char on each side (left+right for width, top+bottom for height)
	BorderWidth  = 2
	BorderHeight = 2

	// title, "↑ more" and "↓ more" lines
	chromeLines = 3
)

// FeedList is the scrollable feed column with a fuzzy title filter
type FeedList struct {
	items  []playback.ItemView
	active int

	// Selection
	cursor     int
	offset     int
	maxVisible int

	// Dimensions
	width   int
	height  int
	focused bool

	title        string
	total        int
	loading      bool
	hasMore      bool
	spinnerFrame int

	// Filter state
	filterActive bool
	filterInput  textinput.Model
	filterQuery  string
	filteredIdx  []int // indices into items
}

// NewFeedList creates an empty list
func NewFeedList() *FeedList {
	ti := textinput.New()
	ti.Placeholder = "type to filter..."
	ti.Prompt = "/ "
	ti.PromptStyle = styles.FilterPromptStyle
	ti.TextStyle = styles.FilterStyle

	return &FeedList{active: -1, filterInput: ti, focused: true}
}

// SetTitle sets the header line
func (c *FeedList) SetTitle(title string) { c.title = title }

// SetSpinnerFrame updates the spinner animation frame
func (c *FeedList) SetSpinnerFrame(frame int) { c.spinnerFrame = frame }

// SetItems replaces the rows. The cursor stays on the same identity when it
// survives.
func (c *FeedList) SetItems(items []playback.ItemView, active, total int, loading, hasMore bool) {
	var selected string
	if idx, ok := c.Selected(); ok {
		selected = c.items[idx].Identity
	}
	listChanged := !sameIdentities(c.items, items)

	c.items = items
	c.active = active
	c.total = total
	c.loading = loading
	c.hasMore = hasMore

	if listChanged && c.filterQuery != "" {
		c.applyFilter()
	}
	if selected != "" && listChanged {
		for i := 0; i < c.filteredCount(); i++ {
			if c.items[c.mapIndex(i)].Identity == selected {
				c.cursor = i
				break
			}
		}
	}
	c.clampCursor()
}

func sameIdentities(a, b []playback.ItemView) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Identity != b[i].Identity {
			return false
		}
	}
	return true
}

// SetSize sets the outer dimensions including the border
func (c *FeedList) SetSize(width, height int) {
	c.width = width
	c.height = height
	c.recalcMaxVisible()
}

// SetFocused toggles the active border
func (c *FeedList) SetFocused(focused bool) { c.focused = focused }

func (c *FeedList) recalcMaxVisible() {
	lines := c.height - BorderHeight - chromeLines
	if c.filterActive {
		lines--
	}
	c.maxVisible = max(lines, 1)
	c.ensureVisible()
}

// Selected returns the item index under the cursor
func (c *FeedList) Selected() (int, bool) {
	if c.filteredCount() == 0 {
		return 0, false
	}
	return c.mapIndex(c.cursor), true
}

// AtEnd reports whether the cursor sits on the last loaded row
func (c *FeedList) AtEnd() bool {
	return c.filteredIdx == nil && c.cursor >= len(c.items)-1
}

// Focus moves the cursor to item index i when it is visible under the filter
func (c *FeedList) Focus(i int) {
	for pos := 0; pos < c.filteredCount(); pos++ {
		if c.mapIndex(pos) == i {
			c.cursor = pos
			c.ensureVisible()
			return
		}
	}
}

func (c *FeedList) MoveUp()   { c.move(-1) }
func (c *FeedList) MoveDown() { c.move(1) }
func (c *FeedList) HalfUp()   { c.move(-max(c.maxVisible/2, 1)) }
func (c *FeedList) HalfDown() { c.move(max(c.maxVisible/2, 1)) }
func (c *FeedList) Top()      { c.cursor = 0; c.ensureVisible() }
func (c *FeedList) Bottom()   { c.cursor = c.filteredCount() - 1; c.clampCursor() }

func (c *FeedList) move(delta int) {
	c.cursor += delta
	c.clampCursor()
}

func (c *FeedList) clampCursor() {
	c.cursor = min(c.cursor, c.filteredCount()-1)
	c.cursor = max(c.cursor, 0)
	c.ensureVisible()
}

func (c *FeedList) ensureVisible() {
	// Don't adjust offset if size hasn't been set yet
	if c.maxVisible <= 0 {
		return
	}
	if c.cursor < c.offset {
		c.offset = c.cursor
	}
	if c.cursor >= c.offset+c.maxVisible {
		c.offset = c.cursor - c.maxVisible + 1
	}
}

// Filtering

// FilterActive reports whether the filter bar has focus
func (c *FeedList) FilterActive() bool { return c.filterActive }

// FilterQuery returns the applied query
func (c *FeedList) FilterQuery() string { return c.filterQuery }

// StartFilter opens the filter bar
func (c *FeedList) StartFilter() tea.Cmd {
	c.filterActive = true
	c.recalcMaxVisible()
	return c.filterInput.Focus()
}

// HandleFilterKey feeds a key to the filter bar. Enter keeps the filter and
// closes the bar; esc clears it.
func (c *FeedList) HandleFilterKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		c.ClearFilter()
		return nil
	case "enter":
		c.filterActive = false
		c.filterInput.Blur()
		c.recalcMaxVisible()
		return nil
	}
	var cmd tea.Cmd
	c.filterInput, cmd = c.filterInput.Update(msg)
	c.applyFilter()
	return cmd
}

// ClearFilter drops the query and shows every row
func (c *FeedList) ClearFilter() {
	c.filterActive = false
	c.filterQuery = ""
	c.filteredIdx = nil
	c.filterInput.SetValue("")
	c.filterInput.Blur()
	c.recalcMaxVisible()
	c.Focus(c.active)
}

func (c *FeedList) applyFilter() {
	query := c.filterInput.Value()
	c.filterQuery = query

	if query == "" {
		c.filteredIdx = nil
		return
	}

	lowerTitles := make([]string, len(c.items))
	for i, it := range c.items {
		lowerTitles[i] = strings.ToLower(it.Item.DisplayTitle() + " " + it.Item.Author())
	}

	matches := fuzzy.Find(strings.ToLower(query), lowerTitles)
	c.filteredIdx = make([]int, len(matches))
	for i, match := range matches {
		c.filteredIdx[i] = match.Index
	}

	// Reset cursor to first match
	c.cursor = 0
	c.offset = 0
}

func (c *FeedList) filteredCount() int {
	if c.filteredIdx != nil {
		return len(c.filteredIdx)
	}
	return len(c.items)
}

func (c *FeedList) mapIndex(i int) int {
	if c.filteredIdx != nil && i < len(c.filteredIdx) {
		return c.filteredIdx[i]
	}
	return i
}

// Rendering

// View renders the bordered list
func (c *FeedList) View() string {
	border := styles.InactiveBorder
	if c.focused {
		border = styles.ActiveBorder
	}
	return border.
		Width(max(c.width-BorderWidth, 0)).
		Height(max(c.height-BorderHeight, 0)).
		Render(c.renderContent())
}

func (c *FeedList) renderContent() string {
	itemWidth := max(c.width-BorderWidth, 10)

	heading := c.title
	if c.total > 0 {
		heading = fmt.Sprintf("%s (%d/%d)", c.title, len(c.items), c.total)
	}
	titleLine := styles.AccentStyle.Render(styles.Truncate(heading, itemWidth))

	count := c.filteredCount()
	if count == 0 {
		msg := "No items"
		switch {
		case c.loading:
			msg = styles.SpinnerFrames[c.spinnerFrame%len(styles.SpinnerFrames)] + " Loading..."
		case c.filterQuery != "":
			msg = "No matches"
		}
		content := titleLine + "\n \n" + styles.DimStyle.Render(msg) + "\n "
		if c.filterActive {
			content += "\n" + c.filterInput.View()
		}
		return content
	}

	end := min(c.offset+c.maxVisible, count)
	lines := make([]string, 0, end-c.offset)
	for i := c.offset; i < end; i++ {
		idx := c.mapIndex(i)
		lines = append(lines, c.renderItem(c.items[idx], idx == c.active, i == c.cursor, itemWidth))
	}

	// ALWAYS reserve space for header (even if empty) to prevent layout shifts
	header := " "
	if c.offset > 0 {
		header = styles.DimStyle.Render("↑ more")
	}

	footer := " "
	switch {
	case end < count:
		footer = styles.DimStyle.Render("↓ more")
	case c.loading:
		footer = styles.DimStyle.Render(styles.SpinnerFrames[c.spinnerFrame%len(styles.SpinnerFrames)] + " loading more")
	case c.hasMore && c.filteredIdx == nil:
		footer = styles.DimStyle.Render("↓ G to load more")
	}

	content := titleLine + "\n" + header + "\n" + strings.Join(lines, "\n") + "\n" + footer
	if c.filterActive {
		content += "\n" + c.filterInput.View()
	} else if c.filterQuery != "" {
		content += "\n" + styles.FilterStyle.Render("/ "+c.filterQuery)
	}
	return content
}

func (c *FeedList) renderItem(it playback.ItemView, active, selected bool, width int) string {
	marker := "  "
	if active {
		marker = "▶ "
	}
	status := styles.RenderWatchStatus(it.Status, it.Item.IsLive())

	label := it.Label
	if it.Item.IsLive() {
		label = "LIVE"
	}
	author := it.Item.Author()

	fixed := lipgloss.Width(marker) + 2 + lipgloss.Width(label) + 1 + lipgloss.Width(author) + 3
	title := styles.Truncate(it.Item.DisplayTitle(), max(width-fixed, 8))

	accent := styles.Accent
	dim := styles.DimGray
	parts := []styles.RowPart{
		{Text: marker, Foreground: &accent},
		{Text: status + " "},
		{Text: title},
	}
	if author != "" {
		parts = append(parts, styles.RowPart{Text: "  " + author, Foreground: &dim})
	}
	if label != "" {
		parts = append(parts, styles.RowPart{Text: " " + label, Foreground: &accent})
	}
	return styles.RenderListRow(parts, selected, width)
}
