package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/playback"
	"github.com/mmcdole/feedplay/internal/tui/components"
	"github.com/mmcdole/feedplay/internal/tui/styles"
)

// ApplicationState represents the current state of the application
type ApplicationState int

const (
	StateBrowsing ApplicationState = iota
	StateHelp
)

// Layout proportions
const (
	ListColumnPercent = 58
	MinColumnWidth    = 30

	// Vertical layout: header and footer lines
	ChromeHeight = 2
)

// Runner executes work on the engine loop
type Runner interface {
	Do(fn func()) error
}

// Catalog lists what the viewer can switch the feed to
type Catalog interface {
	Playlists(ctx context.Context) ([]domain.Playlist, error)
	Authors(ctx context.Context) ([]domain.Author, error)
}

// Model is the main Bubble Tea model for the application
type Model struct {
	State ApplicationState
	Ready bool

	loop    Runner
	ctrl    *playback.Controller
	catalog Catalog
	logger  *slog.Logger
	mail    *mailbox

	// UI Components
	List       *components.FeedList
	NowPlaying components.NowPlaying
	Picker     components.Picker
	pickerKind pickerKind

	snap        playback.Snapshot
	lastActive  int
	filterNames map[string]string

	// Dimensions
	Width  int
	Height int

	// UI state
	StatusMsg    string
	StatusIsErr  bool
	SpinnerFrame int
}

// NewModel creates a new application model
func NewModel(loop Runner, ctrl *playback.Controller, catalog Catalog, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}
	return Model{
		State:       StateBrowsing,
		loop:        loop,
		ctrl:        ctrl,
		catalog:     catalog,
		logger:      logger,
		mail:        newMailbox(),
		List:        components.NewFeedList(),
		Picker:      components.NewPicker(),
		lastActive:  -1,
		filterNames: make(map[string]string),
	}
}

// Init initializes the application
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.snapshot(), tick(), m.mail.wait())
}

// Update handles all messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Ready = true
		m.updateLayout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tickMsg:
		m.SpinnerFrame++
		m.List.SetSpinnerFrame(m.SpinnerFrame)
		return m, tea.Batch(m.snapshot(), tick())

	case snapshotMsg:
		m.applySnapshot(msg.snap)
		if msg.err != nil {
			m.setError(msg.err)
		}
		return m, nil

	case catalogMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		title := "Authors"
		if msg.kind == pickPlaylist {
			title = "Playlists"
		}
		m.pickerKind = msg.kind
		return m, m.Picker.Show(title, msg.entries)

	case membershipMsg:
		if msg.err != nil {
			m.setError(msg.err)
		} else if msg.member {
			m.setStatus("added to playlist")
		} else {
			m.setStatus("removed from playlist")
		}
		return m, tea.Batch(m.snapshot(), m.mail.wait())

	case loopClosedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.State == StateHelp {
		m.State = StateBrowsing
		return m, nil
	}

	if m.Picker.IsVisible() {
		chosen, _, cmd := m.Picker.HandleKeyMsg(msg)
		if chosen != nil {
			return m, m.choose(*chosen)
		}
		return m, cmd
	}

	if m.List.FilterActive() {
		return m, m.List.HandleFilterKey(msg)
	}

	k := Keys
	switch {
	case matches(msg, k.Quit):
		return m, tea.Quit
	case matches(msg, k.Help):
		m.State = StateHelp
	case matches(msg, k.Escape):
		if m.List.FilterQuery() != "" {
			m.List.ClearFilter()
		}
		m.StatusMsg = ""

	case matches(msg, k.Up):
		m.List.MoveUp()
	case matches(msg, k.Down):
		m.List.MoveDown()
		return m, m.loadMoreAtEnd()
	case matches(msg, k.HalfUp):
		m.List.HalfUp()
	case matches(msg, k.HalfDown):
		m.List.HalfDown()
		return m, m.loadMoreAtEnd()
	case matches(msg, k.Home):
		m.List.Top()
	case matches(msg, k.End):
		m.List.Bottom()
		return m, m.loadMoreAtEnd()
	case matches(msg, k.Enter):
		idx, ok := m.List.Selected()
		if !ok {
			break
		}
		if idx == m.snap.ActiveIndex {
			return m, m.act((*playback.Controller).Resume)
		}
		return m, m.act(func(c *playback.Controller) error { return c.SelectItem(idx, true) })

	case matches(msg, k.Next):
		return m, m.act((*playback.Controller).PlayNext)
	case matches(msg, k.Previous):
		return m, m.act((*playback.Controller).PlayPrevious)
	case matches(msg, k.Replay):
		idx, ok := m.List.Selected()
		if !ok || idx == m.snap.ActiveIndex {
			return m, m.act((*playback.Controller).Replay)
		}
		return m, m.act(func(c *playback.Controller) error { return c.ReplayItem(idx) })
	case matches(msg, k.Source):
		return m, m.act((*playback.Controller).CycleSource)
	case matches(msg, k.Authorize):
		return m, m.act((*playback.Controller).Authorize)
	case matches(msg, k.Playlist):
		return m, m.togglePlaylist()

	case matches(msg, k.Filter):
		return m, m.List.StartFilter()
	case matches(msg, k.Authors):
		return m, m.loadCatalog(pickAuthor)
	case matches(msg, k.Playlists):
		return m, m.loadCatalog(pickPlaylist)
	case matches(msg, k.Daily):
		return m, m.setFilter(domain.FeedFilter{Kind: domain.FilterDaily})
	case matches(msg, k.LoadMore):
		return m, m.act(func(c *playback.Controller) error { c.LoadMore(); return nil })
	}
	return m, nil
}

// act runs fn on the loop and returns the resulting snapshot
func (m Model) act(fn func(*playback.Controller) error) tea.Cmd {
	loop, ctrl := m.loop, m.ctrl
	return func() tea.Msg {
		var err error
		var snap playback.Snapshot
		if doErr := loop.Do(func() {
			err = fn(ctrl)
			snap = ctrl.Snapshot()
		}); doErr != nil {
			return loopClosedMsg{err: doErr}
		}
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) snapshot() tea.Cmd {
	return m.act(func(*playback.Controller) error { return nil })
}

func (m Model) loadMoreAtEnd() tea.Cmd {
	if !m.List.AtEnd() || !m.snap.HasMore || m.snap.Loading {
		return nil
	}
	return m.act(func(c *playback.Controller) error { c.LoadMore(); return nil })
}

func (m Model) setFilter(f domain.FeedFilter) tea.Cmd {
	m.List.ClearFilter()
	return m.act(func(c *playback.Controller) error { c.SetFilter(f); return nil })
}

func (m Model) togglePlaylist() tea.Cmd {
	mail := m.mail
	return m.act(func(c *playback.Controller) error {
		c.TogglePlaylistMembership(func(member bool, err error) {
			mail.send(membershipMsg{member: member, err: err})
		})
		return nil
	})
}

// loadCatalog fetches picker entries from the server
func (m Model) loadCatalog(kind pickerKind) tea.Cmd {
	catalog := m.catalog
	return func() tea.Msg {
		ctx := context.Background()
		var entries []components.PickerEntry
		switch kind {
		case pickPlaylist:
			playlists, err := catalog.Playlists(ctx)
			if err != nil {
				return catalogMsg{kind: kind, err: fmt.Errorf("load playlists: %w", err)}
			}
			for _, p := range playlists {
				entries = append(entries, components.PickerEntry{
					ID:     strconv.Itoa(p.ID),
					Label:  p.Name,
					Detail: fmt.Sprintf("%d items", p.ItemCount),
				})
			}
		default:
			authors, err := catalog.Authors(ctx)
			if err != nil {
				return catalogMsg{kind: kind, err: fmt.Errorf("load authors: %w", err)}
			}
			for _, a := range authors {
				detail := ""
				switch {
				case a.IsLive:
					detail = "live"
				case a.HasNewToday:
					detail = "new"
				}
				entries = append(entries, components.PickerEntry{ID: a.SecUserID, Label: a.DisplayName(), Detail: detail})
			}
		}
		return catalogMsg{kind: kind, entries: entries}
	}
}

func (m Model) choose(entry components.PickerEntry) tea.Cmd {
	f := domain.FeedFilter{Kind: domain.FilterDaily, AuthorID: entry.ID}
	if m.pickerKind == pickPlaylist {
		f = domain.FeedFilter{Kind: domain.FilterPlaylist, PlaylistID: entry.ID}
	}
	m.filterNames[f.Key()] = entry.Label
	return m.setFilter(f)
}

func (m *Model) applySnapshot(snap playback.Snapshot) {
	m.snap = snap
	m.List.SetTitle(m.filterTitle(snap.Filter))
	m.List.SetItems(snap.Items, snap.ActiveIndex, snap.Total, snap.Loading, snap.HasMore)
	// follow auto-advance and reconciliation moves
	if snap.ActiveIndex != m.lastActive && snap.ActiveIndex >= 0 {
		m.List.Focus(snap.ActiveIndex)
	}
	m.lastActive = snap.ActiveIndex
}

func (m Model) filterTitle(f domain.FeedFilter) string {
	name := m.filterNames[f.Key()]
	switch {
	case f.Kind == domain.FilterPlaylist:
		return "Playlist · " + fallback(name, f.PlaylistID)
	case f.AuthorID != "":
		return "Author · " + fallback(name, f.AuthorID)
	default:
		return "Today"
	}
}

func fallback(s, alt string) string {
	if s != "" {
		return s
	}
	return alt
}

func (m *Model) setStatus(s string) {
	m.StatusMsg = s
	m.StatusIsErr = false
}

func (m *Model) setError(err error) {
	m.logger.Debug("action failed", "error", err)
	switch {
	case errors.Is(err, domain.ErrNoSession):
		m.StatusMsg = "nothing is playing"
	default:
		m.StatusMsg = err.Error()
	}
	m.StatusIsErr = true
}

func (m *Model) updateLayout() {
	contentHeight := max(m.Height-ChromeHeight, 3)
	listWidth := max(m.Width*ListColumnPercent/100, MinColumnWidth)
	m.List.SetSize(listWidth, contentHeight)
	m.NowPlaying.SetSize(max(m.Width-listWidth, 0), contentHeight)
}

// View renders the screen
func (m Model) View() string {
	if !m.Ready {
		return "Loading..."
	}
	if m.State == StateHelp {
		return m.renderHelp()
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.List.View(), m.NowPlaying.View(m.snap))
	screen := lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderFooter())

	if m.Picker.IsVisible() {
		return lipgloss.Place(m.Width, m.Height, lipgloss.Center, lipgloss.Center, m.Picker.View())
	}
	return screen
}

func (m Model) renderHeader() string {
	left := styles.AccentStyle.Bold(true).Render("feedplay") + styles.DimStyle.Render(" · "+m.filterTitle(m.snap.Filter))
	right := ""
	if m.snap.Session != nil {
		right = styles.DimStyle.Render(m.snap.Session.SourceID)
	}
	gap := max(m.Width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderFooter() string {
	var left string
	switch {
	case m.StatusMsg != "" && m.StatusIsErr:
		left = styles.ErrorStyle.Render(m.StatusMsg)
	case m.StatusMsg != "":
		left = styles.DimStyle.Render(m.StatusMsg)
	case m.snap.Loading:
		left = styles.DimStyle.Render("Loading...")
	}

	var hints []string
	for _, b := range Keys.ShortHelp() {
		h := b.Help()
		hints = append(hints, styles.HelpKeyStyle.Render(h.Key)+" "+styles.HelpDescStyle.Render(h.Desc))
	}
	right := strings.Join(hints, "  ")

	gap := m.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		// Not enough space - just left + help hint
		right = styles.AccentStyle.Render("?") + styles.DimStyle.Render(" help")
		gap = max(m.Width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	}
	return left + strings.Repeat(" ", gap) + right
}

// renderHelp renders the help screen
func (m Model) renderHelp() string {
	var cols []string
	for _, group := range Keys.FullHelp() {
		var lines []string
		for _, b := range group {
			h := b.Help()
			lines = append(lines, styles.HelpKeyStyle.Render(fmt.Sprintf("%-8s", h.Key))+" "+styles.HelpDescStyle.Render(h.Desc))
		}
		cols = append(cols, lipgloss.NewStyle().MarginRight(4).Render(strings.Join(lines, "\n")))
	}
	help := styles.ModalTitleStyle.Render("Keys") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, cols...) + "\n\n" +
		styles.DimStyle.Render("Press any key to return...")

	return lipgloss.Place(m.Width, m.Height,
		lipgloss.Center, lipgloss.Center,
		styles.ModalStyle.Render(help))
}
