package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/playback"
	"github.com/mmcdole/feedplay/internal/stream"
	"github.com/mmcdole/feedplay/internal/tui/styles"
)

// NowPlaying renders the active session panel
type NowPlaying struct {
	width  int
	height int
}

// SetSize sets the outer panel size
func (p *NowPlaying) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// View renders snap
func (p NowPlaying) View(snap playback.Snapshot) string {
	inner := max(p.width-4, 10)
	var lines []string

	s := snap.Session
	if s == nil {
		lines = append(lines, styles.DimStyle.Render("Nothing selected"))
	} else {
		lines = append(lines,
			styles.TitleStyle.Render(wrap(s.Item.DisplayTitle(), inner)),
			styles.SubtitleStyle.Render(s.Item.Author()),
			"",
			stateBadge(snap.State, s)+"  "+styles.DimStyle.Render(kindLabel(s.Item)),
		)

		if !s.Item.IsLive() && s.Duration > 0 {
			pct := float64(s.Position) / float64(s.Duration) * 100
			lines = append(lines, "",
				styles.RenderProgressBar(pct, max(inner-14, 3))+" "+
					styles.DimStyle.Render(fmt.Sprintf("%s/%s", clock(s.Position), clock(s.Duration))))
		} else if s.Position > 0 {
			lines = append(lines, "", styles.DimStyle.Render(clock(s.Position)))
		}

		if len(s.Candidates) > 0 {
			lines = append(lines, "", styles.AccentStyle.Render("Sources"))
			for _, c := range s.Candidates {
				prefix := "  "
				style := styles.DimStyle
				if c.ID == s.SourceID {
					prefix = "● "
					style = styles.SubtitleStyle
				}
				label := c.Label
				if label == "" {
					label = c.ID
				}
				if c.NeedAuth {
					label += " (LAN)"
				}
				lines = append(lines, style.Render(prefix+label))
			}
		}

		if s.MemberKnown {
			mark := styles.SubtitleStyle.Render("☆ not in playlist")
			if s.Member {
				mark = styles.SuccessStyle.Render("★ in playlist")
			}
			lines = append(lines, "", mark)
		}
	}

	if snap.AuthURL != "" {
		lines = append(lines, "",
			styles.WarningStyle.Render("LAN source needs authorization"),
			styles.DimStyle.Render(styles.Truncate(snap.AuthURL, inner)),
			styles.DimStyle.Render("press a to authorize"))
	}
	if snap.Notice != "" {
		lines = append(lines, "", styles.WarningStyle.Render(snap.Notice))
	}
	if kind := domain.Classify(snap.Err); kind.IsUserVisible() && kind != domain.KindAuthorization {
		lines = append(lines, "", styles.ErrorStyle.Render(wrap(snap.Err.Error(), inner)))
	}

	return styles.InspectorStyle.
		Width(max(p.width-2, 0)).
		Height(max(p.height-2, 0)).
		Render(strings.Join(lines, "\n"))
}

func stateBadge(state stream.State, s *playback.SessionView) string {
	switch {
	case s.ReplayReady:
		return styles.DimBadgeStyle.Render("watched · r to replay")
	case s.NoStream:
		return styles.DimBadgeStyle.Render("no stream")
	case s.Resolving:
		return styles.DimBadgeStyle.Render("resolving")
	case state == stream.StateIdle && len(s.Candidates) > 0:
		return styles.DimBadgeStyle.Render("stopped · enter to resume")
	}
	switch state {
	case stream.StatePlaying:
		return styles.BadgeStyle.Render("playing")
	case stream.StateFailed:
		return styles.DimBadgeStyle.Foreground(styles.Red).Render("failed")
	case stream.StateAuthRequired:
		return styles.DimBadgeStyle.Foreground(styles.Yellow).Render("needs auth")
	default:
		return styles.DimBadgeStyle.Render(string(state))
	}
}

func kindLabel(item domain.FeedItem) string {
	if o := item.Orientation(); o != "" {
		return string(item.Type) + " · " + o
	}
	return string(item.Type)
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func wrap(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}
