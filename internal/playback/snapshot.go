package playback

import (
	"time"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/stream"
)

// ItemView is a list row with its progress projection
type ItemView struct {
	Item     domain.FeedItem
	Identity string
	Progress int
	Label    string
	Status   domain.WatchStatus
}

// SessionView is a read-only copy of the active session
type SessionView struct {
	ID           string
	Identity     string
	Index        int
	Item         domain.FeedItem
	Candidates   []domain.SourceCandidate
	SourceID     string
	Resolving    bool
	NoStream     bool
	ReplayReady  bool
	ResumeOffset time.Duration
	MemberKnown  bool
	Member       bool
	Position     time.Duration
	Duration     time.Duration
}

// Snapshot is everything a view needs to render one frame
type Snapshot struct {
	Revision      uint64
	ActiveIndex   int
	Session       *SessionView
	State         stream.State
	AuthURL       string
	Notice        string
	Err           error
	AudioUnlocked bool

	Filter  domain.FeedFilter
	Items   []ItemView
	Total   int
	Loading bool
	HasMore bool
}

// Snapshot copies the controller state. It must run on the loop.
func (c *Controller) Snapshot() Snapshot {
	items := c.feed.Items()
	views := make([]ItemView, len(items))
	for i, item := range items {
		id := item.Identity()
		rec, _ := c.records.Get(id)
		views[i] = ItemView{
			Item:     item,
			Identity: id,
			Progress: rec.Progress,
			Label:    rec.ProgressLabel(),
			Status:   rec.WatchStatus(),
		}
	}

	snap := Snapshot{
		Revision:      c.revision + c.records.Revision(),
		ActiveIndex:   c.ActiveIndex(),
		State:         c.stream.State(),
		AuthURL:       c.stream.AuthURL(),
		Notice:        c.notice,
		Err:           c.err,
		AudioUnlocked: c.audioUnlocked,
		Filter:        c.feed.Filter(),
		Items:         views,
		Total:         c.feed.Total(),
		Loading:       c.feed.Loading(),
		HasMore:       c.feed.HasMore(),
	}
	if s := c.sess; s != nil {
		snap.Session = &SessionView{
			ID:           s.ID,
			Identity:     s.Identity,
			Index:        s.Index,
			Item:         s.Item,
			Candidates:   append([]domain.SourceCandidate(nil), s.Candidates...),
			SourceID:     s.SourceID,
			Resolving:    s.Resolving,
			NoStream:     s.NoStream,
			ReplayReady:  s.ReplayReady,
			ResumeOffset: s.ResumeOffset,
			MemberKnown:  s.MemberKnown,
			Member:       s.Member,
			Position:     max(c.stream.Position(), c.offsets[s.Identity]),
			Duration:     s.duration,
		}
	}
	return snap
}
