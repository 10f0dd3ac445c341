package playback

import (
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/feedplay/internal/domain"
)

// Session is the in-memory state of the active item. A new Session is created
// on every navigation; async results holding an older Session are dropped.
type Session struct {
	ID       string
	Identity string
	Index    int
	Item     domain.FeedItem

	Candidates []domain.SourceCandidate
	SourceID   string
	Resolving  bool
	NoStream   bool
	ResolveErr error

	ResumeOffset      time.Duration
	SuppressAutoplay  bool
	ReplayReady       bool
	PendingPreference string

	MemberKnown bool
	Member      bool

	duration    time.Duration
	lastPersist time.Time
}

func newSession(index int, item domain.FeedItem) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Identity: item.Identity(),
		Index:    index,
		Item:     item,
	}
}

func (s *Session) candidate(id string) (domain.SourceCandidate, bool) {
	for _, c := range s.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return domain.SourceCandidate{}, false
}
