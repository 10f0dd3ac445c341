package domain

import "fmt"

// FilterKind selects which server list the feed mirrors
type FilterKind string

const (
	FilterDaily    FilterKind = "daily"
	FilterPlaylist FilterKind = "playlist"
)

// FeedFilter identifies one server-side list.
// A daily filter with AuthorID set lists a single author's works.
type FeedFilter struct {
	Kind       FilterKind
	AuthorID   string
	PlaylistID string
}

// Key returns a stable string for logging and comparisons
func (f FeedFilter) Key() string {
	switch {
	case f.Kind == FilterPlaylist:
		return fmt.Sprintf("playlist:%s", f.PlaylistID)
	case f.AuthorID != "":
		return fmt.Sprintf("author:%s", f.AuthorID)
	default:
		return string(FilterDaily)
	}
}

// FeedPage is one page of the server feed
type FeedPage struct {
	Total      int        `json:"total"`
	VideoTotal int        `json:"video_total"`
	LiveTotal  int        `json:"live_total"`
	Items      []FeedItem `json:"items"`
}

// Feed refresh reasons pushed by the server
const (
	ReasonVideo   = "video"
	ReasonLive    = "live"
	ReasonDelete  = "delete"
	ReasonCleanup = "cleanup"
)

// FeedEvent is a push notification that the server list changed
type FeedEvent struct {
	Reason string `json:"reason"`
	At     string `json:"at"`
}

// IsDeletion reports whether the event announces removed content
func (e FeedEvent) IsDeletion() bool {
	return e.Reason == ReasonDelete || e.Reason == ReasonCleanup
}

// NetworkInfo is what the server knows about the client's network position
type NetworkInfo struct {
	IP                  string `json:"ip"`
	IsLAN               bool   `json:"is_lan"`
	WebDAVBaseURL       string `json:"webdav_base_url"`
	WebDAVOriginBaseURL string `json:"webdav_origin_base_url"`
}

// Playlist is a named server-side collection
type Playlist struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ItemCount int    `json:"item_count"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Author is a followed account that has works on the server
type Author struct {
	SecUserID   string `json:"sec_user_id"`
	UID         string `json:"uid"`
	Nickname    string `json:"nickname"`
	Avatar      string `json:"avatar"`
	IsLive      bool   `json:"is_live"`
	HasNewToday bool   `json:"has_new_today"`
	LastLiveAt  string `json:"last_live_at"`
}

// DisplayName returns the nickname, falling back to the account id
func (a Author) DisplayName() string {
	if a.Nickname != "" {
		return a.Nickname
	}
	return a.SecUserID
}
