package domain

import (
	"fmt"
	"time"
)

// ItemType distinguishes feed content types
type ItemType string

const (
	ItemTypeVideo      ItemType = "video"
	ItemTypeNote       ItemType = "note"
	ItemTypeLive       ItemType = "live"
	ItemTypeLiveRecord ItemType = "live_record"
)

// FeedItem is a single entry of the server feed. It is immutable once received
// and replaced wholesale on each refresh.
type FeedItem struct {
	Type      ItemType `json:"type"`
	AwemeID   string   `json:"aweme_id"`
	SecUserID string   `json:"sec_user_id"`
	UID       string   `json:"uid"`
	Nickname  string   `json:"nickname"`
	Avatar    string   `json:"avatar"`
	Title     string   `json:"title"`
	Cover     string   `json:"cover"`
	SortTime  string   `json:"sort_time"`
	PlayCount int      `json:"play_count"`
	VideoURL  string   `json:"video_url"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`

	// Live-only fields
	RoomID        string            `json:"room_id"`
	WebRID        string            `json:"web_rid"`
	LiveURL       string            `json:"live_url"`
	LastLiveAt    string            `json:"last_live_at"`
	FLVPullURL    map[string]string `json:"flv_pull_url"`
	HLSPullURLMap map[string]string `json:"hls_pull_url_map"`
}

// IsLive returns true for items that are broadcasting right now
func (f FeedItem) IsLive() bool {
	return f.Type == ItemTypeLive
}

// Identity returns the stable cache key for this item
func (f FeedItem) Identity() string {
	return Identity(f)
}

// Author returns the best display name for the item's author
func (f FeedItem) Author() string {
	if f.Nickname != "" {
		return f.Nickname
	}
	return f.SecUserID
}

// DisplayTitle returns the title, falling back to the content id
func (f FeedItem) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	if f.IsLive() {
		return "Live"
	}
	return f.AwemeID
}

// Orientation returns "portrait", "landscape" or "" when dimensions are unknown
func (f FeedItem) Orientation() string {
	switch {
	case f.Width <= 0 || f.Height <= 0:
		return ""
	case f.Height > f.Width:
		return "portrait"
	default:
		return "landscape"
	}
}

// SourceCandidate is one playable URL option for an item
type SourceCandidate struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	URL      string `json:"url"`
	NeedAuth bool   `json:"need_auth,omitempty"`
}

// ItemDetail is the detail payload for recorded content
type ItemDetail struct {
	AwemeID            string            `json:"aweme_id"`
	Title              string            `json:"title"`
	Cover              string            `json:"cover"`
	Type               ItemType          `json:"type"`
	VideoURL           string            `json:"video_url"`
	AudioURL           string            `json:"audio_url"`
	VideoURLs          []SourceCandidate `json:"video_urls"`
	DefaultVideoSource string            `json:"default_video_source"`
	LocalPath          string            `json:"local_path"`
	UploadEnabled      bool              `json:"upload_enabled"`
	UploadStatus       string            `json:"upload_status"`
	UploadedURL        string            `json:"uploaded_url"`
	UploadedOriginURL  string            `json:"uploaded_origin_url"`
	SecUserID          string            `json:"sec_user_id"`
	Nickname           string            `json:"nickname"`
	Avatar             string            `json:"avatar"`
	Width              int               `json:"width"`
	Height             int               `json:"height"`
}

// LiveRoom carries the pull-URL maps of a broadcasting room
type LiveRoom struct {
	Title         string            `json:"title"`
	Cover         string            `json:"cover"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	FLVPullURL    map[string]string `json:"flv_pull_url"`
	HLSPullURLMap map[string]string `json:"hls_pull_url_map"`
}

// LiveRoomInfo is the live status of an author
type LiveRoomInfo struct {
	LiveStatus bool     `json:"live_status"`
	RoomID     string   `json:"room_id"`
	WebRID     string   `json:"web_rid"`
	Title      string   `json:"title"`
	Room       LiveRoom `json:"room"`
}

// PlaybackRecord is the persisted progress of one Identity
type PlaybackRecord struct {
	Time      time.Duration `json:"time"`
	Duration  time.Duration `json:"duration"`
	Completed bool          `json:"completed"`
	Progress  int           `json:"progress"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// WatchStatus mirrors the indicator shown next to a feed entry
type WatchStatus int

const (
	WatchStatusUnwatched WatchStatus = iota
	WatchStatusInProgress
	WatchStatusWatched
)

// WatchStatus returns the indicator state for the record
func (r PlaybackRecord) WatchStatus() WatchStatus {
	if r.Completed {
		return WatchStatusWatched
	}
	if r.Progress > 0 || r.Time > 0 {
		return WatchStatusInProgress
	}
	return WatchStatusUnwatched
}

// ProgressLabel returns the short label rendered next to a feed entry
func (r PlaybackRecord) ProgressLabel() string {
	switch r.WatchStatus() {
	case WatchStatusWatched:
		return "watched"
	case WatchStatusInProgress:
		return fmt.Sprintf("%d%%", r.Progress)
	default:
		return ""
	}
}
