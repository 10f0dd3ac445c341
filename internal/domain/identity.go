package domain

import "strings"

// Identity prefixes, one per content type
const (
	prefixVideo  = "video"
	prefixNote   = "note"
	prefixRecord = "record"
	prefixLive   = "live"
)

// Identity derives the type-qualified cache key for a feed item.
// Live items are keyed by the best available live id; recorded items by their
// content id. An empty string means the item is not cacheable or resumable.
func Identity(item FeedItem) string {
	if item.Type == ItemTypeLive {
		for _, id := range []string{item.SecUserID, item.RoomID, item.WebRID} {
			if id = strings.TrimSpace(id); id != "" {
				return prefixLive + ":" + id
			}
		}
		return ""
	}
	return recordedIdentity(item.Type, item.AwemeID)
}

func recordedIdentity(t ItemType, contentID string) string {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return ""
	}
	switch t {
	case ItemTypeNote:
		return prefixNote + ":" + contentID
	case ItemTypeLiveRecord:
		return prefixRecord + ":" + contentID
	default:
		return prefixVideo + ":" + contentID
	}
}
