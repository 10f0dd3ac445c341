package domain

import "context"

// FeedClient pages through a server-side list
type FeedClient interface {
	Feed(ctx context.Context, filter FeedFilter, page, pageSize int) (FeedPage, error)
}

// DetailClient resolves playback information for a single item
type DetailClient interface {
	Detail(ctx context.Context, awemeID string) (*ItemDetail, error)
	LiveRoom(ctx context.Context, secUserID string) (*LiveRoomInfo, error)
	Prefetch(ctx context.Context, url string, size int64) (int64, error)
}

// PlaylistClient mutates and queries collection membership
type PlaylistClient interface {
	CheckMembership(ctx context.Context, playlistID string, awemeIDs []string) ([]string, error)
	AddToPlaylist(ctx context.Context, playlistID string, awemeIDs []string) (int, error)
	RemoveFromPlaylist(ctx context.Context, playlistID string, awemeIDs []string) (int, error)
}

// FeedSubscriber streams server push notifications until ctx is done
type FeedSubscriber interface {
	Subscribe(ctx context.Context, handle func(FeedEvent)) error
}
