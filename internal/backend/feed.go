package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/feedplay/internal/domain"
)

// Feed returns one page of the list selected by filter
func (c *Client) Feed(ctx context.Context, filter domain.FeedFilter, page, pageSize int) (domain.FeedPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(max(page, 1)))
	query.Set("page_size", strconv.Itoa(max(pageSize, 1)))

	var path string
	switch filter.Kind {
	case domain.FilterPlaylist:
		if filter.PlaylistID == "" {
			return domain.FeedPage{}, fmt.Errorf("playlist filter without id")
		}
		path = fmt.Sprintf("/client/douyin/playlists/%s/feed", url.PathEscape(filter.PlaylistID))
	default:
		path = "/client/douyin/daily/feed"
		if filter.AuthorID != "" {
			query.Set("sec_user_id", filter.AuthorID)
		}
	}

	body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return domain.FeedPage{}, err
	}

	var result domain.FeedPage
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("JSON parse error", "error", err, "bodyLen", len(body))
		return domain.FeedPage{}, fmt.Errorf("failed to parse feed: %w", err)
	}
	return result, nil
}

// Detail fetches playback information for a recorded item. Concurrent calls
// for the same id share one request.
func (c *Client) Detail(ctx context.Context, awemeID string) (*domain.ItemDetail, error) {
	awemeID = strings.TrimSpace(awemeID)
	if awemeID == "" {
		return nil, fmt.Errorf("detail: %w", domain.ErrContentGone)
	}

	v, err, shared := c.details.Do(awemeID, func() (any, error) {
		query := url.Values{}
		query.Set("aweme_id", awemeID)
		body, err := c.doRequest(ctx, http.MethodGet, "/client/douyin/detail", query, nil)
		if err != nil {
			return nil, err
		}
		var detail domain.ItemDetail
		if err := decodeData(body, &detail); err != nil {
			return nil, err
		}
		if detail.AwemeID == "" {
			detail.AwemeID = awemeID
		}
		return &detail, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("detail request shared", "awemeID", awemeID)
	}

	// callers may mutate their copy
	detail := *v.(*domain.ItemDetail)
	detail.VideoURLs = append([]domain.SourceCandidate(nil), detail.VideoURLs...)
	return &detail, nil
}

// LiveRoom asks the server to refresh and return an author's live status
func (c *Client) LiveRoom(ctx context.Context, secUserID string) (*domain.LiveRoomInfo, error) {
	secUserID = strings.TrimSpace(secUserID)
	if secUserID == "" {
		return nil, fmt.Errorf("live room: %w", domain.ErrContentGone)
	}
	path := fmt.Sprintf("/client/douyin/users/%s/live", url.PathEscape(secUserID))
	body, err := c.doRequest(ctx, http.MethodPost, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var info domain.LiveRoomInfo
	if err := decodeData(body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Network reports how the server sees this client
func (c *Client) Network(ctx context.Context) (*domain.NetworkInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/client/network", nil, nil)
	if err != nil {
		return nil, err
	}
	var info domain.NetworkInfo
	if err := decodeData(body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type listPage[T any] struct {
	Total int `json:"total"`
	Items []T `json:"items"`
}

// Playlists returns the server's collections
func (c *Client) Playlists(ctx context.Context) ([]domain.Playlist, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("page_size", "100")
	body, err := c.doRequest(ctx, http.MethodGet, "/client/douyin/playlists", query, nil)
	if err != nil {
		return nil, err
	}
	var page listPage[domain.Playlist]
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse playlists: %w", err)
	}
	return page.Items, nil
}

// Authors returns the accounts that have works on the server
func (c *Client) Authors(ctx context.Context) ([]domain.Author, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("page_size", "500")
	body, err := c.doRequest(ctx, http.MethodGet, "/client/douyin/users/with-works", query, nil)
	if err != nil {
		return nil, err
	}
	var page listPage[domain.Author]
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse authors: %w", err)
	}
	return page.Items, nil
}
