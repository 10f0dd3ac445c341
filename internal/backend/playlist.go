package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type itemsRequest struct {
	AwemeIDs []string `json:"aweme_ids"`
}

func playlistPath(playlistID, suffix string) string {
	return fmt.Sprintf("/client/douyin/playlists/%s/items%s", url.PathEscape(playlistID), suffix)
}

// CheckMembership returns the subset of awemeIDs present in the playlist
func (c *Client) CheckMembership(ctx context.Context, playlistID string, awemeIDs []string) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, playlistPath(playlistID, "/check"), nil, itemsRequest{AwemeIDs: awemeIDs})
	if err != nil {
		return nil, err
	}
	var data struct {
		Exists []string `json:"exists"`
	}
	if err := decodeData(body, &data); err != nil {
		return nil, err
	}
	return data.Exists, nil
}

// AddToPlaylist inserts awemeIDs and returns how many were new
func (c *Client) AddToPlaylist(ctx context.Context, playlistID string, awemeIDs []string) (int, error) {
	body, err := c.doRequest(ctx, http.MethodPost, playlistPath(playlistID, ""), nil, itemsRequest{AwemeIDs: awemeIDs})
	if err != nil {
		return 0, err
	}
	var data struct {
		Inserted int `json:"inserted"`
	}
	if err := decodeData(body, &data); err != nil {
		return 0, err
	}
	return data.Inserted, nil
}

// RemoveFromPlaylist deletes awemeIDs and returns how many were removed
func (c *Client) RemoveFromPlaylist(ctx context.Context, playlistID string, awemeIDs []string) (int, error) {
	body, err := c.doRequest(ctx, http.MethodPost, playlistPath(playlistID, "/remove"), nil, itemsRequest{AwemeIDs: awemeIDs})
	if err != nil {
		return 0, err
	}
	var data struct {
		Removed int `json:"removed"`
	}
	if err := decodeData(body, &data); err != nil {
		return 0, err
	}
	return data.Removed, nil
}
