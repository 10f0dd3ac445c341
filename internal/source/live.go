package source

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mmcdole/feedplay/internal/domain"
)

// qualityRank orders pull-URL keys from best to worst
var qualityRank = map[string]int{
	"FULL_HD1": 0,
	"HD1":      1,
	"SD1":      2,
	"SD2":      3,
}

var qualityLabel = map[string]string{
	"FULL_HD1": "1080p",
	"HD1":      "720p",
	"SD1":      "480p",
	"SD2":      "360p",
}

// LiveMaps returns the pull-URL maps to resolve, preferring fresh room info
// over the maps carried by the feed item.
func LiveMaps(item domain.FeedItem, room *domain.LiveRoomInfo) (hls, flv map[string]string) {
	if room != nil && (len(room.Room.HLSPullURLMap) > 0 || len(room.Room.FLVPullURL) > 0) {
		return room.Room.HLSPullURLMap, room.Room.FLVPullURL
	}
	return item.HLSPullURLMap, item.FLVPullURL
}

// ResolveLive builds candidates for a live broadcast: HLS variants first,
// then FLV, each ordered by quality.
func (e *Engine) ResolveLive(identity string, hls, flv map[string]string, sel Selection) (Result, error) {
	list := newCandidateList()
	for _, key := range rankedKeys(hls) {
		list.add("hls:"+key, liveLabel("HLS", key), e.live(hls[key]), false)
	}
	for _, key := range rankedKeys(flv) {
		list.add("flv:"+key, liveLabel("FLV", key), e.live(flv[key]), false)
	}
	if list.empty() {
		return Result{}, fmt.Errorf("%s: no pull url: %w", identity, domain.ErrResolutionFailure)
	}

	res := Result{Candidates: list.items}
	res.Selected = Select(res.Candidates, sel, "")
	return res, nil
}

func (e *Engine) live(raw string) string {
	if raw == "" || !e.opts.ProxyUpstream {
		return raw
	}
	return e.urls.ProxyURL(raw, true)
}

func rankedKeys(m map[string]string) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, func(a, b string) int {
		ra, oka := qualityRank[a]
		rb, okb := qualityRank[b]
		switch {
		case oka && okb:
			return ra - rb
		case oka:
			return -1
		case okb:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
	return keys
}

func liveLabel(protocol, key string) string {
	if q, ok := qualityLabel[key]; ok {
		return fmt.Sprintf("%s %s", protocol, q)
	}
	return fmt.Sprintf("%s %s", protocol, key)
}
