package playback

import (
	"errors"
	"fmt"

	"github.com/mmcdole/feedplay/internal/backend"
	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/metrics"
	"github.com/mmcdole/feedplay/internal/source"
)

// resolve fetches playback information off the loop and applies it to sess
// when it is still active. forced pins a candidate id for this resolution.
func (c *Controller) resolve(sess *Session, forced string) {
	sel := source.Selection{
		ForcedID:    forced,
		ActiveID:    sess.SourceID,
		PreferredID: c.prefs.SourcePreference(),
	}
	sess.Resolving = true

	if sess.Item.IsLive() {
		c.resolveLive(sess, sel)
		return
	}

	if detail, ok := c.prefetched[sess.Identity]; ok {
		delete(c.prefetched, sess.Identity)
		c.applyDetail(sess, detail, sel)
		return
	}

	awemeID := sess.Item.AwemeID
	c.rt.Go(func() {
		detail, err := c.backend.Detail(c.ctx, awemeID)
		c.rt.Post(func() {
			if c.sess != sess {
				c.logger.Debug("dropping stale detail", "identity", sess.Identity, "session", sess.ID)
				return
			}
			if err != nil {
				c.resolveFailed(sess, fmt.Errorf("detail %s: %w: %w", awemeID, domain.ErrResolutionFailure, err))
				return
			}
			c.applyDetail(sess, detail, sel)
		})
	})
}

func (c *Controller) resolveLive(sess *Session, sel source.Selection) {
	item := sess.Item
	apply := func(room *domain.LiveRoomInfo) {
		hls, flv := source.LiveMaps(item, room)
		res, err := c.sources.ResolveLive(sess.Identity, hls, flv, sel)
		if err != nil && room != nil && !room.LiveStatus {
			c.notice = NoticeLiveEnded
		}
		c.applyResult(sess, res, err)
	}

	if item.SecUserID == "" {
		apply(nil)
		return
	}
	c.rt.Go(func() {
		room, err := c.backend.LiveRoom(c.ctx, item.SecUserID)
		c.rt.Post(func() {
			if c.sess != sess {
				return
			}
			if err != nil {
				// The feed item still carries pull urls
				c.logger.Warn("live room lookup failed", "identity", sess.Identity, "error", err)
				room = nil
			}
			apply(room)
		})
	})
}

func (c *Controller) applyDetail(sess *Session, detail *domain.ItemDetail, sel source.Selection) {
	res, err := c.sources.Resolve(*detail, sel)
	c.applyResult(sess, res, err)
}

func (c *Controller) resolveFailed(sess *Session, err error) {
	sess.Resolving = false
	sess.ResolveErr = err
	if errors.Is(err, domain.ErrContentGone) {
		c.notice = NoticeContentRemoved
	}
	c.err = err
	c.logger.Warn("resolution failed", "identity", sess.Identity, "error", err)
	c.bump()
}

func (c *Controller) applyResult(sess *Session, res source.Result, err error) {
	if err != nil {
		c.resolveFailed(sess, err)
		return
	}
	sess.Resolving = false
	sess.Candidates = res.Candidates
	sess.SourceID = res.Selected
	defer c.bump()

	chosen, ok := res.Chosen()
	if !ok {
		sess.NoStream = true
		return
	}
	if sess.SuppressAutoplay {
		return
	}
	c.logger.Info("attaching source", "identity", sess.Identity, "source", chosen.ID, "offset", sess.ResumeOffset)
	c.attach(sess, chosen, sess.ResumeOffset)
}

// prefetchNext warms the detail and the first bytes of the item after sess
func (c *Controller) prefetchNext(sess *Session) {
	items := c.feed.Items()
	next := sess.Index + 1
	if next >= len(items) {
		return
	}
	item := items[next]
	if item.IsLive() || item.AwemeID == "" {
		return
	}
	identity := item.Identity()
	if _, ok := c.prefetched[identity]; ok {
		return
	}
	sel := source.Selection{PreferredID: c.prefs.SourcePreference()}
	size := c.opts.PrefetchBytes

	c.rt.Go(func() {
		detail, err := c.backend.Detail(c.ctx, item.AwemeID)
		if err != nil {
			metrics.RecordPrefetch("error")
			c.logger.Debug("prefetch detail failed", "identity", identity, "error", err)
			return
		}
		c.rt.Post(func() {
			if c.sess != sess {
				metrics.RecordPrefetch("stale")
				return
			}
			clear(c.prefetched)
			c.prefetched[identity] = detail

			res, err := c.sources.Resolve(*detail, sel)
			if err != nil {
				return
			}
			chosen, ok := res.Chosen()
			if !ok {
				return
			}
			if c.stream.Gated(chosen.URL, chosen.NeedAuth) {
				metrics.RecordPrefetch("gated")
				return
			}
			c.rt.Go(func() { c.prefetchBytes(identity, chosen.URL, size) })
		})
	})
}

func (c *Controller) prefetchBytes(identity, url string, size int64) {
	if _, err := c.backend.Prefetch(c.ctx, url, size); err != nil {
		if errors.Is(err, backend.ErrPrefetchLimited) {
			metrics.RecordPrefetch("limited")
		} else {
			metrics.RecordPrefetch("error")
		}
		c.logger.Debug("prefetch failed", "identity", identity, "error", err)
		return
	}
	metrics.RecordPrefetch("ok")
}
