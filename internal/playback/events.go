package playback

import (
	"fmt"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/feed"
	"github.com/mmcdole/feedplay/internal/store"
	"github.com/mmcdole/feedplay/internal/stream"
)

func (c *Controller) handleStreamEvent(ev stream.Event) {
	sess := c.sess
	if sess == nil {
		return
	}
	switch ev.Kind {
	case stream.EventState:
		switch ev.State {
		case stream.StatePlaying:
			c.err = nil
			if sess.PendingPreference != "" && sess.PendingPreference == ev.SourceID {
				c.prefs.SetSourcePreference(sess.PendingPreference)
				sess.PendingPreference = ""
			}
		case stream.StateAuthRequired:
			c.err = fmt.Errorf("%s: %w", c.stream.AuthURL(), domain.ErrAuthorizationRequired)
		}
		c.bump()
	case stream.EventProgress:
		c.onProgress(sess, ev)
	case stream.EventEnded:
		c.onEnded(sess, ev)
	case stream.EventStopped:
		c.onStopped(sess, ev)
	case stream.EventFailed:
		c.err = ev.Err
		c.bump()
	}
}

// onProgress caches the position and persists it at most once per interval
func (c *Controller) onProgress(sess *Session, ev stream.Event) {
	if sess.Item.IsLive() {
		return
	}
	c.offsets[sess.Identity] = ev.Position
	sess.duration = max(sess.duration, ev.Duration)

	now := c.rt.Now()
	if !sess.lastPersist.IsZero() && now.Sub(sess.lastPersist) < c.opts.ProgressInterval {
		return
	}
	sess.lastPersist = now
	c.records.Upsert(sess.Identity, store.Update{Time: ev.Position, Duration: sess.duration})
	c.bump()
}

// onEnded marks the item completed and advances, wrapping to the first item
func (c *Controller) onEnded(sess *Session, ev stream.Event) {
	if !sess.Item.IsLive() {
		dur := max(sess.duration, ev.Duration, ev.Position)
		c.records.MarkCompleted(sess.Identity, dur)
		c.offsets[sess.Identity] = dur
	}

	items := c.feed.Items()
	if len(items) <= 1 {
		sess.ReplayReady = true
		sess.SuppressAutoplay = true
		c.bump()
		return
	}
	next := (sess.Index + 1) % len(items)
	c.activate(next)
}

// onStopped keeps the session where the viewer closed the element. Nothing
// advances; Resume picks up from the stored position.
func (c *Controller) onStopped(sess *Session, ev stream.Event) {
	if !sess.Item.IsLive() {
		c.offsets[sess.Identity] = max(c.offsets[sess.Identity], ev.Position)
		sess.duration = max(sess.duration, ev.Duration)
	}
	c.stream.Detach()
	c.persistOutgoing()
	sess.ResumeOffset = c.offsets[sess.Identity]
	c.logger.Info("playback stopped by viewer", "identity", sess.Identity, "position", ev.Position, "duration", ev.Duration)
	c.bump()
}

func (c *Controller) handleFeedChange(ch feed.Change) {
	defer c.bump()

	switch ch.Kind {
	case feed.ChangeLoaded:
		if c.sess == nil && len(c.feed.Items()) > 0 {
			c.activate(0)
		}
	case feed.ChangeAppended:
		c.maybeLoadMore()
	case feed.ChangeRefreshed:
		c.reconcile(ch.Reason)
	case feed.ChangeFailed:
		c.notice = NoticeFeedFailed
		c.logger.Warn("feed update failed", "error", ch.Err)
	}
}

// reconcile keeps the active item attached across a refresh when it survives
func (c *Controller) reconcile(reason string) {
	items := c.feed.Items()
	activeID := ""
	if c.sess != nil {
		activeID = c.sess.Identity
	}

	r := feed.Reconcile(items, activeID, reason)
	c.logger.Debug("reconciled feed", "outcome", r.Outcome, "index", r.Index, "reason", reason)

	switch r.Outcome {
	case feed.OutcomeKept:
		c.sess.Index = r.Index
		c.sess.Item = items[r.Index]
		c.maybeLoadMore()
	case feed.OutcomeRemoved:
		c.stream.Detach()
		c.sess = nil
		c.notice = NoticeContentRemoved
	case feed.OutcomeFallback:
		c.activate(0)
	case feed.OutcomeCleared:
		c.deactivate()
	}
}
