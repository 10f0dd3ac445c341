package playback

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mmcdole/feedplay/internal/domain"
)

// ErrNoPlaylist is returned when no collection is configured or browsed
var ErrNoPlaylist = errors.New("no playlist selected")

// MembershipFunc receives the outcome of a membership query or toggle
type MembershipFunc func(member bool, err error)

func (c *Controller) playlistID() string {
	if c.opts.PlaylistID != "" {
		return c.opts.PlaylistID
	}
	if f := c.feed.Filter(); f.Kind == domain.FilterPlaylist {
		return f.PlaylistID
	}
	return ""
}

func (c *Controller) membershipTarget() (*Session, string, error) {
	sess := c.sess
	if sess == nil || sess.Item.IsLive() || sess.Item.AwemeID == "" {
		return nil, "", domain.ErrNoSession
	}
	pl := c.playlistID()
	if pl == "" {
		return nil, "", ErrNoPlaylist
	}
	return sess, pl, nil
}

// CheckMembership reports whether the active item is in the playlist. A
// cached answer is used unless force is set.
func (c *Controller) CheckMembership(force bool, fn MembershipFunc) {
	if fn == nil {
		fn = func(bool, error) {}
	}
	sess, pl, err := c.membershipTarget()
	if err != nil {
		fn(false, fmt.Errorf("check membership: %w", err))
		return
	}
	if !force {
		if member, known := c.membership.Read(pl, sess.Identity); known {
			c.applyMembership(sess, member)
			fn(member, nil)
			return
		}
	}

	awemeID := sess.Item.AwemeID
	c.rt.Go(func() {
		found, err := c.backend.CheckMembership(c.ctx, pl, []string{awemeID})
		c.rt.Post(func() {
			if err != nil {
				fn(false, fmt.Errorf("check membership: %w", err))
				return
			}
			member := slices.Contains(found, awemeID)
			c.membership.Write(pl, sess.Identity, member)
			if c.sess == sess {
				c.applyMembership(sess, member)
			}
			fn(member, nil)
		})
	})
}

// TogglePlaylistMembership adds or removes the active item
func (c *Controller) TogglePlaylistMembership(fn MembershipFunc) {
	if fn == nil {
		fn = func(bool, error) {}
	}
	sess, pl, err := c.membershipTarget()
	if err != nil {
		fn(false, fmt.Errorf("toggle membership: %w", err))
		return
	}
	member, known := c.membership.Read(pl, sess.Identity)
	awemeID := sess.Item.AwemeID

	c.rt.Go(func() {
		ctx := c.ctx
		if !known {
			found, err := c.backend.CheckMembership(ctx, pl, []string{awemeID})
			if err != nil {
				c.rt.Post(func() { fn(false, fmt.Errorf("toggle membership: %w", err)) })
				return
			}
			member = slices.Contains(found, awemeID)
		}

		var err error
		if member {
			_, err = c.backend.RemoveFromPlaylist(ctx, pl, []string{awemeID})
		} else {
			_, err = c.backend.AddToPlaylist(ctx, pl, []string{awemeID})
		}
		c.rt.Post(func() {
			if err != nil {
				fn(member, fmt.Errorf("toggle membership: %w", err))
				return
			}
			c.membership.Write(pl, sess.Identity, !member)
			if c.sess == sess {
				c.applyMembership(sess, !member)
			}
			c.logger.Info("playlist membership changed", "playlist", pl, "identity", sess.Identity, "member", !member)
			fn(!member, nil)
		})
	})
}

func (c *Controller) refreshMembership(sess *Session) {
	if _, _, err := c.membershipTarget(); err != nil {
		return
	}
	c.CheckMembership(false, func(_ bool, err error) {
		if err != nil {
			c.logger.Debug("membership check failed", "identity", sess.Identity, "error", err)
		}
	})
}

func (c *Controller) applyMembership(sess *Session, member bool) {
	sess.MemberKnown = true
	sess.Member = member
	c.bump()
}
