// Package stream owns the media attachment of the active item and recovers
// it from stalls and faults within fixed budgets.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/loop"
	"github.com/mmcdole/feedplay/internal/metrics"
)

// Config holds the recovery budgets
type Config struct {
	NetworkRetryLimit int
	MediaRetryLimit   int
	RebuildLimit      int
	RebuildDelay      time.Duration
	HealDelay         time.Duration
	HealMaxAttempts   int
	HealWindow        time.Duration
}

// DefaultConfig returns the standard recovery budgets
func DefaultConfig() Config {
	return Config{
		NetworkRetryLimit: 3,
		MediaRetryLimit:   2,
		RebuildLimit:      2,
		RebuildDelay:      1500 * time.Millisecond,
		HealDelay:         2500 * time.Millisecond,
		HealMaxAttempts:   3,
		HealWindow:        60 * time.Second,
	}
}

// Request describes what to attach
type Request struct {
	URL      string
	SourceID string
	Live     bool
	NeedAuth bool
	Offset   time.Duration
}

// EventKind names a notification sent to the owner
type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
	EventEnded    EventKind = "ended"
	EventStopped  EventKind = "stopped"
	EventFailed   EventKind = "failed"
)

// Event is a notification from the controller to its owner
type Event struct {
	Kind     EventKind
	State    State
	SourceID string
	Position time.Duration
	Duration time.Duration
	Err      error
}

type attachment struct {
	req      Request
	url      string
	authHost string
	pipeline Pipeline

	lastPos time.Duration

	networkRetries int
	mediaRetries   int
	rebuilds       int
	rebuildTimer   loop.Timer

	healTimer     loop.Timer
	heals         []time.Time
	healExhausted bool
}

// Controller is confined to the event loop
type Controller struct {
	rt          loop.Runtime
	el          Element
	newPipeline PipelineFactory
	auth        Authorizer
	backendHost string
	cfg         Config
	logger      *slog.Logger

	fsm     *Machine[State, signal]
	gen     uint64
	att     *attachment
	onEvent func(Event)
}

// New creates a controller that owns el
func New(rt loop.Runtime, el Element, newPipeline PipelineFactory, auth Authorizer, backendHost string, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		rt:          rt,
		el:          el,
		newPipeline: newPipeline,
		auth:        auth,
		backendHost: backendHost,
		cfg:         cfg,
		logger:      logger,
		fsm:         newMachine(),
		onEvent:     func(Event) {},
	}
}

// OnEvent sets the owner callback. It runs on the loop.
func (c *Controller) OnEvent(fn func(Event)) {
	if fn == nil {
		fn = func(Event) {}
	}
	c.onEvent = fn
}

func (c *Controller) State() State {
	return c.fsm.State()
}

// AuthURL returns the URL awaiting authorization, if any
func (c *Controller) AuthURL() string {
	if c.att == nil || c.fsm.State() != StateAuthRequired {
		return ""
	}
	return c.att.url
}

// SourceID returns the id of the attached source
func (c *Controller) SourceID() string {
	if c.att == nil {
		return ""
	}
	return c.att.req.SourceID
}

// Position returns the best known playback position
func (c *Controller) Position() time.Duration {
	if c.att == nil {
		return 0
	}
	switch c.fsm.State() {
	case StatePlaying, StateRecovering:
		return max(c.el.Position(), c.att.lastPos)
	default:
		return c.att.lastPos
	}
}

// Attach tears down any current attachment and attaches req. Sources that
// need LAN authorization park in StateAuthRequired instead.
func (c *Controller) Attach(req Request) {
	c.Detach()

	c.att = &attachment{req: req, url: req.URL, lastPos: req.Offset}
	if host := c.gatedHost(req.URL, req.NeedAuth); host != "" {
		c.att.authHost = host
		c.fire(sigNeedAuth)
		c.logger.Info("source needs LAN authorization", "host", host, "source", req.SourceID)
		return
	}
	c.start()
}

// Gated reports whether attaching url would stop for LAN authorization
func (c *Controller) Gated(url string, needAuth bool) bool {
	return c.gatedHost(url, needAuth) != ""
}

func (c *Controller) gatedHost(url string, needAuth bool) string {
	host := authHost(url, needAuth, c.backendHost)
	if host == "" || c.auth.HostAuthorized(host) {
		return ""
	}
	return host
}

// Authorize remembers the pending host and retries the attachment with a
// cache-busting URL.
func (c *Controller) Authorize() error {
	if c.att == nil || c.fsm.State() != StateAuthRequired {
		return fmt.Errorf("authorize: %w", domain.ErrNoSession)
	}
	c.auth.RememberHost(c.att.authHost)
	c.att.url = cacheBust(c.att.url, c.rt.Now())
	c.logger.Info("LAN host authorized", "host", c.att.authHost)
	c.start()
	return nil
}

// Detach fully tears down the element and pipeline
func (c *Controller) Detach() {
	c.gen++
	if att := c.att; att != nil {
		stopTimer(&att.healTimer)
		stopTimer(&att.rebuildTimer)
		if att.pipeline != nil {
			att.pipeline.Destroy()
			att.pipeline = nil
		}
		c.el.Unload()
		c.att = nil
	}
	c.fire(sigDetach)
}

func (c *Controller) start() {
	c.fire(sigAttach)
	c.load(c.att.lastPos)
}

// load starts delivery at offset under a fresh generation
func (c *Controller) load(offset time.Duration) {
	att := c.att
	c.gen++
	gen := c.gen

	var err error
	if att.req.Live {
		att.pipeline = c.newPipeline(c.el)
		err = att.pipeline.Attach(att.url, offset, c.elementEmitter(gen), c.faultEmitter(gen))
	} else {
		err = c.el.Load(att.url, offset, c.elementEmitter(gen))
	}
	if err != nil {
		c.logger.Warn("attach failed", "error", err, "source", att.req.SourceID)
		if att.req.Live {
			c.handleFault(Fault{Kind: FaultOther, Fatal: true, Err: err})
		} else {
			c.handleElement(ElementEvent{Kind: ElementError, Err: err})
		}
	}
}

func (c *Controller) elementEmitter(gen uint64) func(ElementEvent) {
	return func(ev ElementEvent) {
		c.rt.Post(func() {
			if gen != c.gen || c.att == nil {
				return
			}
			c.handleElement(ev)
		})
	}
}

func (c *Controller) faultEmitter(gen uint64) func(Fault) {
	return func(f Fault) {
		c.rt.Post(func() {
			if gen != c.gen || c.att == nil {
				return
			}
			c.handleFault(f)
		})
	}
}

func (c *Controller) handleElement(ev ElementEvent) {
	att := c.att
	switch ev.Kind {
	case ElementPlaying, ElementCanPlay:
		c.succeed()
	case ElementTimeUpdate:
		att.lastPos = max(ev.Position, 0)
		c.onEvent(Event{Kind: EventProgress, State: c.State(), SourceID: att.req.SourceID, Position: att.lastPos, Duration: ev.Duration})
	case ElementEnded:
		if ev.Position > 0 {
			att.lastPos = ev.Position
		}
		c.onEvent(Event{Kind: EventEnded, State: c.State(), SourceID: att.req.SourceID, Position: att.lastPos, Duration: ev.Duration})
	case ElementStopped:
		if ev.Position > 0 {
			att.lastPos = ev.Position
		}
		c.onEvent(Event{Kind: EventStopped, State: c.State(), SourceID: att.req.SourceID, Position: att.lastPos, Duration: ev.Duration})
	case ElementWaiting, ElementStalled, ElementError:
		if c.State() == StateFailed {
			return
		}
		metrics.RecordStreamFault(string(ev.Kind))
		if att.req.Live {
			if ev.Kind == ElementError {
				kind := FaultNetwork
				if errors.Is(ev.Err, domain.ErrMediaDecode) {
					kind = FaultMedia
				}
				c.handleFault(Fault{Kind: kind, Fatal: true, Err: ev.Err})
				return
			}
			// the pipeline reports its own faults; the stall only shows as recovering
			c.fire(sigFault)
			return
		}
		c.fire(sigFault)
		c.scheduleHeal()
	}
}

// succeed handles a playing/canplay signal
func (c *Controller) succeed() {
	prev := c.State()
	if _, err := c.fsm.Fire(sigSuccess); err != nil {
		return
	}
	att := c.att
	if prev == StateRecovering || prev == StateAttaching {
		att.networkRetries, att.mediaRetries, att.rebuilds = 0, 0, 0
		stopTimer(&att.healTimer)
		stopTimer(&att.rebuildTimer)
	}
	if prev != StatePlaying {
		c.logger.Debug("stream playing", "source", att.req.SourceID, "from", prev)
		c.emitState()
	}
}

// handleFault applies the live recovery ladder
func (c *Controller) handleFault(f Fault) {
	att := c.att
	if !f.Fatal {
		c.logger.Debug("non-fatal stream fault", "kind", f.Kind, "error", f.Err)
		return
	}
	switch c.State() {
	case StateFailed, StateIdle, StateAuthRequired:
		return
	}
	metrics.RecordStreamFault(string(f.Kind))
	if att.rebuildTimer != nil {
		// a rebuild is already pending
		return
	}
	c.fire(sigFault)

	switch f.Kind {
	case FaultNetwork:
		if att.networkRetries < c.cfg.NetworkRetryLimit && att.pipeline != nil {
			att.networkRetries++
			metrics.RecordRecovery("resume_loading")
			c.logger.Info("resuming live load", "attempt", att.networkRetries, "error", f.Err)
			att.pipeline.ResumeLoading()
			return
		}
	case FaultMedia:
		if att.mediaRetries < c.cfg.MediaRetryLimit && att.pipeline != nil {
			att.mediaRetries++
			metrics.RecordRecovery("recover_media")
			c.logger.Info("recovering live media error", "attempt", att.mediaRetries, "error", f.Err)
			att.pipeline.RecoverMediaError()
			return
		}
	}

	if att.rebuilds < c.cfg.RebuildLimit {
		att.rebuilds++
		c.scheduleRebuild()
		return
	}
	c.fail(f.Err)
}

func (c *Controller) scheduleRebuild() {
	att := c.att
	if att.pipeline != nil {
		att.pipeline.Destroy()
		att.pipeline = nil
	}
	// events from the destroyed pipeline are stale from here on
	c.gen++
	metrics.RecordRebuild()
	c.logger.Info("rebuilding live pipeline", "attempt", att.rebuilds, "delay", c.cfg.RebuildDelay)

	att.rebuildTimer = c.rt.AfterFunc(c.cfg.RebuildDelay, func() {
		if c.att != att {
			return
		}
		att.rebuildTimer = nil
		c.load(0)
	})
}

func (c *Controller) scheduleHeal() {
	att := c.att
	if att.healTimer != nil || att.healExhausted {
		return
	}

	now := c.rt.Now()
	cutoff := now.Add(-c.cfg.HealWindow)
	kept := att.heals[:0]
	for _, t := range att.heals {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	att.heals = kept
	if len(att.heals) >= c.cfg.HealMaxAttempts {
		att.healExhausted = true
		c.logger.Warn("heal budget exhausted", "source", att.req.SourceID, "attempts", len(att.heals))
		return
	}

	att.healTimer = c.rt.AfterFunc(c.cfg.HealDelay, func() {
		if c.att != att {
			return
		}
		att.healTimer = nil
		if c.State() != StateRecovering {
			return
		}
		att.heals = append(att.heals, c.rt.Now())
		pos := max(c.el.Position(), att.lastPos)
		metrics.RecordRecovery("heal")
		c.logger.Info("healing stalled playback", "position", pos, "attempt", len(att.heals))
		c.el.Unload()
		c.load(pos)
	})
}

func (c *Controller) fail(cause error) {
	att := c.att
	stopTimer(&att.healTimer)
	stopTimer(&att.rebuildTimer)
	if att.pipeline != nil {
		att.pipeline.Destroy()
		att.pipeline = nil
	}
	c.gen++
	if _, err := c.fsm.Fire(sigExhausted); err != nil {
		return
	}
	err := domain.ErrStreamFailed
	if cause != nil {
		err = fmt.Errorf("%w: %w", domain.ErrStreamFailed, cause)
	}
	metrics.RecordStreamFailure()
	c.logger.Error("stream recovery exhausted", "error", err, "source", att.req.SourceID)
	c.emitState()
	c.onEvent(Event{Kind: EventFailed, State: StateFailed, SourceID: att.req.SourceID, Err: err})
}

// fire applies sig and notifies the owner when the state changed
func (c *Controller) fire(sig signal) {
	prev := c.State()
	to, err := c.fsm.Fire(sig)
	if err != nil {
		c.logger.Debug("ignored stream signal", "error", err)
		return
	}
	if to != prev {
		c.emitState()
	}
}

func (c *Controller) emitState() {
	ev := Event{Kind: EventState, State: c.State()}
	if c.att != nil {
		ev.SourceID = c.att.req.SourceID
		ev.Position = c.att.lastPos
	}
	c.onEvent(ev)
}

func stopTimer(t *loop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
