package stream

import "time"

// ElementEventKind names a playback element signal
type ElementEventKind string

const (
	ElementPlaying    ElementEventKind = "playing"
	ElementCanPlay    ElementEventKind = "canplay"
	ElementWaiting    ElementEventKind = "waiting"
	ElementStalled    ElementEventKind = "stalled"
	ElementError      ElementEventKind = "error"
	ElementEnded      ElementEventKind = "ended"
	ElementStopped    ElementEventKind = "stopped" // closed by the viewer before the end
	ElementTimeUpdate ElementEventKind = "timeupdate"
)

// ElementEvent is a signal from the playback element
type ElementEvent struct {
	Kind     ElementEventKind
	Position time.Duration
	Duration time.Duration
	Err      error
}

// Element is the single playback surface. emit may be called from any
// goroutine; the controller moves events onto the loop.
type Element interface {
	Load(url string, offset time.Duration, emit func(ElementEvent)) error
	Unload()
	Position() time.Duration
}

// FaultKind classifies adaptive-streaming faults
type FaultKind string

const (
	FaultNetwork FaultKind = "network"
	FaultMedia   FaultKind = "media"
	FaultOther   FaultKind = "other"
)

// Fault is reported by a Pipeline. Non-fatal faults are informational.
type Fault struct {
	Kind  FaultKind
	Fatal bool
	Err   error
}

// Pipeline is the adaptive-streaming client used for live sources
type Pipeline interface {
	Attach(url string, offset time.Duration, emit func(ElementEvent), fault func(Fault)) error
	ResumeLoading()
	RecoverMediaError()
	Destroy()
}

// PipelineFactory builds a fresh pipeline bound to the element
type PipelineFactory func(Element) Pipeline
