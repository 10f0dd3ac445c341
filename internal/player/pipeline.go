package player

import (
	"time"

	"github.com/mmcdole/feedplay/internal/stream"
)

// Pipeline delivers live streams through the external player. The player
// handles the manifest itself, so recovery means relaunching it.
type Pipeline struct {
	el    stream.Element
	url   string
	emit  func(stream.ElementEvent)
	fault func(stream.Fault)
}

var _ stream.Pipeline = (*Pipeline)(nil)

// NewPipeline is a stream.PipelineFactory
func NewPipeline(el stream.Element) stream.Pipeline {
	return &Pipeline{el: el}
}

func (p *Pipeline) Attach(url string, offset time.Duration, emit func(stream.ElementEvent), fault func(stream.Fault)) error {
	p.url, p.emit, p.fault = url, emit, fault
	return p.el.Load(url, offset, p.forward)
}

// forward reports process failures as fatal network faults
func (p *Pipeline) forward(ev stream.ElementEvent) {
	if ev.Kind == stream.ElementError {
		p.fault(stream.Fault{Kind: stream.FaultNetwork, Fatal: true, Err: ev.Err})
		return
	}
	p.emit(ev)
}

func (p *Pipeline) ResumeLoading() {
	p.relaunch()
}

func (p *Pipeline) RecoverMediaError() {
	p.relaunch()
}

func (p *Pipeline) relaunch() {
	if err := p.el.Load(p.url, 0, p.forward); err != nil {
		p.fault(stream.Fault{Kind: stream.FaultOther, Fatal: true, Err: err})
	}
}

func (p *Pipeline) Destroy() {
	p.el.Unload()
}
