package recording

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

// Player plays an accepted take back through the device stream for review.
// Input is ignored while it is attached.
type Player struct {
	take     *Take
	outCh    int
	pos      atomic.Int64
	stopped  atomic.Bool
	dev      Attacher
	doneOnce sync.Once
	done     chan struct{}
}

// NewPlayer prepares playback of take to an output with outChannels
// channels. Only mono and stereo conversions are supported.
func NewPlayer(take *Take, outChannels int) (*Player, error) {
	if take.Channels != outChannels && (take.Channels > 2 || outChannels > 2) {
		return nil, fmt.Errorf("recording: cannot play %d-channel take on %d-channel output", take.Channels, outChannels)
	}
	return &Player{take: take, outCh: outChannels, done: make(chan struct{})}, nil
}

// Start attaches the player to dev.
func (p *Player) Start(dev Attacher) error {
	if err := dev.Attach(p); err != nil {
		return fmt.Errorf("recording: play %q: %w", p.take.Alias(), err)
	}
	p.dev = dev
	return nil
}

// Process implements [device.Processor].
func (p *Player) Process(out, _ []int16) {
	if p.stopped.Load() {
		return
	}
	pos := p.pos.Load()
	total := p.take.Frames()
	if pos >= total {
		return
	}
	frames := min(int64(len(out)/p.outCh), total-pos)
	ch := int64(p.take.Channels)
	src := p.take.Samples[pos*ch : (pos+frames)*ch]
	switch {
	case p.take.Channels == p.outCh:
		copy(out, src)
	case p.take.Channels == 1:
		audio.MonoToStereo(out, src)
	default:
		audio.StereoToMono(out, src)
	}
	pos += frames
	p.pos.Store(pos)
	if pos >= total {
		p.doneOnce.Do(func() { close(p.done) })
	}
}

// Progress returns the played fraction of the take.
func (p *Player) Progress() float64 {
	total := p.take.Frames()
	if total == 0 {
		return 1
	}
	return float64(p.pos.Load()) / float64(total)
}

// Wait blocks until the whole take was played or ctx ends, then detaches.
func (p *Player) Wait(ctx context.Context) error {
	defer p.Stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends playback early and detaches the player.
func (p *Player) Stop() {
	p.stopped.Store(true)
	if p.dev != nil {
		p.dev.Detach(p)
	}
	p.doneOnce.Do(func() { close(p.done) })
}
