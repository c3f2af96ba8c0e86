// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"sync"
	"time"

	"spectrogram/internal/analysis"
	applog "spectrogram/internal/log"
)

// FramePump polls a FrameSource and sends a FrameMessage to its transports
// whenever a new frame has been produced since the previous tick.
type FramePump struct {
	source     analysis.FrameSource
	transports []Transport
	interval   time.Duration
	logger     *applog.Logger

	mu       sync.Mutex
	doneChan chan struct{}
	wg       sync.WaitGroup

	lastFrames uint64
	sequence   uint64
}

// NewFramePump creates a pump. An interval <= 0 defaults to 16ms.
func NewFramePump(interval time.Duration, source analysis.FrameSource, transports ...Transport) (*FramePump, error) {
	if source == nil {
		return nil, fmt.Errorf("FramePump: frame source cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &FramePump{
		source:     source,
		transports: transports,
		interval:   interval,
		logger:     applog.Named("FramePump"),
	}, nil
}

// Start launches the polling goroutine. Calling Start while running is a
// no-op.
func (p *FramePump) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doneChan != nil {
		p.logger.Warnf("Start called but already running.")
		return
	}
	done := make(chan struct{})
	p.doneChan = done

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Tick()
			case <-done:
				return
			}
		}
	}()
}

// Stop ends the polling goroutine and waits for it.
func (p *FramePump) Stop() error {
	p.mu.Lock()
	if p.doneChan == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.doneChan = nil
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Tick sends the newest frames if any were produced since the last call.
// It reports whether a message was sent. Tick is driven by Start; call it
// directly only while the pump is stopped.
func (p *FramePump) Tick() bool {
	frames := p.source.FramesProduced()
	if frames == 0 || frames == p.lastFrames {
		return false
	}

	// The message outlives this call in the transports' queues, so it gets
	// its own buffers.
	msg := FrameMessage{
		Type:       TypeFrame,
		Sequence:   p.sequence + 1,
		SampleRate: p.source.SampleRate(),
		Power:      make([]float64, p.source.Bins()),
		MFSC:       make([]float64, p.source.NumFilters()),
	}
	if err := p.source.LatestPowerFrameInto(msg.Power); err != nil {
		p.logger.Debugf("skipping tick: %v", err)
		return false
	}
	if err := p.source.LatestMFSCFrameInto(msg.MFSC); err != nil {
		p.logger.Debugf("skipping tick: %v", err)
		return false
	}

	p.lastFrames = frames
	p.sequence++
	if err := Broadcast(p.transports, msg); err != nil {
		p.logger.Warnf("send failed: %v", err)
	}
	return true
}

// Close stops the pump. Transports are owned by the caller.
func (p *FramePump) Close() error {
	return p.Stop()
}
