// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"spectrogram/internal/analysis"
	applog "spectrogram/internal/log"
)

// HeaderSize is the fixed packet header length in bytes.
const HeaderSize = 4 + 8 + 2 + 2

// UDPPublisher periodically fetches the newest power and MFSC frames, packs
// them into a binary packet and sends it with a Sender. A tick with no new
// frame sends nothing.
type UDPPublisher struct {
	sender   Sender
	source   analysis.FrameSource
	interval time.Duration
	logger   *applog.Logger

	doneChan chan struct{}  // Closed to stop the publisher goroutine.
	wg       sync.WaitGroup // Waits for the publisher goroutine during Stop.
	mu       sync.Mutex     // Protects doneChan during Start/Stop.

	sequenceNum uint32
	lastFrames  uint64

	// Pre-allocated buffers, resized only when the source changes shape.
	power  []float64
	mfsc   []float64
	packet []byte
}

// NewUDPPublisher creates and initializes a new UDPPublisher.
// If the provided interval is invalid (<= 0), it defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender Sender, source analysis.FrameSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: frame source cannot be nil")
	}

	logger := applog.Named("UDPPublisher")
	if interval <= 0 {
		interval = 16 * time.Millisecond
		logger.Warnf("Invalid interval provided, defaulting to %s", interval)
	}
	logger.Infof("Initializing (Interval: %s, Bins: %d, Filters: %d)", interval, source.Bins(), source.NumFilters())

	p := &UDPPublisher{
		sender:   sender,
		source:   source,
		interval: interval,
		logger:   logger,
	}
	p.resize(source.Bins(), source.NumFilters())
	return p, nil
}

func (p *UDPPublisher) resize(bins, filters int) {
	p.power = make([]float64, bins)
	p.mfsc = make([]float64, filters)
	p.packet = make([]byte, 0, HeaderSize+4*(bins+filters))
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
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
		p.logger.Infof("Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-done:
				p.logger.Debugf("Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.doneChan == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.doneChan = nil
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Infof("Publisher goroutine finished.")
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Bin Count         | uint16         | 2            | Power values (B)        |
| Filter Count      | uint16         | 2            | MFSC values (F)         |
| Power             | []float32      | B * 4        | Newest dB power frame   |
| MFSC              | []float32      | F * 4        | Newest MFSC frame       |
+-----------------------------------------------------------------------------+
*/

// buildAndSendPacket runs on each tick. It reports whether a packet was sent.
func (p *UDPPublisher) buildAndSendPacket() bool {
	frames := p.source.FramesProduced()
	if frames == 0 || frames == p.lastFrames {
		return false
	}

	bins, filters := p.source.Bins(), p.source.NumFilters()
	if bins != len(p.power) || filters != len(p.mfsc) {
		p.logger.Infof("Source changed shape to %d bins, %d filters", bins, filters)
		p.resize(bins, filters)
	}

	if err := p.source.LatestPowerFrameInto(p.power); err != nil {
		p.logger.Errorf("Error getting power frame: %v", err)
		return false
	}
	if err := p.source.LatestMFSCFrameInto(p.mfsc); err != nil {
		p.logger.Errorf("Error getting MFSC frame: %v", err)
		return false
	}

	p.sequenceNum++
	p.lastFrames = frames
	p.packet = AppendPacket(p.packet[:0], p.sequenceNum, time.Now().UnixNano(), p.power, p.mfsc)

	if err := p.sender.Send(p.packet); err != nil {
		return false
	}
	p.logger.Debugf("Sent packet %d (%d bytes)", p.sequenceNum, len(p.packet))
	return true
}

// AppendPacket appends one encoded packet to buf.
func AppendPacket(buf []byte, seq uint32, timestamp int64, power, mfsc []float64) []byte {
	buf = binary.BigEndian.AppendUint32(buf, seq)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(power)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(mfsc)))
	for _, v := range power {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
	for _, v := range mfsc {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
	return buf
}

// Packet is a decoded publisher packet.
type Packet struct {
	Sequence  uint32
	Timestamp int64
	Power     []float32
	MFSC      []float32
}

// DecodePacket parses a packet produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	var pkt Packet
	if len(b) < HeaderSize {
		return pkt, fmt.Errorf("udp: packet of %d bytes is shorter than the header", len(b))
	}
	pkt.Sequence = binary.BigEndian.Uint32(b[0:])
	pkt.Timestamp = int64(binary.BigEndian.Uint64(b[4:]))
	bins := int(binary.BigEndian.Uint16(b[12:]))
	filters := int(binary.BigEndian.Uint16(b[14:]))
	if want := HeaderSize + 4*(bins+filters); len(b) != want {
		return pkt, fmt.Errorf("udp: packet of %d bytes, header announces %d", len(b), want)
	}

	values := make([]float32, bins+filters)
	for i := range values {
		values[i] = math.Float32frombits(binary.BigEndian.Uint32(b[HeaderSize+4*i:]))
	}
	pkt.Power, pkt.MFSC = values[:bins], values[bins:]
	return pkt, nil
}

// Close stops the publisher goroutine. The sender is owned by the caller.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
