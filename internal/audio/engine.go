// SPDX-License-Identifier: MIT
/*
Package audio implements the capture side of the pipeline:
- PortAudio input stream feeding 16-bit mono chunks to the spectrogram
- Recording window of the last BufferSize×NumBlocks samples, WAV I/O
- Noise gate with branchless implementation
- Periodic inference on a worker goroutine

Thread Safety:
- The active pipeline is swapped atomically between capture sessions
- Pre-allocates buffers to avoid GC in hot path
- Locks OS thread during audio processing
*/
package audio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"spectrogram/internal/analysis"
	"spectrogram/internal/classifier"
	"spectrogram/internal/config"
	"spectrogram/internal/feature"
	applog "spectrogram/internal/log"
	"spectrogram/internal/transport"
)

// session is one pipeline shape and the state built for it. A session is
// immutable apart from its components' own synchronisation and chunks,
// which only the capture callback touches.
type session struct {
	cfg      config.Pipeline
	spec     *analysis.Spectrogram
	recorder *Recorder
	chunks   uint64
}

func newSession(p config.Pipeline) (*session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	spec, err := analysis.New(analysis.ParamsFrom(p))
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:      p,
		spec:     spec,
		recorder: NewRecorder(p.BufferSize * p.NumBlocks()),
	}, nil
}

type Engine struct {
	// Core configuration and state.
	config config.Config
	logger *applog.Logger

	// Audio input handling.
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	streamMu     sync.Mutex

	// Active and waiting pipelines.
	session atomic.Pointer[session]
	pending atomic.Pointer[config.Pipeline]
	running atomic.Bool

	// Noise gate for inference.
	gateEnabled   atomic.Bool
	gateThreshold atomic.Int32 // Absolute amplitude threshold (0-32767)

	// Inference.
	detector          *classifier.Detector
	transports        []transport.Transport
	inferenceInterval uint64
	inferCh           chan *session
	done              chan struct{}
	closeOnce         sync.Once
	wg                sync.WaitGroup
}

// NewEngine builds the pipeline described by cfg and starts the inference
// worker. detector may be nil, in which case no inference runs. If the
// pipeline is invalid the engine runs the fallback pipeline and the error
// is returned alongside the usable engine.
func NewEngine(cfg *config.Config, detector *classifier.Detector, transports ...transport.Transport) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("audio: nil config")
	}

	engine := &Engine{
		config:            *cfg,
		logger:            applog.Named("Engine"),
		detector:          detector,
		transports:        transports,
		inferenceInterval: uint64(max(cfg.Classifier.InferenceInterval, 1)),
		inferCh:           make(chan *session, 1),
		done:              make(chan struct{}),
	}
	engine.gateEnabled.Store(true)
	engine.SetGateThreshold(cfg.Classifier.GateThreshold)

	err := engine.apply(cfg.Pipeline)

	engine.wg.Add(1)
	go engine.inferenceWorker()

	return engine, err
}

// apply swaps in a session for p, or for the fallback pipeline when p is
// rejected.
func (e *Engine) apply(p config.Pipeline) error {
	s, err := newSession(p)
	if err == nil {
		e.session.Store(s)
		e.logger.Infof("Pipeline ready (fs: %d Hz, buffer: %d, N: %d, filters: %d, depth: %d)",
			p.SampleRate, p.BufferSize, p.FFTSize, p.MelFilters, s.spec.Depth())
		return nil
	}

	e.logger.Errorf("Pipeline rejected, using fallback: %v", err)
	fallback, ferr := newSession(config.FallbackPipeline())
	if ferr != nil {
		return fmt.Errorf("audio: fallback pipeline: %w", ferr)
	}
	e.session.Store(fallback)
	return fmt.Errorf("audio: %w", err)
}

// Reconfigure rebuilds the pipeline for p. While capture is running the
// change is held until the next StartInputStream. When p is rejected the
// fallback pipeline is installed and the error returned.
func (e *Engine) Reconfigure(p config.Pipeline) error {
	if e.running.Load() {
		e.pending.Store(&p)
		e.logger.Infof("Capture running, pipeline change pending until restart")
		return nil
	}
	e.pending.Store(nil)
	return e.apply(p)
}

// HasPending reports whether a pipeline change waits for the next start.
func (e *Engine) HasPending() bool {
	return e.pending.Load() != nil
}

// Pipeline returns the active pipeline configuration.
func (e *Engine) Pipeline() config.Pipeline {
	return e.session.Load().cfg
}

// Spectrogram returns the active spectrogram. It is replaced when the
// pipeline is rebuilt.
func (e *Engine) Spectrogram() *analysis.Spectrogram {
	return e.session.Load().spec
}

// Recording returns the recording window of the active pipeline, oldest
// sample first.
func (e *Engine) Recording() []int16 {
	return e.session.Load().recorder.Snapshot()
}

// SaveRecording writes the recording window to path as WAV.
func (e *Engine) SaveRecording(path string) error {
	s := e.session.Load()
	if err := SaveWAV(path, s.recorder.Snapshot(), s.cfg.SampleRate); err != nil {
		return err
	}
	e.logger.Infof("Saved %d samples to %s", s.recorder.Size(), path)
	return nil
}

// CaptureFeature snapshots the MFSC history of the active pipeline as a
// feature.
func (e *Engine) CaptureFeature() (feature.Feature, error) {
	s := e.session.Load()
	mfsc, err := feature.Capture(s.spec, true)
	if err != nil {
		return feature.Feature{}, err
	}
	return feature.Feature{Meta: metaOf(s.cfg), MFSC: mfsc}, nil
}

func metaOf(p config.Pipeline) feature.Meta {
	return feature.Meta{
		SampleRate: p.SampleRate,
		FFTSize:    p.FFTSize,
		MelFilters: p.MelFilters,
		Center:     p.FeatureCenter,
		Width:      p.FeatureWidth,
	}
}

// StartInputStream applies any pending pipeline and opens the PortAudio
// input stream at its sample rate and buffer size.
func (e *Engine) StartInputStream() error {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	if e.inputStream != nil {
		return errors.New("audio: input stream already running")
	}

	if p := e.pending.Swap(nil); p != nil {
		if err := e.apply(*p); err != nil {
			e.logger.Warnf("Pending pipeline rejected: %v", err)
		}
	}
	p := e.session.Load().cfg

	device, err := InputDevice(e.config.Audio.InputDevice)
	if err != nil {
		return err
	}
	e.inputDevice = device
	if e.config.Audio.LowLatency {
		e.inputLatency = device.DefaultLowInputLatency
	} else {
		e.inputLatency = device.DefaultHighInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   device,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: p.BufferSize,
		SampleRate:      float64(p.SampleRate),
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}

	e.running.Store(true)
	if err := stream.Start(); err != nil {
		e.running.Store(false)
		stream.Close()
		return err
	}
	e.inputStream = stream

	e.logger.Infof("Capturing from %s (%d Hz, %d samples per buffer)", device.Name, p.SampleRate, p.BufferSize)
	return nil
}

// StopInputStream stops and closes the input stream if one is running.
func (e *Engine) StopInputStream() error {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	if e.inputStream == nil {
		return nil
	}
	defer func() {
		e.inputStream = nil
		e.running.Store(false)
	}()

	if err := e.inputStream.Stop(); err != nil {
		return err
	}
	return e.inputStream.Close()
}

// Restart stops capture, applies any pending pipeline and starts again.
func (e *Engine) Restart() error {
	if err := e.StopInputStream(); err != nil {
		return err
	}
	return e.StartInputStream()
}

// processInputStream is the core audio processing callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []int16) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.processBuffer(in)
}

// Process feeds one chunk through the active pipeline as the capture
// callback would. It must not be called while the input stream runs.
func (e *Engine) Process(chunk []int16) {
	e.processBuffer(chunk)
}

// processBuffer runs the spectrogram and the recorder on buffer and, every
// inference interval, hands the session to the inference worker if the gate
// is open.
// Performance Critical (Hot Path):
// - No allocations
// - Never blocks on the worker
func (e *Engine) processBuffer(buffer []int16) {
	s := e.session.Load()
	s.spec.Update(buffer)
	s.recorder.Write(buffer)
	s.chunks++

	if e.detector == nil || s.chunks%e.inferenceInterval != 0 || !e.gateOpen(buffer) {
		return
	}
	select {
	case e.inferCh <- s:
	default:
	}
}

func (e *Engine) inferenceWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case s := <-e.inferCh:
			e.infer(s)
		}
	}
}

// infer classifies the configured feature window of s and broadcasts the
// result.
func (e *Engine) infer(s *session) {
	mfsc, err := feature.Capture(s.spec, true)
	if err != nil {
		e.logger.Warnf("Feature capture failed: %v", err)
		return
	}
	input, err := feature.Window(mfsc, s.spec.NumFilters(), s.cfg.FeatureCenter, s.cfg.FeatureWidth)
	if err != nil {
		e.logger.Warnf("Feature window: %v", err)
		return
	}

	results, err := e.detector.Recognize(input)
	if err != nil {
		return
	}
	if len(results) > 0 {
		e.logger.Debugf("Recognized %s", results[0])
	}
	if err := transport.Broadcast(e.transports, transport.NewInferenceMessage(s.spec.FramesProduced(), results)); err != nil {
		e.logger.Warnf("Inference broadcast failed: %v", err)
	}
}

// Close stops capture and the inference worker. Transports are owned by the
// caller.
func (e *Engine) Close() error {
	err := e.StopInputStream()
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
	return err
}

// The methods below let an Engine stand in for its current spectrogram so
// publishers keep working across pipeline rebuilds.

func (e *Engine) LatestPowerFrameInto(dst []float64) error {
	return e.session.Load().spec.LatestPowerFrameInto(dst)
}

func (e *Engine) LatestMFSCFrameInto(dst []float64) error {
	return e.session.Load().spec.LatestMFSCFrameInto(dst)
}

func (e *Engine) Bins() int              { return e.session.Load().spec.Bins() }
func (e *Engine) NumFilters() int        { return e.session.Load().spec.NumFilters() }
func (e *Engine) FramesProduced() uint64 { return e.session.Load().spec.FramesProduced() }
func (e *Engine) SampleRate() float64    { return e.session.Load().spec.SampleRate() }

var _ analysis.FrameSource = (*Engine)(nil)
var _ analysis.AudioProcessor = (*Engine)(nil)
