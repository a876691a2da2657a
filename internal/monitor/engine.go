// Package monitor wires the detection pipeline: signal sources feed
// modality detectors, raw detections run through per-type debounce
// machines, and confirmed violations are published on the event bus.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/capture"
	"proctord/internal/debounce"
	"proctord/internal/detector"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/signal"
	"proctord/internal/violation"
)

// modalityTypes maps each modality to the violation types its detector
// can produce. A frame with no detection counts as an absence for every
// type in its group, which is what resets debounce streaks.
var modalityTypes = map[signal.Modality][]violation.Type{
	signal.ModalityCamera: {
		violation.TypeNoFace,
		violation.TypeMultipleFaces,
		violation.TypeLookingAway,
	},
	signal.ModalityAudio: {
		violation.TypeSuddenNoise,
		violation.TypeBackgroundNoise,
	},
	signal.ModalityDOM: {
		violation.TypeTabSwitch,
		violation.TypeSecurityViolation,
		violation.TypeRightClickBlocked,
	},
}

// EngineConfig assembles an Engine.
type EngineConfig struct {
	Sources   []capture.Source
	Detectors []detector.Detector

	// Policies overrides the default debounce table. Nil keeps defaults.
	Policies map[violation.Type]debounce.Policy

	Bus     *violation.Bus
	Metrics *metrics.ProctorMetrics
	Logger  *logging.Logger
}

// Engine runs one detection loop per source. It is frozen, not
// stopped, when the session submits: loops keep draining frames so
// sources never block, but nothing reaches the machines.
type Engine struct {
	sources   []capture.Source
	detectors map[signal.Modality]detector.Detector
	machines  map[violation.Type]*debounce.Machine
	bus       *violation.Bus
	metrics   *metrics.ProctorMetrics
	logger    *logging.Logger

	frozen  atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// machinesMu guards hot policy swaps against detection loops.
	machinesMu sync.RWMutex
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("monitor: bus required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	policies := cfg.Policies
	if policies == nil {
		policies = debounce.DefaultPolicies()
	}

	detectors := make(map[signal.Modality]detector.Detector, len(cfg.Detectors))
	for _, d := range cfg.Detectors {
		detectors[d.Modality()] = d
	}

	machines := make(map[violation.Type]*debounce.Machine, len(policies))
	for t, p := range policies {
		machines[t] = debounce.NewMachine(p)
	}

	return &Engine{
		sources:   cfg.Sources,
		detectors: detectors,
		machines:  machines,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.WithComponent("monitor"),
	}, nil
}

// Start opens every source and spawns its detection loop. A source
// that cannot open degrades the engine instead of failing it; the
// session runs on the remaining modalities.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("monitor: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for _, src := range e.sources {
		if err := src.Start(runCtx); err != nil {
			e.logger.Warn("source degraded",
				"modality", src.Modality(), "error", err)
			continue
		}

		e.wg.Add(1)
		go e.loop(runCtx, src)
	}

	e.logger.Info("detection engine started", "sources", len(e.sources))
	return nil
}

// Stop shuts down all sources and waits for the loops to drain.
func (e *Engine) Stop() error {
	if !e.started.Load() {
		return nil
	}

	for _, src := range e.sources {
		if err := src.Stop(); err != nil {
			e.logger.Warn("source stop failed",
				"modality", src.Modality(), "error", err)
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.logger.Info("detection engine stopped")
	return nil
}

// Freeze stops frame processing permanently. Loops keep draining so
// no source ever blocks on a full channel.
func (e *Engine) Freeze() {
	if e.frozen.CompareAndSwap(false, true) {
		e.logger.Info("detection engine frozen")
	}
}

// Frozen reports whether the engine has been frozen.
func (e *Engine) Frozen() bool {
	return e.frozen.Load()
}

// SetPolicies swaps debounce policies in place. Types without a
// machine are ignored; streak counts on existing machines survive.
func (e *Engine) SetPolicies(policies map[violation.Type]debounce.Policy) {
	e.machinesMu.RLock()
	defer e.machinesMu.RUnlock()

	for t, p := range policies {
		if m, ok := e.machines[t]; ok {
			m.SetPolicy(p)
		}
	}
	e.logger.Info("debounce policies updated", "count", len(policies))
}

func (e *Engine) loop(ctx context.Context, src capture.Source) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-src.Frames():
			if !ok {
				return
			}
			if e.frozen.Load() {
				continue
			}
			e.process(frame)
		}
	}
}

// process runs one frame through its modality detector and feeds the
// result to every machine in the modality's group. A panicking
// detector counts as no detection for that frame.
func (e *Engine) process(frame signal.Frame) {
	if e.metrics != nil {
		e.metrics.RecordFrame(string(frame.Modality))
		defer e.metrics.StartDetectTimer().Stop()
	}

	d, ok := e.detectors[frame.Modality]
	if !ok {
		return
	}

	cand := e.detect(d, frame)
	if cand != nil && e.metrics != nil {
		e.metrics.RecordCandidate()
	}

	e.machinesMu.RLock()
	defer e.machinesMu.RUnlock()

	for _, t := range modalityTypes[frame.Modality] {
		m, ok := e.machines[t]
		if !ok {
			continue
		}

		fired := m.Observe(cand != nil && cand.Type == t, frame.Timestamp)
		if !fired {
			continue
		}

		ev := violation.NewEvent(*cand, frame.Timestamp)
		if e.metrics != nil {
			e.metrics.RecordViolation()
		}
		e.bus.Publish(ev)
	}
}

func (e *Engine) detect(d detector.Detector, frame signal.Frame) (cand *violation.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			cand = nil
			e.logger.Error("detector panicked, frame dropped",
				"modality", frame.Modality, "panic", fmt.Sprintf("%v", r))
			if e.metrics != nil {
				e.metrics.RecordError()
			}
		}
	}()

	cand, err := d.Detect(frame)
	if err != nil {
		e.logger.Debug("detector error", "modality", frame.Modality, "error", err)
		return nil
	}
	return cand
}

// SourceStates reports each source's availability, for health checks
// and status output.
func (e *Engine) SourceStates() map[string]string {
	out := make(map[string]string, len(e.sources))
	for _, src := range e.sources {
		out[string(src.Modality())] = string(src.State())
	}
	return out
}

// MachineState exposes a machine's debounce state for diagnostics.
func (e *Engine) MachineState(t violation.Type, now time.Time) (debounce.State, int, bool) {
	e.machinesMu.RLock()
	defer e.machinesMu.RUnlock()

	m, ok := e.machines[t]
	if !ok {
		return debounce.StateIdle, 0, false
	}
	return m.State(now), m.Consecutive(), true
}
