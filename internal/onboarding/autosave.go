package onboarding

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AutosaveConfig tunes the debounced saver.
type AutosaveConfig struct {
	// Debounce is the quiet period after the last change before a save starts.
	Debounce time.Duration
	// MinInterval caps saves to one per interval per session.
	MinInterval time.Duration
	// SaveTimeout bounds a single background save.
	SaveTimeout time.Duration
}

// DefaultAutosaveConfig returns the production defaults.
func DefaultAutosaveConfig() AutosaveConfig {
	return AutosaveConfig{
		Debounce:    1500 * time.Millisecond,
		MinInterval: 2 * time.Second,
		SaveTimeout: 10 * time.Second,
	}
}

// Autosaver runs a save function after changes settle. A new Trigger restarts
// the debounce window and cancels any save still running for an older
// generation, so at most one background save is in flight.
type Autosaver struct {
	save    func(ctx context.Context) error
	cfg     AutosaveConfig
	limiter *rate.Limiter
	rec     Recorder
	logger  *zap.Logger

	base       context.Context
	stopBase   context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	gen        uint64
	timer      *time.Timer
	inflight   context.CancelFunc
	inflightAt uint64
	running    *run
	stopped    bool
}

// run is one background save; done closes once err is set.
type run struct {
	done chan struct{}
	err  error
}

// NewAutosaver creates an idle autosaver around save.
func NewAutosaver(save func(ctx context.Context) error, cfg AutosaveConfig, rec Recorder, logger *zap.Logger) *Autosaver {
	def := DefaultAutosaveConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = def.SaveTimeout
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, stop := context.WithCancel(context.Background())
	return &Autosaver{
		save:     save,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		rec:      rec,
		logger:   logger,
		base:     base,
		stopBase: stop,
	}
}

// Trigger schedules a save after the debounce window.
func (a *Autosaver) Trigger() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	a.gen++
	a.rec.AutosaveTriggered()
	a.cancelLocked()

	gen := a.gen
	a.wg.Add(1)
	a.timer = time.AfterFunc(a.cfg.Debounce, func() { a.fire(gen) })
}

// Pending reports whether a save is scheduled or running.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil || a.inflight != nil
}

// Cancel drops the scheduled save and aborts the running one.
func (a *Autosaver) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.cancelLocked()
}

// Flush runs a scheduled save immediately on ctx, or waits until ctx is done
// for a save that is already running. It is a no-op when nothing is pending.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	if a.timer == nil {
		r := a.running
		a.mu.Unlock()
		if r == nil {
			return nil
		}
		select {
		case <-r.done:
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.gen++
	a.cancelLocked()
	a.mu.Unlock()

	return a.save(ctx)
}

// Stop cancels everything and refuses further triggers.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.gen++
	a.cancelLocked()
	a.mu.Unlock()
	a.stopBase()
}

// Close stops the autosaver and waits for its goroutines to exit.
func (a *Autosaver) Close(ctx context.Context) error {
	a.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelLocked stops the pending timer and aborts the running save. Caller holds a.mu.
func (a *Autosaver) cancelLocked() {
	if a.timer != nil {
		if a.timer.Stop() {
			a.wg.Done()
		}
		a.timer = nil
	}
	if a.inflight != nil {
		a.inflight()
		a.inflight = nil
		a.rec.AutosaveSuperseded()
	}
	a.running = nil
}

func (a *Autosaver) fire(gen uint64) {
	defer a.wg.Done()

	a.mu.Lock()
	if a.stopped || gen != a.gen {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(a.base)
	r := &run{done: make(chan struct{})}
	a.timer = nil
	a.inflight = cancel
	a.inflightAt = gen
	a.running = r
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.inflightAt == gen {
			a.inflight = nil
			a.running = nil
		}
		a.mu.Unlock()
		cancel()
		close(r.done)
	}()

	if r.err = a.limiter.Wait(ctx); r.err != nil {
		return
	}

	ctx, cancelSave := context.WithTimeout(ctx, a.cfg.SaveTimeout)
	defer cancelSave()

	r.err = a.save(ctx)
	switch {
	case r.err == nil:
	case errors.Is(r.err, context.Canceled):
		a.logger.Debug("autosave superseded", zap.Uint64("generation", gen))
	default:
		a.logger.Warn("autosave failed", zap.Uint64("generation", gen), zap.Error(r.err))
	}
}
