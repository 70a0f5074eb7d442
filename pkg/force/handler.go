// Package force is the polling API over a force-sensor peripheral. Every call
// returns within a fixed bound; transport failures are reported as sentinel values.
package force

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ctc/forcemon/internal/reading"
	"github.com/ctc/forcemon/internal/session"
	"github.com/ctc/forcemon/internal/sim"
	"github.com/ctc/forcemon/internal/worker"
	"github.com/sirupsen/logrus"
)

var errAbandoned = errors.New("connect result abandoned")

// Options bounds every façade call
type Options struct {
	Mode Mode

	ConnectBudget    time.Duration
	DisconnectBudget time.Duration
	ReadTimeout      time.Duration
	PollInterval     time.Duration
	GracePeriod      time.Duration
}

// DefaultOptions returns 15s connect, 5s disconnect, 1s read polled every 50ms, 200ms grace
func DefaultOptions() Options {
	return Options{
		Mode:             OneShot,
		ConnectBudget:    15 * time.Second,
		DisconnectBudget: 5 * time.Second,
		ReadTimeout:      time.Second,
		PollInterval:     50 * time.Millisecond,
		GracePeriod:      200 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectBudget <= 0 {
		o.ConnectBudget = def.ConnectBudget
	}
	if o.DisconnectBudget <= 0 {
		o.DisconnectBudget = def.DisconnectBudget
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = 0
	}
	return o
}

// Handler serves readings of one peripheral to a caller that must not block for long.
// Session calls are executed on the shared worker loop.
type Handler struct {
	name   string
	sess   *session.Session
	loop   *worker.Loop
	logger *logrus.Logger

	mu   sync.Mutex
	opts Options

	graceUsed atomic.Bool

	simulated    bool
	simConnected atomic.Bool
	single       *sim.Walk
	dualA        *sim.Walk
	dualB        *sim.Walk
}

// NewHandler creates a handler driving sess through loop
func NewHandler(sess *session.Session, loop *worker.Loop, opts Options, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		name:   sess.Name(),
		sess:   sess,
		loop:   loop,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// SimOptions configures the random walks of a simulated handler
type SimOptions struct {
	Start     float64
	Step      float64
	SingleMax float64
	DualMax   float64
	RNG       *rand.Rand
}

// DefaultSimOptions returns start 500, step 50, max 1000 single and 1500 dual
func DefaultSimOptions() SimOptions {
	return SimOptions{
		Start:     sim.DefaultStart,
		Step:      sim.DefaultStep,
		SingleMax: sim.DefaultSingleMax,
		DualMax:   sim.DefaultDualMax,
	}
}

// NewSimulatedHandler creates a handler that needs no radio
func NewSimulatedHandler(name string, opts Options, simOpts SimOptions, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	rng := simOpts.RNG
	return &Handler{
		name:      name,
		opts:      opts.withDefaults(),
		logger:    logger,
		simulated: true,
		single:    sim.NewWalk(simOpts.Start, simOpts.Step, simOpts.SingleMax, sim.Fork(rng)),
		dualA:     sim.NewWalk(simOpts.Start, simOpts.Step, simOpts.DualMax, sim.Fork(rng)),
		dualB:     sim.NewWalk(simOpts.Start, simOpts.Step, simOpts.DualMax, sim.Fork(rng)),
	}
}

func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) Simulated() bool {
	return h.simulated
}

func (h *Handler) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts.Mode
}

func (h *Handler) options() Options {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts
}

// IsConnected reports whether readings can be requested
func (h *Handler) IsConnected() bool {
	if h.simulated {
		return h.simConnected.Load()
	}
	return h.sess.IsReady()
}

// State returns the session state; simulated handlers are Ready while connected
func (h *Handler) State() session.State {
	if h.simulated {
		if h.simConnected.Load() {
			return session.Ready
		}
		return session.Disconnected
	}
	return h.sess.State()
}

// LastError returns the cause of the last failed connect, nil for simulated handlers
func (h *Handler) LastError() error {
	if h.simulated {
		return nil
	}
	return h.sess.LastError()
}

// AgeMillis returns milliseconds since the last reading arrived
func (h *Handler) AgeMillis() int64 {
	if h.simulated {
		return 0
	}
	return h.sess.Cache().AgeMillis()
}

// ResetReading drops the cached reading so the next continuous read waits for
// fresh data. Used when a new drill starts.
func (h *Handler) ResetReading() {
	h.graceUsed.Store(false)
	if h.simulated {
		return
	}
	h.sess.Cache().Reset()
	h.logger.WithField("device", h.name).Debug("Reading reset")
}

type connectAttempt struct {
	mu        sync.Mutex
	abandoned bool
	finished  bool
}

// Connect connects the peripheral and, in continuous mode, starts streaming.
// It returns true immediately when already connected and gives up after the connect budget.
func (h *Handler) Connect(ctx context.Context) (ok bool) {
	defer h.recoverPanic("Connect", func() { ok = false })

	if h.IsConnected() {
		return true
	}
	if h.simulated {
		h.simConnected.Store(true)
		h.logger.WithField("device", h.name).Info("Simulated peripheral connected")
		return true
	}

	opts := h.options()
	attempt := &connectAttempt{}

	ok, err := worker.Do(h.loop, opts.ConnectBudget, func(loopCtx context.Context) (bool, error) {
		err := h.sess.Connect(loopCtx)
		if err == nil {
			// the mode may have changed while this job was queued
			if err = h.syncMode(); err != nil {
				h.sess.Disconnect(loopCtx)
			}
		}

		attempt.mu.Lock()
		defer attempt.mu.Unlock()
		attempt.finished = true
		if attempt.abandoned && err == nil {
			h.logger.WithField("device", h.name).Warn("Connect finished after the caller gave up, disconnecting")
			h.sess.Disconnect(loopCtx)
			return false, errAbandoned
		}
		return err == nil, err
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			attempt.mu.Lock()
			attempt.abandoned = true
			finished := attempt.finished
			attempt.mu.Unlock()
			if finished && h.sess.IsReady() {
				// the job completed right at the deadline
				h.graceUsed.Store(false)
				return true
			}
		}
		h.logger.WithFields(logrus.Fields{
			"device": h.name,
			"budget": opts.ConnectBudget,
			"error":  err,
		}).Error("Connection Failed")
		return false
	}

	h.graceUsed.Store(false)
	return ok
}

// Disconnect closes the link; it is a no-op when not connected
func (h *Handler) Disconnect() {
	defer h.recoverPanic("Disconnect", nil)

	if h.simulated {
		if h.simConnected.Swap(false) {
			h.logger.WithField("device", h.name).Info("Simulated peripheral disconnected")
		}
		return
	}
	if !h.IsConnected() {
		return
	}

	opts := h.options()
	_, err := worker.Do(h.loop, opts.DisconnectBudget, func(loopCtx context.Context) (struct{}, error) {
		h.sess.Disconnect(loopCtx)
		return struct{}{}, nil
	})
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"device": h.name,
			"error":  err,
		}).Warn("Disconnect did not complete in time")
	}
}

// SetMode switches between one-shot and continuous readings, sending START or
// STOP to a connected peripheral. A change made while a connect is in flight is
// applied by the worker once that connect completes.
func (h *Handler) SetMode(mode Mode) error {
	h.mu.Lock()
	prev := h.opts.Mode
	h.opts.Mode = mode
	h.mu.Unlock()

	if h.simulated || prev == mode {
		return nil
	}

	_, err := worker.Do(h.loop, h.options().ReadTimeout, func(context.Context) (struct{}, error) {
		return struct{}{}, h.syncMode()
	})
	switch {
	case err == nil:
		h.graceUsed.Store(false)
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		// still queued behind a connect; the job reads the mode when it runs
		h.logger.WithFields(logrus.Fields{
			"device": h.name,
			"mode":   mode,
		}).Debug("Mode change queued")
		h.graceUsed.Store(false)
		return nil
	default:
		h.mu.Lock()
		if h.opts.Mode == mode {
			h.opts.Mode = prev
		}
		h.mu.Unlock()
		return err
	}
}

// syncMode brings the session's streaming state in line with the current mode.
// It runs on the worker.
func (h *Handler) syncMode() error {
	if !h.sess.IsReady() {
		return nil
	}
	want := h.Mode() == Continuous
	if want == h.sess.Continuous() {
		return nil
	}
	if want {
		return h.sess.EnterContinuousMode()
	}
	return h.sess.LeaveContinuousMode()
}

// GetReading returns channel A
func (h *Handler) GetReading() (v Value) {
	defer h.recoverPanic("GetReading", func() { v = ErrorValue })

	if !h.IsConnected() {
		return NA
	}
	if h.simulated {
		return Number(h.single.Next())
	}
	return h.read().A
}

// GetBothReadings returns both channels and the timing fields
func (h *Handler) GetBothReadings() (r Readings) {
	defer h.recoverPanic("GetBothReadings", func() { r = sentinelReadings(ErrorValue) })

	if !h.IsConnected() {
		return sentinelReadings(NA)
	}
	if h.simulated {
		return Readings{A: Number(h.dualA.Next()), B: Number(h.dualB.Next())}
	}
	return h.read()
}

func (h *Handler) read() Readings {
	opts := h.options()
	if opts.Mode == Continuous {
		return h.latest(opts)
	}
	return h.requestOne(opts)
}

// latest serves the cached reading, waiting once for the first frame of a stream
func (h *Handler) latest(opts Options) Readings {
	cache := h.sess.Cache()
	r := cache.Latest()
	if !r.HasValue() && opts.GracePeriod > 0 && !h.graceUsed.Swap(true) {
		timer := time.NewTimer(opts.GracePeriod)
		defer timer.Stop()
		select {
		case <-cache.Updated():
		case <-timer.C:
		}
		r = cache.Latest()
	}
	if !r.HasValue() {
		return sentinelReadings(NA)
	}
	return toReadings(r)
}

// requestOne sends GET_FORCE and polls the cache until a reply arrives or ReadTimeout passes
func (h *Handler) requestOne(opts Options) Readings {
	deadline := time.Now().Add(opts.ReadTimeout)
	cache := h.sess.Cache()
	cache.Reset()

	_, err := worker.Do(h.loop, opts.ReadTimeout, func(context.Context) (struct{}, error) {
		return struct{}{}, h.sess.SendCommand(session.CmdGetForce)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.logger.WithField("device", h.name).Warn("Worker busy, GET_FORCE not sent in time")
			return sentinelReadings(TimeoutValue)
		}
		h.logger.WithFields(logrus.Fields{
			"device": h.name,
			"error":  err,
		}).Error("Error sending GET_FORCE")
		return sentinelReadings(ErrorValue)
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		updated := cache.Updated()
		if r := cache.Latest(); r.HasValue() {
			return toReadings(r)
		}
		select {
		case <-updated:
		case <-ticker.C:
		case <-timer.C:
			if r := cache.Latest(); r.HasValue() {
				return toReadings(r)
			}
			h.logger.WithFields(logrus.Fields{
				"device":  h.name,
				"timeout": opts.ReadTimeout,
			}).Warn("No reading received")
			return sentinelReadings(TimeoutValue)
		}
	}
}

func toReadings(r reading.Reading) Readings {
	out := Readings{
		A:                NA,
		B:                NA,
		MsSinceDetection: r.MsSinceDetection,
	}
	if r.ChannelA != nil {
		out.A = Number(*r.ChannelA)
	}
	if r.ChannelB != nil {
		out.B = Number(*r.ChannelB)
	}
	if r.MsSinceTransmit != nil {
		out.MsSinceTransmit = *r.MsSinceTransmit
	}
	return out
}

func (h *Handler) recoverPanic(op string, onPanic func()) {
	if r := recover(); r != nil {
		h.logger.WithFields(logrus.Fields{
			"device": h.name,
			"op":     op,
			"panic":  r,
		}).Error("Recovered from panic")
		if onPanic != nil {
			onPanic()
		}
	}
}
