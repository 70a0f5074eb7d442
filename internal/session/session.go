// Package session owns the link to one named force-sensor peripheral: discovery,
// connection, NUS endpoint resolution, notification subscription and command writes.
//
// Session methods are not safe to call concurrently with each other; callers run
// them on a single worker goroutine. Accessors (State, Continuous, LastError) may
// be called from anywhere.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ctc/forcemon/internal/device"
	"github.com/ctc/forcemon/internal/reading"
	"github.com/ctc/forcemon/internal/worker"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Session
type State int

const (
	Disconnected State = iota
	Discovering
	Connecting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Command is a text command understood by the firmware
type Command string

const (
	CmdGetForce       Command = "GET_FORCE\n"
	CmdStartStreaming Command = "START_FORCE_READING\n"
	CmdStopStreaming  Command = "STOP_FORCE_READING\n"
)

// Options configures discovery and connection
type Options struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	StopTimeout    time.Duration

	ServiceUUID string
	WriteUUID   string
	NotifyUUID  string
}

// DefaultOptions returns the firmware defaults: NUS endpoints, 4s scan, 5s connect
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    4 * time.Second,
		ConnectTimeout: 5 * time.Second,
		StopTimeout:    time.Second,
		ServiceUUID:    device.NUSServiceUUID,
		WriteUUID:      device.NUSRXCharUUID,
		NotifyUUID:     device.NUSTXCharUUID,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = def.ScanTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = def.StopTimeout
	}
	if o.ServiceUUID == "" {
		o.ServiceUUID = def.ServiceUUID
	}
	if o.WriteUUID == "" {
		o.WriteUUID = def.WriteUUID
	}
	if o.NotifyUUID == "" {
		o.NotifyUUID = def.NotifyUUID
	}
	return o
}

// Session is one logical connection to one named peripheral.
// It is created once and reused across connect attempts.
type Session struct {
	name    string
	adapter device.Adapter
	cache   *reading.Cache
	opts    Options
	logger  *logrus.Logger

	mu         sync.RWMutex
	state      State
	client     device.Client
	rx         device.Characteristic
	tx         device.Characteristic
	continuous bool
	lastErr    error
	linkStop   chan struct{}
}

// New creates a disconnected session for the peripheral advertising name
func New(name string, adapter device.Adapter, cache *reading.Cache, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if cache == nil {
		cache = reading.NewCache()
	}
	return &Session{
		name:    name,
		adapter: adapter,
		cache:   cache,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Cache() *reading.Cache {
	return s.cache
}

func (s *Session) Options() Options {
	return s.opts
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsReady() bool {
	return s.State() == Ready
}

func (s *Session) Continuous() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.continuous
}

// LastError returns the error of the most recent failed connect
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Address returns the connected peripheral address, empty when not connected
func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return ""
	}
	return s.client.Address()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.WithFields(logrus.Fields{
			"device": s.name,
			"from":   prev.String(),
			"to":     state.String(),
		}).Debug("Session state changed")
	}
}

// Connect discovers the peripheral by its exact advertised name, connects,
// resolves the NUS endpoints and subscribes to notifications. It is a no-op
// when the session is already Ready.
func (s *Session) Connect(ctx context.Context) error {
	if s.IsReady() {
		return nil
	}
	if s.adapter == nil {
		return s.fail(&device.ConnectError{Device: s.name, Op: "scan", Err: device.ErrUnsupported})
	}

	s.cache.Reset()
	s.setState(Discovering)

	addr, err := s.discover(ctx)
	if err != nil {
		return s.fail(err)
	}

	s.setState(Connecting)
	s.logger.WithFields(logrus.Fields{
		"device":  s.name,
		"address": addr,
	}).Info("Connecting to peripheral...")

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	client, err := s.adapter.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", device.ErrTimeout, s.opts.ConnectTimeout, err)
		}
		return s.fail(&device.ConnectError{Device: s.name, Op: "dial", Err: err})
	}

	rx, tx, err := s.resolve(client)
	if err != nil {
		s.cancelClient(client)
		return s.fail(err)
	}

	if !tx.Properties().Has(device.PropNotify) && !tx.Properties().Has(device.PropIndicate) {
		s.logger.WithFields(logrus.Fields{
			"device":     s.name,
			"properties": tx.Properties().String(),
		}).Warn("Notify characteristic does not advertise notify or indicate")
	}

	if err := tx.Subscribe(s.handleNotification); err != nil {
		s.cancelClient(client)
		return s.fail(&device.ConnectError{Device: s.name, Op: "subscribe", Err: err})
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.client = client
	s.rx = rx
	s.tx = tx
	s.continuous = false
	s.lastErr = nil
	s.linkStop = stop
	s.mu.Unlock()
	s.setState(Ready)

	s.watchLink(client, stop)

	s.logger.WithFields(logrus.Fields{
		"device":  s.name,
		"address": client.Address(),
	}).Info("Peripheral ready")
	return nil
}

func (s *Session) discover(ctx context.Context) (string, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	defer cancel()

	s.logger.WithFields(logrus.Fields{
		"device":  s.name,
		"timeout": s.opts.ScanTimeout,
	}).Debug("Scanning for peripheral...")

	found := make(chan string, 1)
	err := s.adapter.Scan(scanCtx, func(adv device.Advertisement) {
		if adv.LocalName() != s.name {
			return
		}
		select {
		case found <- adv.Addr():
			cancel()
		default:
		}
	})

	select {
	case addr := <-found:
		return addr, nil
	default:
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return "", &device.ConnectError{Device: s.name, Op: "scan", Err: err}
	}
	return "", &device.NotFoundError{Resource: "device", IDs: []string{s.name}}
}

func (s *Session) resolve(client device.Client) (rx, tx device.Characteristic, err error) {
	services, err := client.DiscoverProfile()
	if err != nil {
		return nil, nil, &device.ConnectError{Device: s.name, Op: "discover", Err: err}
	}

	svc, ok := device.FindService(services, s.opts.ServiceUUID)
	if !ok {
		return nil, nil, &device.NotFoundError{Resource: "service", IDs: []string{s.opts.ServiceUUID}}
	}

	rx, rxOK := device.FindCharacteristic(svc, s.opts.WriteUUID)
	tx, txOK := device.FindCharacteristic(svc, s.opts.NotifyUUID)
	if !rxOK || !txOK {
		missing := []string{s.opts.ServiceUUID}
		if !rxOK {
			missing = append(missing, s.opts.WriteUUID)
		}
		if !txOK {
			missing = append(missing, s.opts.NotifyUUID)
		}
		return nil, nil, &device.NotFoundError{Resource: "characteristic", IDs: missing}
	}
	return rx, tx, nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.setState(Failed)

	s.logger.WithFields(logrus.Fields{
		"device": s.name,
		"error":  err,
	}).Warn("Failed to connect to peripheral")
	return err
}

func (s *Session) cancelClient(client device.Client) {
	if err := client.CancelConnection(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.name,
			"error":  err,
		}).Debug("CancelConnection failed during cleanup")
	}
}

// watchLink moves the session to Disconnected when the backend reports link loss
func (s *Session) watchLink(client device.Client, stop chan struct{}) {
	worker.Go(context.Background(), "session-link-"+s.name, func(ctx context.Context) {
		select {
		case <-client.Disconnected():
		case <-stop:
			return
		}

		s.mu.Lock()
		if s.linkStop != stop {
			s.mu.Unlock()
			return
		}
		s.detachLocked()
		s.mu.Unlock()
		s.setState(Disconnected)

		s.logger.WithField("device", s.name).Warn("Peripheral link lost")
	})
}

// detachLocked forgets the link; s.mu must be held
func (s *Session) detachLocked() {
	if s.linkStop != nil {
		close(s.linkStop)
		s.linkStop = nil
	}
	s.client = nil
	s.rx = nil
	s.tx = nil
	s.continuous = false
}

// Disconnect stops streaming if active, unsubscribes and closes the link.
// It always leaves the session Disconnected; failures are only logged.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	client, rx, tx, continuous := s.client, s.rx, s.tx, s.continuous
	s.detachLocked()
	s.mu.Unlock()

	if client == nil {
		s.setState(Disconnected)
		return
	}

	if continuous && rx != nil {
		if err := s.writeBounded(ctx, rx, CmdStopStreaming, s.opts.StopTimeout); err != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.name,
				"error":  err,
			}).Warn("Failed to stop streaming before disconnect")
		}
	}

	if tx != nil {
		if err := tx.Unsubscribe(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.name,
				"error":  err,
			}).Debug("Unsubscribe failed")
		}
	}

	if err := client.CancelConnection(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.name,
			"error":  err,
		}).Warn("Failed to close connection")
	}

	s.setState(Disconnected)
	s.logger.WithField("device", s.name).Info("Disconnected from peripheral")
}

// writeBounded writes cmd and gives up waiting after timeout
func (s *Session) writeBounded(ctx context.Context, rx device.Characteristic, cmd Command, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- write(rx, cmd)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.C:
		return fmt.Errorf("%w: %q not written within %s", device.ErrTimeout, cmd, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func write(rx device.Characteristic, cmd Command) error {
	p := rx.Properties()
	withResponse := p != 0 && p&device.PropWriteWithoutResponse == 0
	return rx.Write([]byte(cmd), withResponse)
}

// SendCommand writes cmd to the peripheral
func (s *Session) SendCommand(cmd Command) error {
	s.mu.RLock()
	rx, state := s.rx, s.state
	s.mu.RUnlock()

	if state != Ready || rx == nil {
		return &device.WriteError{Command: string(cmd), Err: device.ErrNotConnected}
	}

	if err := write(rx, cmd); err != nil {
		return &device.WriteError{Command: string(cmd), Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"device":  s.name,
		"command": strings.TrimSpace(string(cmd)),
	}).Debug("Command sent")
	return nil
}

// EnterContinuousMode asks the peripheral to push readings without being polled
func (s *Session) EnterContinuousMode() error {
	if err := s.SendCommand(CmdStartStreaming); err != nil {
		return err
	}
	s.mu.Lock()
	s.continuous = true
	s.mu.Unlock()
	return nil
}

// LeaveContinuousMode stops pushed readings
func (s *Session) LeaveContinuousMode() error {
	if err := s.SendCommand(CmdStopStreaming); err != nil {
		return err
	}
	s.mu.Lock()
	s.continuous = false
	s.mu.Unlock()
	return nil
}

// handleNotification is the notification sink; it runs on a backend goroutine
func (s *Session) handleNotification(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.name,
				"panic":  r,
			}).Error("Notification handler panicked")
		}
	}()

	r, err := s.cache.Apply(data)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.name,
			"error":  err,
		}).Warn("Dropping malformed notification")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device":  s.name,
		"reading": r.String(),
	}).Trace("Reading received")
}
