// Package poll runs one fetch loop per paired thermostat.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joshp123/thermosync/internal/reconcile"
	"github.com/joshp123/thermosync/internal/thermostat"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultTimeout  = 15 * time.Second
)

// Fetcher reads current thermostat state from the vendor.
type Fetcher interface {
	FetchThermostat(ctx context.Context, cred thermostat.Credentials) (thermostat.Snapshot, error)
}

// Sink receives poll results.
type Sink interface {
	Submit(ev reconcile.Event)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Scheduler owns the per-device poll loops. Devices are polled independently.
type Scheduler struct {
	fetcher  Fetcher
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pollers map[string]*poller
}

type poller struct {
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
}

func New(fetcher Fetcher, sink Sink, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		fetcher:  fetcher,
		sink:     sink,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		pollers:  make(map[string]*poller),
	}
}

// Start begins polling the device: once immediately, then every interval.
// Starting an id that is already running restarts it with cred.
func (s *Scheduler) Start(cred thermostat.Credentials) {
	s.Stop(cred.DeviceID)

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		cancel:  cancel,
		done:    make(chan struct{}),
		trigger: make(chan struct{}, 1),
	}

	s.mu.Lock()
	s.pollers[cred.DeviceID] = p
	activePollers.Set(float64(len(s.pollers)))
	s.mu.Unlock()

	go s.loop(ctx, cred, p)
}

// Stop cancels the device's loop and waits for it to exit. No result for id
// is submitted after Stop returns.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	p, ok := s.pollers[id]
	delete(s.pollers, id)
	activePollers.Set(float64(len(s.pollers)))
	s.mu.Unlock()
	if !ok {
		return
	}
	p.cancel()
	<-p.done
}

// StopAll stops every loop.
func (s *Scheduler) StopAll() {
	for _, id := range s.Running() {
		s.Stop(id)
	}
}

// Trigger asks the device's loop to poll now. It reports false when the
// device is not being polled.
func (s *Scheduler) Trigger(id string) bool {
	s.mu.Lock()
	p, ok := s.pollers[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
	return true
}

// Running returns the ids currently being polled.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) loop(ctx context.Context, cred thermostat.Credentials, p *poller) {
	defer close(p.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sync(ctx, cred)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync(ctx, cred)
		case <-p.trigger:
			s.sync(ctx, cred)
		}
	}
}

func (s *Scheduler) sync(ctx context.Context, cred thermostat.Credentials) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	snap, err := s.fetcher.FetchThermostat(callCtx, cred)
	pollDuration.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		pollTotal.WithLabelValues("error").Inc()
		s.logger.Debug("poll failed", "device_id", cred.DeviceID, "err", err)
		s.sink.Submit(reconcile.PollFailed{DeviceID: cred.DeviceID, Err: err})
		return
	}
	pollTotal.WithLabelValues("ok").Inc()
	s.sink.Submit(reconcile.Polled{DeviceID: cred.DeviceID, Snapshot: snap})
}
