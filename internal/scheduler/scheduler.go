// Package scheduler runs the dispatch tick on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type TickFunc func(context.Context) error

// Status is a point-in-time view of the dispatcher, served by the API.
type Status struct {
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	Ticks     int64      `json:"ticks"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type Dispatcher struct {
	interval time.Duration
	tick     TickFunc
	log      zerolog.Logger

	running atomic.Bool
	ticks   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastMu   sync.Mutex
	lastTick time.Time
	lastErr  error
}

func New(interval time.Duration, tick TickFunc, log zerolog.Logger) (*Dispatcher, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tick == nil {
		return nil, errors.New("tick must not be nil")
	}
	return &Dispatcher{
		interval: interval,
		tick:     tick,
		log:      log.With().Str("component", "dispatcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop and runs one tick right away. It returns false if
// the loop is already running.
func (d *Dispatcher) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running.Store(true)

	go d.loop(ctx)
	return true
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", d.interval).Msg("dispatcher started")
	d.safeTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.safeTick(ctx)
		}
	}
}

// Stop cancels the running tick and waits for the loop to exit.
func (d *Dispatcher) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return false
	}

	d.cancel()
	<-d.done
	d.running.Store(false)

	d.log.Info().Msg("dispatcher stopped")
	return true
}

func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

func (d *Dispatcher) Status() Status {
	st := Status{
		Running:  d.IsRunning(),
		Interval: d.interval.String(),
		Ticks:    d.ticks.Load(),
	}

	d.lastMu.Lock()
	defer d.lastMu.Unlock()
	if !d.lastTick.IsZero() {
		at := d.lastTick
		st.LastTick = &at
	}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	return st
}

func (d *Dispatcher) safeTick(ctx context.Context) {
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.log.Error().Interface("panic", r).Msg("dispatcher tick panic recovered")
		}

		d.ticks.Add(1)
		d.lastMu.Lock()
		d.lastTick, d.lastErr = start.UTC(), err
		d.lastMu.Unlock()
	}()

	err = d.tick(ctx)
	switch {
	case err == nil:
		d.log.Debug().Dur("took", time.Since(start)).Msg("dispatcher tick completed")
	case errors.Is(err, context.Canceled):
	default:
		d.log.Error().Err(err).Msg("dispatcher tick failed")
	}
}
