package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/sampler"
)

var ErrPermissionDenied = errors.New("location permission denied")

type DriverState int32

const (
	Idle DriverState = iota
	PermissionRequested
	Tracking
)

func (s DriverState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PermissionRequested:
		return "permission_requested"
	case Tracking:
		return "tracking"
	}
	return "unknown"
}

const resultBuffer = 16

// Driver samples a positioner and writes every qualifying fix.
type Driver struct {
	pos     sampler.Positioner
	sampler *sampler.Sampler
	writer  *Writer
	state   int32
	started int32
	results chan WriteResult
	mu      sync.Mutex
	stats   DriverStats
	lastErr error
	log     log.Logger
}

// DriverStats counts every write of a driver, including outcomes dropped
// from Results.
type DriverStats struct {
	Fixes       uint64
	WriteErrors uint64
	LastFix     time.Time
	LastError   error
}

func NewDriver(pos sampler.Positioner, opt sampler.WatchOptions, w *Writer) *Driver {
	d := &Driver{pos: pos, writer: w}
	d.sampler = sampler.New(pos, opt)
	d.results = make(chan WriteResult, resultBuffer)
	d.log = log.DefaultLogger
	d.log.Context = log.NewContext(nil).Str("module", "driver").Str("vehicle", w.VehicleNumber()).Value()
	return d
}

func (d *Driver) State() DriverState {
	return DriverState(atomic.LoadInt32(&d.state))
}

func (d *Driver) setState(s DriverState) {
	atomic.StoreInt32(&d.state, int32(s))
	d.log.Debug().Str("state", s.String()).Msg("driver state")
}

// Results carries the outcome of every write. Outcomes are dropped when
// nobody reads them. The channel closes when Run returns.
func (d *Driver) Results() <-chan WriteResult {
	return d.results
}

func (d *Driver) Stats() DriverStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// LastError is the error of the most recent write, nil after a success.
func (d *Driver) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Run asks for permission then tracks until ctx ends. A denied permission
// returns ErrPermissionDenied and is not retried. Run can be called once.
func (d *Driver) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return sampler.ErrAlreadyStarted
	}
	defer close(d.results)
	defer d.setState(Idle)

	d.setState(PermissionRequested)
	granted, err := d.pos.RequestPermission(ctx)
	if err != nil {
		return err
	}
	if !granted {
		d.log.Info().Msg("location permission denied")
		return ErrPermissionDenied
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fixes, err := d.sampler.Fixes(wctx)
	if err != nil {
		return err
	}
	d.setState(Tracking)
	d.log.Info().Msg("tracking started")
	for p := range fixes {
		res := d.writer.Write(ctx, p)
		d.mu.Lock()
		d.lastErr = res.Err
		if res.Err != nil {
			d.stats.WriteErrors++
		} else {
			d.stats.Fixes++
			d.stats.LastFix = res.Location.Time()
		}
		d.stats.LastError = res.Err
		d.mu.Unlock()
		select {
		case d.results <- res:
		default:
		}
	}
	d.log.Info().Msg("tracking stopped")
	return ctx.Err()
}
