package sampler

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var ErrAlreadyStarted = errors.New("sampler already started")

type Accuracy string

const (
	AccuracyLow      Accuracy = "low"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyHigh     Accuracy = "high"
)

type WatchOptions struct {
	Accuracy        Accuracy
	MinTimeInterval time.Duration
	MinDistance     float64 // meters
}

func DefaultOptions() WatchOptions {
	return WatchOptions{Accuracy: AccuracyHigh, MinTimeInterval: 10 * time.Second, MinDistance: 20}
}

type Position struct {
	Lat      float64
	Lng      float64
	Time     time.Time
	Accuracy float64
	Altitude float64
	Speed    float64
}

// Positioner is the positioning capability of a device.
type Positioner interface {
	RequestPermission(ctx context.Context) (bool, error)
	// Watch streams raw positions until ctx ends or the source stops.
	Watch(ctx context.Context, opt WatchOptions) (<-chan Position, error)
}

// Sampler yields the qualifying fixes of one Positioner. It can be started once.
type Sampler struct {
	src     Positioner
	opt     WatchOptions
	mu      sync.Mutex
	started bool
}

func New(src Positioner, opt WatchOptions) *Sampler {
	return &Sampler{src: src, opt: opt}
}

func (s *Sampler) Options() WatchOptions {
	return s.opt
}

// Fixes starts watching. The first position always qualifies, a later one
// when MinTimeInterval elapsed OR it moved MinDistance from the last emitted
// fix. The channel closes when ctx ends or the source stops.
func (s *Sampler) Fixes(ctx context.Context) (<-chan Position, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	raw, err := s.src.Watch(ctx, s.opt)
	if err != nil {
		return nil, err
	}
	out := make(chan Position)
	go func() {
		defer close(out)
		var last *Position
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-raw:
				if !ok {
					return
				}
				if last != nil && !s.qualifies(*last, p) {
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
				q := p
				last = &q
			}
		}
	}()
	return out, nil
}

func (s *Sampler) qualifies(last, p Position) bool {
	if p.Time.Sub(last.Time) >= s.opt.MinTimeInterval {
		return true
	}
	return Distance(last.Lat, last.Lng, p.Lat, p.Lng) >= s.opt.MinDistance
}

const earthRadius = 6371008.8 // meters

// Distance is the haversine great-circle distance in meters.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dlat := (lat2 - lat1) * rad
	dlng := (lng2 - lng1) * rad
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
}
