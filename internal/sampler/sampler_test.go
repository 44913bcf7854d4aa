package sampler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedPositioner struct {
	ch  chan Position
	opt WatchOptions
}

func (f *feedPositioner) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (f *feedPositioner) Watch(ctx context.Context, opt WatchOptions) (<-chan Position, error) {
	f.opt = opt
	return f.ch, nil
}

func collect(t *testing.T, ch <-chan Position) []Position {
	res := []Position{}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return res
			}
			res = append(res, p)
		case <-timeout:
			t.Fatal("sampler did not finish")
		}
	}
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(19.07, 72.87, 19.07, 72.87), 1e-9)
	// one thousandth of a degree of latitude is about 111 m
	assert.InDelta(t, 111.2, Distance(19.07, 72.87, 19.071, 72.87), 0.5)
}

func TestTimeOrDistance(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &feedPositioner{ch: make(chan Position, 10)}
	src.ch <- Position{Lat: 19.07, Lng: 72.87, Time: t0}
	// 5 m away, 3 s later: neither threshold reached
	src.ch <- Position{Lat: 19.07004, Lng: 72.87, Time: t0.Add(3 * time.Second)}
	// 111 m away, 4 s later: distance threshold
	src.ch <- Position{Lat: 19.071, Lng: 72.87, Time: t0.Add(4 * time.Second)}
	// same place, 10 s after the last emitted fix: time threshold
	src.ch <- Position{Lat: 19.071, Lng: 72.87, Time: t0.Add(14 * time.Second)}
	close(src.ch)

	s := New(src, DefaultOptions())
	ch, err := s.Fixes(context.Background())
	require.NoError(t, err)
	got := collect(t, ch)
	require.Len(t, got, 3)
	assert.Equal(t, t0, got[0].Time)
	assert.Equal(t, t0.Add(4*time.Second), got[1].Time)
	assert.Equal(t, t0.Add(14*time.Second), got[2].Time)
	assert.Equal(t, AccuracyHigh, src.opt.Accuracy)
}

func TestNoIntermediateFix(t *testing.T) {
	t0 := time.Now()
	src := &feedPositioner{ch: make(chan Position, 10)}
	src.ch <- Position{Lat: 19.07, Lng: 72.87, Time: t0}
	src.ch <- Position{Lat: 19.07005, Lng: 72.87005, Time: t0.Add(time.Second)}
	src.ch <- Position{Lat: 19.0701, Lng: 72.8701, Time: t0.Add(2 * time.Second)}
	close(src.ch)

	ch, err := New(src, DefaultOptions()).Fixes(context.Background())
	require.NoError(t, err)
	assert.Len(t, collect(t, ch), 1)
}

func TestAlreadyStarted(t *testing.T) {
	src := &feedPositioner{ch: make(chan Position)}
	s := New(src, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Fixes(ctx)
	require.NoError(t, err)
	_, err = s.Fixes(ctx)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	cancel()
}

func TestStopsWithContext(t *testing.T) {
	src := &feedPositioner{ch: make(chan Position)}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := New(src, DefaultOptions()).Fixes(ctx)
	require.NoError(t, err)
	cancel()
	assert.Empty(t, collect(t, ch))
}
