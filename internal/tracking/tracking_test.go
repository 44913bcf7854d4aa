package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/fleettrack/internal/events"
	"nuha.dev/fleettrack/internal/feed"
	"nuha.dev/fleettrack/internal/geocode"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/sampler"
	"nuha.dev/fleettrack/internal/store/impl/memstore"
	"nuha.dev/fleettrack/internal/util"
)

type fakePositioner struct {
	granted  bool
	ch       chan sampler.Position
	released chan struct{}
}

func newFakePositioner(granted bool) *fakePositioner {
	return &fakePositioner{granted: granted, ch: make(chan sampler.Position, 10), released: make(chan struct{})}
}

func (f *fakePositioner) RequestPermission(ctx context.Context) (bool, error) {
	return f.granted, nil
}

func (f *fakePositioner) Watch(ctx context.Context, opt sampler.WatchOptions) (<-chan sampler.Position, error) {
	go func() {
		<-ctx.Done()
		close(f.released)
	}()
	return f.ch, nil
}

type failingStore struct {
	*memstore.Store
	fail int32
}

func (f *failingStore) MergeVehicle(ctx context.Context, number string, p *model.VehiclePatch) (model.Vehicle, error) {
	if atomic.LoadInt32(&f.fail) == 1 {
		return model.Vehicle{}, errors.New("store unavailable")
	}
	return f.Store.MergeVehicle(ctx, number, p)
}

func meta() *Metadata {
	return &Metadata{UserId: "u1", Name: "A", GoodsType: "Fruits", GoodsAmount: "500kg"}
}

func recvResult(t *testing.T, d *Driver) WriteResult {
	select {
	case r := <-d.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no write result")
	}
	return WriteResult{}
}

func TestFirstFixCreatesVehicle(t *testing.T) {
	st := memstore.New(nil)
	pos := newFakePositioner(true)
	d := NewDriver(pos, sampler.DefaultOptions(), NewWriter(st, "mh12ab1234", meta()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()

	pos.ch <- sampler.Position{Lat: 19.07, Lng: 72.87, Time: time.Now()}
	res := recvResult(t, d)
	require.NoError(t, res.Err)
	assert.Equal(t, Tracking, d.State())

	v, err := st.GetVehicle(context.Background(), "MH12AB1234")
	require.NoError(t, err)
	assert.Equal(t, "A", v.Name)
	assert.Equal(t, "Fruits", v.GoodsType)
	assert.Equal(t, "500kg", v.GoodsAmount)
	assert.Equal(t, "u1", v.UserId)
	require.True(t, v.HasLocation())
	assert.Equal(t, 19.07, v.CurrentLocation.Lat)
	assert.Equal(t, 72.87, v.CurrentLocation.Lng)
	_, err = time.Parse(time.RFC3339Nano, v.CurrentLocation.Timestamp)
	assert.NoError(t, err)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, Idle, d.State())
	select {
	case <-pos.released:
	case <-time.After(time.Second):
		t.Fatal("positioner subscription not released")
	}
}

func TestPermissionDenied(t *testing.T) {
	st := memstore.New(nil)
	d := NewDriver(newFakePositioner(false), sampler.DefaultOptions(), NewWriter(st, "X1", meta()))
	err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, Idle, d.State())
	_, ok := <-d.Results()
	assert.False(t, ok)
	assert.ErrorIs(t, d.Run(context.Background()), sampler.ErrAlreadyStarted)
}

func TestStatsCountUnreadResults(t *testing.T) {
	st := memstore.New(nil)
	pos := newFakePositioner(true)
	opt := sampler.DefaultOptions()
	d := NewDriver(pos, opt, NewWriter(st, "X1", meta()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	n := resultBuffer * 2
	t0 := time.Now()
	for i := 0; i < n; i++ {
		pos.ch <- sampler.Position{Lat: 1, Lng: 1, Time: t0.Add(time.Duration(i) * opt.MinTimeInterval)}
	}
	assert.Eventually(t, func() bool {
		return d.Stats().Fixes == uint64(n)
	}, 2*time.Second, 10*time.Millisecond)
	stats := d.Stats()
	assert.Zero(t, stats.WriteErrors)
	assert.NoError(t, stats.LastError)
	assert.False(t, stats.LastFix.IsZero())
}

func TestWriteFailureDoesNotStopSampling(t *testing.T) {
	st := &failingStore{Store: memstore.New(nil), fail: 1}
	pos := newFakePositioner(true)
	opt := sampler.DefaultOptions()
	d := NewDriver(pos, opt, NewWriter(st, "X1", meta()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	t0 := time.Now()
	pos.ch <- sampler.Position{Lat: 1, Lng: 1, Time: t0}
	res := recvResult(t, d)
	assert.Error(t, res.Err)
	assert.Error(t, d.LastError())

	atomic.StoreInt32(&st.fail, 0)
	pos.ch <- sampler.Position{Lat: 1, Lng: 1, Time: t0.Add(opt.MinTimeInterval)}
	res = recvResult(t, d)
	assert.NoError(t, res.Err)
	assert.NoError(t, d.LastError())

	// metadata was not written by the failed attempt, so it goes with this one
	v, err := st.GetVehicle(context.Background(), "X1")
	require.NoError(t, err)
	assert.Equal(t, "Fruits", v.GoodsType)
}

func TestLocationOnlyWriter(t *testing.T) {
	st := memstore.New(nil)
	ctx := context.Background()
	_, err := st.MergeVehicle(ctx, "X1", &model.VehiclePatch{Name: util.StrPtr("A"), UserId: util.StrPtr("u1")})
	require.NoError(t, err)
	res := NewWriter(st, "x1", nil).Write(ctx, sampler.Position{Lat: 3, Lng: 4})
	require.NoError(t, res.Err)
	v, _ := st.GetVehicle(ctx, "X1")
	assert.Equal(t, "A", v.Name)
	assert.Equal(t, "u1", v.UserId)
	assert.Equal(t, 4.0, v.CurrentLocation.Lng)
}

func TestSecondWriteKeepsMetadataAndTimestampMonotonic(t *testing.T) {
	st := memstore.New(nil)
	w := NewWriter(st, "X1", meta())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	r1 := w.Write(ctx, sampler.Position{Lat: 1, Lng: 1})
	require.NoError(t, r1.Err)

	// admin edits the name, the writer must not overwrite it
	_, err := st.MergeVehicle(ctx, "X1", &model.VehiclePatch{Name: util.StrPtr("Renamed")})
	require.NoError(t, err)

	now = now.Add(-time.Minute)
	r2 := w.Write(ctx, sampler.Position{Lat: 2, Lng: 2})
	require.NoError(t, r2.Err)
	assert.False(t, r2.Location.Time().Before(r1.Location.Time()))

	v, _ := st.GetVehicle(ctx, "X1")
	assert.Equal(t, "Renamed", v.Name)
	assert.Equal(t, 2.0, v.CurrentLocation.Lat)
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	reply func(lat, lng float64) (*geocode.Result, error)
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (*geocode.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.reply(lat, lng)
}

func (f *fakeGeocoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type viewRecorder struct {
	mu    sync.Mutex
	views []View
}

func (r *viewRecorder) add(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *viewRecorder) last() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}
	}
	return r.views[len(r.views)-1]
}

func viewerSetup(t *testing.T) (*memstore.Store, *feed.Feed) {
	b, err := events.New(1)
	require.NoError(t, err)
	st := memstore.New(b)
	f := feed.New(st)
	f.Attach(b)
	return st, f
}

func runViewer(t *testing.T, f *feed.Feed, geo geocode.Geocoder) (*viewRecorder, context.CancelFunc) {
	rec := &viewRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	v := NewViewer(f, geo, "X1", rec.add)
	go v.Run(ctx)
	return rec, cancel
}

func TestViewerWithoutLocation(t *testing.T) {
	st, f := viewerSetup(t)
	_, err := st.MergeVehicle(context.Background(), "X1", &model.VehiclePatch{Name: util.StrPtr("A")})
	require.NoError(t, err)
	geo := &fakeGeocoder{reply: func(lat, lng float64) (*geocode.Result, error) { return &geocode.Result{}, nil }}
	rec, cancel := runViewer(t, f, geo)
	defer cancel()

	require.Eventually(t, func() bool { return rec.last().State == Live }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, AddressUnavailable, rec.last().Address)
	assert.Equal(t, "A", rec.last().Vehicle.Name)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, geo.Calls())
}

func TestViewerStartsLoading(t *testing.T) {
	_, f := viewerSetup(t)
	geo := &fakeGeocoder{}
	rec, cancel := runViewer(t, f, geo)
	defer cancel()
	require.Eventually(t, func() bool { return rec.last().State == Loading }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, AddressFetching, rec.last().Address)
}

func TestViewerAddressOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		reply  func(lat, lng float64) (*geocode.Result, error)
		expect string
		number string
	}{
		{"found", func(lat, lng float64) (*geocode.Result, error) {
			return &geocode.Result{DisplayName: "Bandra, Mumbai", Address: &geocode.Address{HouseNumber: "12"}}, nil
		}, "Bandra, Mumbai", "12"},
		{"not found", func(lat, lng float64) (*geocode.Result, error) { return &geocode.Result{}, nil }, AddressNotFound, ""},
		{"failed", func(lat, lng float64) (*geocode.Result, error) { return nil, errors.New("boom") }, AddressFailed, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			st, f := viewerSetup(t)
			_, err := st.MergeVehicle(context.Background(), "X1", &model.VehiclePatch{
				Name:            util.StrPtr("A"),
				CurrentLocation: model.NewLocation(19.07, 72.87, time.Now()),
			})
			require.NoError(t, err)
			rec, cancel := runViewer(t, f, &fakeGeocoder{reply: c.reply})
			defer cancel()
			require.Eventually(t, func() bool { return rec.last().Address == c.expect }, 2*time.Second, 5*time.Millisecond)
			last := rec.last()
			assert.Equal(t, c.number, last.AddressNumber)
			assert.Equal(t, "19.07000, 72.87000", last.Coordinates)
			assert.Equal(t, "A", last.Vehicle.Name)
		})
	}
}

func TestViewerDiscardsStaleGeocode(t *testing.T) {
	st, f := viewerSetup(t)
	ctx := context.Background()
	slow := make(chan struct{})
	geo := &fakeGeocoder{reply: func(lat, lng float64) (*geocode.Result, error) {
		if lat == 1 {
			<-slow
			return &geocode.Result{DisplayName: "old place"}, nil
		}
		return &geocode.Result{DisplayName: "new place"}, nil
	}}
	_, err := st.MergeVehicle(ctx, "X1", &model.VehiclePatch{CurrentLocation: model.NewLocation(1, 1, time.Now())})
	require.NoError(t, err)
	rec, cancel := runViewer(t, f, geo)
	defer cancel()
	require.Eventually(t, func() bool { return geo.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = st.MergeVehicle(ctx, "X1", &model.VehiclePatch{CurrentLocation: model.NewLocation(2, 2, time.Now())})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.last().Address == "new place" }, 2*time.Second, 5*time.Millisecond)

	close(slow)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "new place", rec.last().Address)
	assert.Equal(t, 2.0, rec.last().Vehicle.CurrentLocation.Lat)
}
