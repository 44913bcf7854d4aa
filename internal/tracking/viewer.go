package tracking

import (
	"context"
	"fmt"
	"sync"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/geocode"
	"nuha.dev/fleettrack/internal/model"
)

const (
	AddressFetching    = "Fetching address..."
	AddressNotFound    = "Address not found"
	AddressFailed      = "Failed to fetch address"
	AddressUnavailable = "Location not available"
	notAvailable       = "N/A"
)

type ViewState string

const (
	Loading ViewState = "loading"
	Live    ViewState = "live"
)

type View struct {
	State         ViewState      `json:"state"`
	VehicleNumber string         `json:"vehicleNumber"`
	Vehicle       *model.Vehicle `json:"vehicle,omitempty"`
	Coordinates   string         `json:"coordinates"`
	Address       string         `json:"address"`
	AddressNumber string         `json:"addressNumber,omitempty"`
	LastUpdated   string         `json:"lastUpdated"`
	Seq           uint64         `json:"seq"`
}

type VehicleWatcher interface {
	WatchVehicle(ctx context.Context, number string) (<-chan model.Vehicle, error)
}

// Viewer follows one vehicle document and resolves its address.
type Viewer struct {
	feed   VehicleWatcher
	geo    geocode.Geocoder
	onView func(View)
	mu     sync.Mutex
	view   View
	closed bool
	log    log.Logger
}

// NewViewer calls onView with every change of the view, in order.
// onView must not call back into the viewer.
func NewViewer(feed VehicleWatcher, geo geocode.Geocoder, number string, onView func(View)) *Viewer {
	v := &Viewer{feed: feed, geo: geo, onView: onView}
	if v.onView == nil {
		v.onView = func(View) {}
	}
	number = model.NormalizeVehicleNumber(number)
	v.view = View{State: Loading, VehicleNumber: number, Address: AddressFetching, Coordinates: notAvailable, LastUpdated: notAvailable}
	v.log = log.DefaultLogger
	v.log.Context = log.NewContext(nil).Str("module", "viewer").Str("vehicle", number).Value()
	return v
}

func (v *Viewer) View() View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.copyView()
}

func (v *Viewer) copyView() View {
	c := v.view
	if c.Vehicle != nil {
		veh := *c.Vehicle
		if veh.CurrentLocation != nil {
			loc := *veh.CurrentLocation
			veh.CurrentLocation = &loc
		}
		c.Vehicle = &veh
	}
	return c
}

// Run follows the vehicle until ctx ends.
func (v *Viewer) Run(ctx context.Context) error {
	docs, err := v.feed.WatchVehicle(ctx, v.view.VehicleNumber)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.onView(v.copyView())
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case doc, ok := <-docs:
			if !ok {
				return nil
			}
			v.update(doc)
		}
	}
}

func (v *Viewer) update(doc model.Vehicle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.view.Seq++
	v.view.State = Live
	v.view.Vehicle = &doc
	if !doc.HasLocation() {
		v.view.Coordinates = notAvailable
		v.view.LastUpdated = notAvailable
		v.view.Address = AddressUnavailable
		v.view.AddressNumber = ""
		v.onView(v.copyView())
		return
	}
	loc := *doc.CurrentLocation
	v.view.Coordinates = fmt.Sprintf("%.5f, %.5f", loc.Lat, loc.Lng)
	v.view.LastUpdated = loc.Timestamp
	v.onView(v.copyView())
	go v.resolve(v.view.Seq, loc.Lat, loc.Lng)
}

// resolve is not cancelled when the viewer stops, a late answer is dropped
// like any superseded one.
func (v *Viewer) resolve(seq uint64, lat, lng float64) {
	res, err := v.geo.Reverse(context.Background(), lat, lng)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || seq != v.view.Seq {
		v.log.Debug().Uint64("seq", seq).Uint64("current", v.view.Seq).Msg("discarding stale geocode")
		return
	}
	switch {
	case err != nil:
		v.log.Error().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("reverse geocode failed")
		v.view.Address = AddressFailed
		v.view.AddressNumber = ""
	case !res.Found():
		v.view.Address = AddressNotFound
		v.view.AddressNumber = ""
	default:
		v.view.Address = res.DisplayName
		v.view.AddressNumber = res.AddressNumber()
	}
	v.onView(v.copyView())
}
