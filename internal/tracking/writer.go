package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/sampler"
	"nuha.dev/fleettrack/internal/store"
)

// Metadata is the static part of a vehicle document, written with the first fix.
type Metadata struct {
	UserId      string
	Name        string
	GoodsType   string
	GoodsAmount string
}

type WriteResult struct {
	VehicleNumber string
	Location      model.Location
	Err           error
}

// Writer merges fixes into one vehicle document.
type Writer struct {
	st       store.VehicleStore
	number   string
	meta     *Metadata
	mu       sync.Mutex
	metaDone bool
	last     time.Time
	now      func() time.Time
	log      log.Logger
}

// NewWriter writes fixes for number. A nil meta only ever touches the location.
func NewWriter(st store.VehicleStore, number string, meta *Metadata) *Writer {
	w := &Writer{st: st, number: model.NormalizeVehicleNumber(number), meta: meta, now: time.Now}
	w.metaDone = meta == nil
	w.log = log.DefaultLogger
	w.log.Context = log.NewContext(nil).Str("module", "writer").Str("vehicle", w.number).Value()
	return w
}

func (w *Writer) VehicleNumber() string {
	return w.number
}

// Write stores p as the current location. Failures are logged and returned,
// never retried. Metadata goes along until one write succeeds.
func (w *Writer) Write(ctx context.Context, p sampler.Position) WriteResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.now().UTC()
	if t.Before(w.last) {
		t = w.last
	}
	loc := model.NewLocation(p.Lat, p.Lng, t)
	patch := &model.VehiclePatch{CurrentLocation: loc}
	if !w.metaDone {
		patch.UserId = &w.meta.UserId
		patch.Name = &w.meta.Name
		patch.GoodsType = &w.meta.GoodsType
		patch.GoodsAmount = &w.meta.GoodsAmount
	}
	res := WriteResult{VehicleNumber: w.number, Location: *loc}
	_, err := w.st.MergeVehicle(ctx, w.number, patch)
	if err != nil {
		w.log.Error().Err(err).Float64("lat", p.Lat).Float64("lng", p.Lng).Msg("error writing location")
		res.Err = err
		return res
	}
	w.metaDone = true
	w.last = t
	return res
}
