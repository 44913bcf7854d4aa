package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/sampler"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/tracking"
)

const (
	AckTracking         = "tracking"
	AckPermissionDenied = "permission denied"
	AckInvalidPairing   = "invalid pairing code"
	AckReplaced         = "replaced by a newer connection"
)

// ConnInfo describes the device currently tracking a vehicle.
type ConnInfo struct {
	VehicleNumber string     `json:"vehicle_number"`
	UserId        string     `json:"user_id"`
	Device        string     `json:"device"`
	RemoteAddr    string     `json:"remote_addr"`
	State         string     `json:"state"`
	ConnectedAt   time.Time  `json:"connected_at"`
	Fixes         uint64     `json:"fixes"`
	WriteErrors   uint64     `json:"write_errors"`
	LastFix       *time.Time `json:"last_fix,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	ByteIn        uint64     `json:"byte_in"`
	ByteOut       uint64     `json:"byte_out"`
}

// link is one logged-in device connection. It is the positioning capability
// of the driver flow that runs for it.
type link struct {
	s       *Server
	c       *Conn
	login   LoginMessage
	pairing store.Pairing
	driver  *tracking.Driver
	ctx     context.Context
	cancel  context.CancelFunc
	wmu     sync.Mutex
	log     log.Logger
}

func (l *link) MarshalObject(e *log.Entry) {
	e.EmbedObject(l.c).Str("vehicle", l.pairing.VehicleNumber).Str("device", l.login.Device)
}

func (l *link) ack(status int, message string) error {
	d, err := json.Marshal(AckMessage{Status: status, Message: message})
	if err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_ = l.c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return WriteMessage(l.c, ACK, d)
}

// RequestPermission grants tracking while the pairing's owner is a driver.
// The device learns the outcome through an ACK.
func (l *link) RequestPermission(ctx context.Context) (bool, error) {
	u, err := l.s.users.GetUser(ctx, l.pairing.UserId)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if err != nil || u.Role != model.RoleDriver {
		l.log.Info().EmbedObject(l).Str("role", string(u.Role)).Msg("permission denied")
		_ = l.ack(-1, AckPermissionDenied)
		return false, nil
	}
	err = l.ack(0, AckTracking)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Watch reads LOCATION frames until the connection ends. The device picks
// its own reporting rate, opt is logged for reference.
func (l *link) Watch(ctx context.Context, opt sampler.WatchOptions) (<-chan sampler.Position, error) {
	l.log.Debug().EmbedObject(l).Str("accuracy", string(opt.Accuracy)).Dur("min_interval", opt.MinTimeInterval).Float64("min_distance", opt.MinDistance).Msg("watching positions")
	out := make(chan sampler.Position)
	go func() {
		defer close(out)
		msg := NewFrameMessage()
		for {
			err := ReadMessage(l.c, msg)
			if err != nil {
				if ctx.Err() == nil {
					l.log.Info().Err(err).EmbedObject(l).Msg("device connection ended")
				}
				l.cancel()
				return
			}
			if msg.Protocol != LOCATION {
				l.log.Warn().EmbedObject(l).Msgf("unexpected message type : %x", msg.Protocol)
				continue
			}
			loc := LocationMessage{}
			err = json.Unmarshal(msg.Payload, &loc)
			if err == nil {
				err = l.s.vld.Struct(&loc)
			}
			if err != nil {
				l.log.Error().Err(err).EmbedObject(l).Msg("error parsing location data")
				continue
			}
			p := sampler.Position{
				Lat:      loc.Latitude,
				Lng:      loc.Longitude,
				Time:     loc.GpsTime,
				Accuracy: float64(loc.Accuracy),
				Altitude: float64(loc.Altitude),
				Speed:    float64(loc.Speed),
			}
			if p.Time.IsZero() {
				p.Time = time.Now()
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		l.c.Close()
	}()
	return out, nil
}

func (l *link) info() ConnInfo {
	in, out := l.c.Stat()
	st := l.driver.Stats()
	ci := ConnInfo{
		VehicleNumber: l.pairing.VehicleNumber,
		UserId:        l.pairing.UserId,
		Device:        l.login.Device,
		RemoteAddr:    l.c.DeviceAddr(),
		State:         l.driver.State().String(),
		ConnectedAt:   l.c.created,
		Fixes:         st.Fixes,
		WriteErrors:   st.WriteErrors,
		ByteIn:        in,
		ByteOut:       out,
	}
	if !st.LastFix.IsZero() {
		t := st.LastFix
		ci.LastFix = &t
	}
	if st.LastError != nil {
		ci.LastError = st.LastError.Error()
	}
	return ci
}
