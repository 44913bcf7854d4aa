package fleet

import (
	"context"
	"errors"
	"strings"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/devicelink"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/pairing"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/util"
	"nuha.dev/fleettrack/internal/webapp/common"
)

const (
	msgFillAllFields   = "Please fill all fields"
	msgVehicleNotFound = "Vehicle not found. Please fill the form first."
	msgNoSuchVehicle   = "Vehicle not found."
)

type Devices interface {
	ConnInfo(number string) (devicelink.ConnInfo, bool)
}

type ProfileResponse struct {
	UserId string     `json:"user_id"`
	Role   model.Role `json:"role"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
}

type VehicleRequest struct {
	VehicleNumber string `json:"vehicle_number" validate:"required"`
}

type VehicleResponse struct {
	common.BasicResponse
	Vehicle *model.Vehicle `json:"vehicle,omitempty"`
}

type VehiclesResponse struct {
	Vehicles []model.Vehicle `json:"vehicles"`
}

// DriverForm is checked by StartTracking itself so blank fields get the
// form message instead of a 400.
type DriverForm struct {
	Name          string `json:"name"`
	VehicleNumber string `json:"vehicle_number"`
	GoodsType     string `json:"goods_type"`
	GoodsAmount   string `json:"goods_amount"`
}

type PairingResponse struct {
	common.BasicResponse
	Code          string `json:"code,omitempty"`
	VehicleNumber string `json:"vehicle_number,omitempty"`
}

type ConnInfoResponse struct {
	Status   int                  `json:"status"`
	ConnInfo *devicelink.ConnInfo `json:"conn_info,omitempty"`
}

type FleetApi struct {
	st      store.Store
	codec   *pairing.Codec
	devices Devices
	log     log.Logger
}

func NewFleetApi(st store.Store, codec *pairing.Codec, devices Devices) *FleetApi {
	f := &FleetApi{st: st, codec: codec, devices: devices}
	f.log = log.DefaultLogger
	f.log.Context = log.NewContext(nil).Str("module", "fleet-api").Value()
	return f
}

func (f *FleetApi) GetProfile(ctx context.Context, res *ProfileResponse) error {
	s := common.Session(ctx)
	u := s.User()
	res.UserId = u.Id
	res.Role = u.Role
	res.Name = u.Name
	res.Email = u.Email
	return nil
}

func (f *FleetApi) GetVehicles(ctx context.Context, res *VehiclesResponse) error {
	vs, err := f.st.GetVehicles(ctx)
	if err != nil {
		return err
	}
	res.Vehicles = vs
	return nil
}

// GetVehicle answers "not found" for a driver asking about a vehicle that is
// not theirs.
func (f *FleetApi) GetVehicle(ctx context.Context, req *VehicleRequest, res *VehicleResponse) error {
	s := common.Session(ctx)
	v, err := f.st.GetVehicle(ctx, model.NormalizeVehicleNumber(req.VehicleNumber))
	if errors.Is(err, store.ErrNotFound) || (err == nil && !s.HasRole(model.RoleAdmin) && v.UserId != s.UserId) {
		res.Status = -1
		res.Message = msgNoSuchVehicle
		return nil
	} else if err != nil {
		return err
	}
	res.Vehicle = &v
	return nil
}

func (f *FleetApi) myVehicle(ctx context.Context, uid string) (*model.Vehicle, error) {
	vs, err := f.st.GetVehiclesByUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, nil
	}
	return &vs[0], nil
}

func (f *FleetApi) GetMyVehicle(ctx context.Context, res *VehicleResponse) error {
	s := common.Session(ctx)
	v, err := f.myVehicle(ctx, s.UserId)
	if err != nil {
		return err
	}
	if v == nil {
		res.Status = -1
		res.Message = msgVehicleNotFound
		return nil
	}
	res.Vehicle = v
	return nil
}

// StartTracking records the driver form as a pairing. The vehicle document
// is written by the device's first fix.
func (f *FleetApi) StartTracking(ctx context.Context, req *DriverForm, res *PairingResponse) error {
	s := common.Session(ctx)
	p := store.Pairing{
		UserId:        s.UserId,
		Name:          strings.TrimSpace(req.Name),
		VehicleNumber: model.NormalizeVehicleNumber(req.VehicleNumber),
		GoodsType:     strings.TrimSpace(req.GoodsType),
		GoodsAmount:   strings.TrimSpace(req.GoodsAmount),
	}
	if p.Name == "" || p.VehicleNumber == "" || p.GoodsType == "" || p.GoodsAmount == "" {
		res.Status = -1
		res.Message = msgFillAllFields
		return nil
	}
	existing, err := f.st.GetVehicle(ctx, p.VehicleNumber)
	if err == nil && existing.UserId != "" && existing.UserId != s.UserId {
		f.log.Warn().Str("user_id", s.UserId).Str("vehicle", p.VehicleNumber).Str("owner", existing.UserId).Msg("vehicle taken over by another driver")
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return f.pair(ctx, p, res)
}

// ResumeTracking pairs a device to the driver's existing vehicle, its
// writes carry the location only.
func (f *FleetApi) ResumeTracking(ctx context.Context, res *PairingResponse) error {
	s := common.Session(ctx)
	v, err := f.myVehicle(ctx, s.UserId)
	if err != nil {
		return err
	}
	if v == nil {
		res.Status = -1
		res.Message = msgVehicleNotFound
		return nil
	}
	return f.pair(ctx, store.Pairing{UserId: s.UserId, VehicleNumber: v.VehicleNumber, LocationOnly: true}, res)
}

func (f *FleetApi) pair(ctx context.Context, p store.Pairing, res *PairingResponse) error {
	id, err := f.st.CreatePairing(ctx, p)
	if err != nil {
		return err
	}
	code, err := f.codec.Encode(id)
	if err != nil {
		return err
	}
	f.log.Info().Str("user_id", p.UserId).Str("vehicle", p.VehicleNumber).Bool("location_only", p.LocationOnly).Msg("pairing created")
	res.Code = code
	res.VehicleNumber = p.VehicleNumber
	return nil
}

func (f *FleetApi) GetVehicleConnInfo(ctx context.Context, req *VehicleRequest, res *ConnInfoResponse) error {
	if f.devices == nil {
		res.Status = -1
		return nil
	}
	ci, ok := f.devices.ConnInfo(model.NormalizeVehicleNumber(req.VehicleNumber))
	if !ok {
		res.Status = -1
		return nil
	}
	res.ConnInfo = &ci
	return nil
}

func (f *FleetApi) GetWsToken(ctx context.Context, res *common.StringResponse) error {
	s := common.Session(ctx)
	tok, err := f.st.GetWsToken(ctx, s.SessionId)
	if errors.Is(err, store.ErrNotFound) {
		res.Value = ""
		return nil
	} else if err != nil {
		return err
	}
	res.Value = tok
	return nil
}

func (f *FleetApi) CreateWsToken(ctx context.Context, res *common.StringResponse) error {
	s := common.Session(ctx)
	ws_token := util.GenRandomString([]byte{}, 32)
	err := f.st.PutWsToken(ctx, s.SessionId, ws_token)
	if err != nil {
		return err
	}
	res.Value = ws_token
	return nil
}
