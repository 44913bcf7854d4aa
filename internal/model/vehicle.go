package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const TimestampLayout = time.RFC3339Nano

var vld = validator.New()

type Location struct {
	Lat       float64 `json:"lat" validate:"latitude"`
	Lng       float64 `json:"lng" validate:"longitude"`
	Timestamp string  `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05.999999999Z07:00"`
}

// Time parses the ISO-8601 timestamp, returning the zero time when it does not parse.
func (l *Location) Time() time.Time {
	t, err := time.Parse(TimestampLayout, l.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

type Vehicle struct {
	VehicleNumber   string    `json:"vehicleNumber" validate:"required"`
	UserId          string    `json:"userId"`
	Name            string    `json:"name"`
	GoodsType       string    `json:"goodsType"`
	GoodsAmount     string    `json:"goodsAmount"`
	CurrentLocation *Location `json:"currentLocation,omitempty"`
}

func (v *Vehicle) HasLocation() bool {
	return v.CurrentLocation != nil
}

// VehiclePatch is a merge update, nil fields keep the stored value.
type VehiclePatch struct {
	UserId          *string
	Name            *string
	GoodsType       *string
	GoodsAmount     *string
	CurrentLocation *Location
}

// Apply merges the patch into v.
func (p *VehiclePatch) Apply(v *Vehicle) {
	if p.UserId != nil {
		v.UserId = *p.UserId
	}
	if p.Name != nil {
		v.Name = *p.Name
	}
	if p.GoodsType != nil {
		v.GoodsType = *p.GoodsType
	}
	if p.GoodsAmount != nil {
		v.GoodsAmount = *p.GoodsAmount
	}
	if p.CurrentLocation != nil {
		loc := *p.CurrentLocation
		v.CurrentLocation = &loc
	}
}

func NormalizeVehicleNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

func NewLocation(lat, lng float64, t time.Time) *Location {
	return &Location{Lat: lat, Lng: lng, Timestamp: t.UTC().Format(TimestampLayout)}
}

func ValidateVehicle(v *Vehicle) error {
	err := vld.Struct(v)
	if err != nil {
		return fmt.Errorf("invalid vehicle %q: %w", v.VehicleNumber, err)
	}
	return nil
}

// DecodeVehicle is the deserialization boundary for vehicle documents.
func DecodeVehicle(data []byte) (Vehicle, error) {
	v := Vehicle{}
	err := json.Unmarshal(data, &v)
	if err != nil {
		return Vehicle{}, err
	}
	err = ValidateVehicle(&v)
	if err != nil {
		return Vehicle{}, err
	}
	return v, nil
}
