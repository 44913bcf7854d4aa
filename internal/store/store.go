package store

import (
	"context"
	"errors"
	"time"

	"nuha.dev/fleettrack/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailInUse = errors.New("email already in use")
)

type VehicleStore interface {
	GetVehicles(ctx context.Context) ([]model.Vehicle, error)
	GetVehiclesByUser(ctx context.Context, uid string) ([]model.Vehicle, error)
	// GetVehicle returns ErrNotFound when no document exists for number.
	GetVehicle(ctx context.Context, number string) (model.Vehicle, error)
	// MergeVehicle upserts the document, fields absent from p keep their
	// stored value. The merged document is returned.
	MergeVehicle(ctx context.Context, number string, p *model.VehiclePatch) (model.Vehicle, error)
}

type UserStore interface {
	GetUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	SetUserRole(ctx context.Context, id string, role model.Role) (model.User, error)
}

type Account struct {
	UserId       string
	Email        string
	PasswordHash string
	Verified     bool
	VerifyToken  string
	CreatedAt    time.Time
}

type Session struct {
	Id         string
	CsrfToken  string
	UserId     string
	ValidUntil time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ValidUntil)
}

type AccountStore interface {
	// CreateAccount stores the account and its user document together,
	// ErrEmailInUse leaves nothing behind.
	CreateAccount(ctx context.Context, acc Account, user model.User) error
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	VerifyEmail(ctx context.Context, token string) (Account, error)
	SetPassword(ctx context.Context, uid string, hash string) error

	CreateSession(ctx context.Context, s Session) error
	// GetSession returns ErrNotFound for unknown and expired sessions.
	GetSession(ctx context.Context, sid string) (Session, error)
	DeleteSession(ctx context.Context, sid string) error
	DeleteUserSessions(ctx context.Context, uid string) error

	PutWsToken(ctx context.Context, sid string, token string) error
	GetWsToken(ctx context.Context, sid string) (string, error)
	// SessionByWsToken resolves a websocket token to its live session.
	SessionByWsToken(ctx context.Context, token string) (Session, error)
}

// Pairing is a driver's request to track a vehicle from a device.
type Pairing struct {
	Id            int64
	UserId        string
	VehicleNumber string
	Name          string
	GoodsType     string
	GoodsAmount   string
	// LocationOnly pairings resume tracking of an existing vehicle and
	// leave its metadata alone.
	LocationOnly bool
	CreatedAt    time.Time
}

type PairingStore interface {
	CreatePairing(ctx context.Context, p Pairing) (int64, error)
	GetPairing(ctx context.Context, id int64) (Pairing, error)
}

type Store interface {
	VehicleStore
	UserStore
	AccountStore
	PairingStore
}
