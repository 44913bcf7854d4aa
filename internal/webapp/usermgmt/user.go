package usermgmt

import (
	"context"
	"errors"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/webapp/common"
)

const msgNoSuchUser = "User not found."

type Store interface {
	store.UserStore
	DeleteUserSessions(ctx context.Context, uid string) error
}

// SessionCloser drops the live session contexts of a user.
type SessionCloser interface {
	CloseUser(uid string)
}

type UserMgmt struct {
	st       Store
	sessions SessionCloser
	log      log.Logger
}

func NewUserMgmtApi(st Store, sessions SessionCloser) *UserMgmt {
	u := &UserMgmt{st: st, sessions: sessions}
	u.log = log.DefaultLogger
	u.log.Context = log.NewContext(nil).Str("module", "usermgmt").Value()
	return u
}

type UsersResponse struct {
	Users []model.User `json:"users"`
}

type UserRequest struct {
	UserId string `json:"user_id" validate:"required"`
}

type SetUserRoleRequest struct {
	UserId string     `json:"user_id" validate:"required"`
	Role   model.Role `json:"role" validate:"required,oneof=driver admin"`
}

func (u *UserMgmt) GetUsers(ctx context.Context, res *UsersResponse) error {
	users, err := u.st.GetUsers(ctx)
	if err != nil {
		return err
	}
	res.Users = users
	return nil
}

// SetUserRole rewrites the role on the user document. Open sessions of the
// user pick the change up through their role watch.
func (u *UserMgmt) SetUserRole(ctx context.Context, req *SetUserRoleRequest, res *common.BasicResponse) error {
	_, err := u.st.SetUserRole(ctx, req.UserId, req.Role)
	if errors.Is(err, store.ErrNotFound) {
		res.Status = -1
		res.Message = msgNoSuchUser
		return nil
	} else if err != nil {
		return err
	}
	u.log.Info().Str("user_id", req.UserId).Str("role", string(req.Role)).Str("by", common.Session(ctx).UserId).Msg("role changed")
	return nil
}

func (u *UserMgmt) PurgeSession(ctx context.Context, req *UserRequest, res *common.BasicResponse) error {
	_, err := u.st.GetUser(ctx, req.UserId)
	if errors.Is(err, store.ErrNotFound) {
		res.Status = -1
		res.Message = msgNoSuchUser
		return nil
	} else if err != nil {
		return err
	}
	err = u.st.DeleteUserSessions(ctx, req.UserId)
	if err != nil {
		return err
	}
	u.sessions.CloseUser(req.UserId)
	u.log.Info().Str("user_id", req.UserId).Str("by", common.Session(ctx).UserId).Msg("sessions purged")
	return nil
}
