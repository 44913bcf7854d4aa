package identity

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/session"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/util"
)

const MinPasswordLength = 6

type Store interface {
	store.AccountStore
	store.UserStore
}

type Config struct {
	RequireVerifiedEmail bool
	SessionLength        time.Duration
}

type RegisterRequest struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"`
}

type Service struct {
	st       Store
	reg      *session.Registry
	verifier Verifier
	config   Config
	vld      *validator.Validate
	log      log.Logger
}

func New(st Store, reg *session.Registry, verifier Verifier, config Config) *Service {
	if config.SessionLength <= 0 {
		config.SessionLength = time.Hour
	}
	s := &Service{st: st, reg: reg, verifier: verifier, config: config}
	s.vld = validator.New()
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "identity").Value()
	if s.verifier == nil {
		s.verifier = NewLogVerifier("")
	}
	return s
}

// Register creates the account and the user document. On failure nothing is
// stored and the *Error carries the message for the user.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (model.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return model.User{}, newError(CodeMissingFields, nil)
	}
	if err := s.vld.Var(email, "email"); err != nil {
		return model.User{}, newError(CodeInvalidEmail, err)
	}
	if len(req.Password) < MinPasswordLength {
		return model.User{}, newError(CodeWeakPassword, nil)
	}
	role := req.Role
	if role == "" {
		role = model.RoleDriver
	}
	if !role.Valid() {
		return model.User{}, newError(CodeInternal, errors.New("invalid role "+string(role)))
	}
	u := model.User{Id: util.GenUUID(), Role: role, Name: name, Email: email, CreatedAt: time.Now().UTC()}
	acc := store.Account{
		UserId:       u.Id,
		Email:        email,
		PasswordHash: util.CryptPwd(req.Password),
		VerifyToken:  util.GenRandomString([]byte{}, 24),
		CreatedAt:    u.CreatedAt,
	}
	err := s.st.CreateAccount(ctx, acc, u)
	if errors.Is(err, store.ErrEmailInUse) {
		return model.User{}, newError(CodeEmailInUse, err)
	} else if err != nil {
		s.log.Error().Err(err).Str("email", email).Msg("error creating account")
		return model.User{}, newError(CodeInternal, err)
	}
	err = s.verifier.SendVerification(ctx, email, acc.VerifyToken)
	if err != nil {
		s.log.Error().Err(err).Str("email", email).Msg("error sending verification")
	}
	s.log.Info().Str("user_id", u.Id).Str("role", string(role)).Msg("account registered")
	return u, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return newError(CodeInvalidToken, nil)
	}
	acc, err := s.st.VerifyEmail(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeInvalidToken, err)
	} else if err != nil {
		return newError(CodeInternal, err)
	}
	s.log.Info().Str("user_id", acc.UserId).Msg("email verified")
	return nil
}

// SignIn checks the credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*session.Context, error) {
	acc, err := s.st.GetAccountByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeInvalidCredential, err)
	} else if err != nil {
		return nil, newError(CodeInternal, err)
	}
	if !util.CheckPwd(acc.PasswordHash, password) {
		return nil, newError(CodeInvalidCredential, nil)
	}
	if s.config.RequireVerifiedEmail && !acc.Verified {
		return nil, newError(CodeEmailNotVerified, nil)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], crc32.ChecksumIEEE([]byte(acc.Email)))
	sess := store.Session{
		Id:         util.GenRandomString(prefix[:], 24),
		CsrfToken:  util.GenRandomString(prefix[:], 24),
		UserId:     acc.UserId,
		ValidUntil: time.Now().Add(s.config.SessionLength),
	}
	err = s.st.CreateSession(ctx, sess)
	if err != nil {
		return nil, newError(CodeInternal, err)
	}
	c, err := s.reg.Open(ctx, sess)
	if err != nil {
		_ = s.st.DeleteSession(ctx, sess.Id)
		return nil, newError(CodeInternal, err)
	}
	s.log.Info().Str("user_id", acc.UserId).Msg("signed in")
	return c, nil
}

func (s *Service) SignOut(ctx context.Context, sid string) error {
	s.reg.Close(sid)
	return s.st.DeleteSession(ctx, sid)
}

// ChangePassword replaces the password of the session's user and ends all of
// that user's sessions.
func (s *Service) ChangePassword(ctx context.Context, sid string, current string, next string) error {
	sess, err := s.st.GetSession(ctx, sid)
	if err != nil {
		return err
	}
	u, err := s.st.GetUser(ctx, sess.UserId)
	if err != nil {
		return err
	}
	acc, err := s.st.GetAccountByEmail(ctx, u.Email)
	if err != nil {
		return err
	}
	if !util.CheckPwd(acc.PasswordHash, current) {
		return newError(CodeInvalidCredential, nil)
	}
	if len(next) < MinPasswordLength {
		return newError(CodeWeakPassword, nil)
	}
	err = s.st.SetPassword(ctx, acc.UserId, util.CryptPwd(next))
	if err != nil {
		return err
	}
	s.reg.CloseUser(acc.UserId)
	return s.st.DeleteUserSessions(ctx, acc.UserId)
}
