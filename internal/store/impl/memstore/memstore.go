package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/events"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
)

// Store keeps every document in process memory.
type Store struct {
	lock     sync.RWMutex
	vehicles map[string]model.Vehicle
	users    map[string]model.User
	accounts map[string]store.Account // by email
	sessions map[string]store.Session
	wstokens map[string]string // session id -> token
	pairings map[int64]store.Pairing
	pairSeq  int64
	ev       events.Emitter
	log      log.Logger
}

func New(ev events.Emitter) *Store {
	if ev == nil {
		ev = events.Discard{}
	}
	o := &Store{ev: ev}
	o.vehicles = make(map[string]model.Vehicle)
	o.users = make(map[string]model.User)
	o.accounts = make(map[string]store.Account)
	o.sessions = make(map[string]store.Session)
	o.wstokens = make(map[string]string)
	o.pairings = make(map[int64]store.Pairing)
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "memstore").Value()
	return o
}

func sortVehicles(v []model.Vehicle) {
	sort.Slice(v, func(i, j int) bool { return v[i].VehicleNumber < v[j].VehicleNumber })
}

func (s *Store) GetVehicles(ctx context.Context) ([]model.Vehicle, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	res := make([]model.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		res = append(res, copyVehicle(v))
	}
	sortVehicles(res)
	return res, nil
}

func (s *Store) GetVehiclesByUser(ctx context.Context, uid string) ([]model.Vehicle, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	res := []model.Vehicle{}
	for _, v := range s.vehicles {
		if v.UserId == uid {
			res = append(res, copyVehicle(v))
		}
	}
	sortVehicles(res)
	return res, nil
}

func (s *Store) GetVehicle(ctx context.Context, number string) (model.Vehicle, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.vehicles[number]
	if !ok {
		return model.Vehicle{}, store.ErrNotFound
	}
	return copyVehicle(v), nil
}

func (s *Store) MergeVehicle(ctx context.Context, number string, p *model.VehiclePatch) (model.Vehicle, error) {
	s.lock.Lock()
	v, ok := s.vehicles[number]
	if !ok {
		v = model.Vehicle{VehicleNumber: number}
	} else {
		v = copyVehicle(v)
	}
	p.Apply(&v)
	err := model.ValidateVehicle(&v)
	if err != nil {
		s.lock.Unlock()
		return model.Vehicle{}, err
	}
	s.vehicles[number] = v
	s.lock.Unlock()
	s.ev.Emit(ctx, events.VehicleChanged, copyVehicle(v))
	return copyVehicle(v), nil
}

func copyVehicle(v model.Vehicle) model.Vehicle {
	if v.CurrentLocation != nil {
		loc := *v.CurrentLocation
		v.CurrentLocation = &loc
	}
	return v
}

func (s *Store) GetUsers(ctx context.Context) ([]model.User, error) {
	s.lock.RLock()
	res := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		res = append(res, u)
	}
	s.lock.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Id < res[j].Id
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) SetUserRole(ctx context.Context, id string, role model.Role) (model.User, error) {
	s.lock.Lock()
	u, ok := s.users[id]
	if !ok {
		s.lock.Unlock()
		return model.User{}, store.ErrNotFound
	}
	u.Role = role
	err := model.ValidateUser(&u)
	if err != nil {
		s.lock.Unlock()
		return model.User{}, err
	}
	s.users[id] = u
	s.lock.Unlock()
	s.ev.Emit(ctx, events.UserChanged, u)
	return u, nil
}

func (s *Store) CreateAccount(ctx context.Context, acc store.Account, user model.User) error {
	err := model.ValidateUser(&user)
	if err != nil {
		return err
	}
	email := strings.ToLower(acc.Email)
	s.lock.Lock()
	if _, ok := s.accounts[email]; ok {
		s.lock.Unlock()
		return store.ErrEmailInUse
	}
	acc.Email = email
	s.accounts[email] = acc
	s.users[user.Id] = user
	s.lock.Unlock()
	s.ev.Emit(ctx, events.UserChanged, user)
	return nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (store.Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	acc, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return acc, nil
}

func (s *Store) VerifyEmail(ctx context.Context, token string) (store.Account, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if token == "" {
		return store.Account{}, store.ErrNotFound
	}
	for k, acc := range s.accounts {
		if acc.VerifyToken == token {
			acc.Verified = true
			acc.VerifyToken = ""
			s.accounts[k] = acc
			return acc, nil
		}
	}
	return store.Account{}, store.ErrNotFound
}

func (s *Store) SetPassword(ctx context.Context, uid string, hash string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for k, acc := range s.accounts {
		if acc.UserId == uid {
			acc.PasswordHash = hash
			s.accounts[k] = acc
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateSession(ctx context.Context, sess store.Session) error {
	s.lock.Lock()
	s.sessions[sess.Id] = sess
	s.lock.Unlock()
	return nil
}

func (s *Store) GetSession(ctx context.Context, sid string) (store.Session, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	sess, ok := s.sessions[sid]
	if !ok || sess.Expired(time.Now()) {
		return store.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, sid string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.sessions[sid]; !ok {
		return store.ErrNotFound
	}
	delete(s.sessions, sid)
	delete(s.wstokens, sid)
	return nil
}

func (s *Store) DeleteUserSessions(ctx context.Context, uid string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for sid, sess := range s.sessions {
		if sess.UserId == uid {
			delete(s.sessions, sid)
			delete(s.wstokens, sid)
		}
	}
	return nil
}

func (s *Store) PutWsToken(ctx context.Context, sid string, token string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.sessions[sid]; !ok {
		return store.ErrNotFound
	}
	s.wstokens[sid] = token
	return nil
}

func (s *Store) GetWsToken(ctx context.Context, sid string) (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	tok, ok := s.wstokens[sid]
	if !ok {
		return "", store.ErrNotFound
	}
	return tok, nil
}

func (s *Store) SessionByWsToken(ctx context.Context, token string) (store.Session, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	now := time.Now()
	for sid, tok := range s.wstokens {
		if tok != token {
			continue
		}
		sess, ok := s.sessions[sid]
		if ok && !sess.Expired(now) {
			return sess, nil
		}
	}
	return store.Session{}, store.ErrNotFound
}

func (s *Store) CreatePairing(ctx context.Context, p store.Pairing) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pairSeq++
	p.Id = s.pairSeq
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.pairings[p.Id] = p
	return p.Id, nil
}

func (s *Store) GetPairing(ctx context.Context, id int64) (store.Pairing, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	p, ok := s.pairings[id]
	if !ok {
		return store.Pairing{}, store.ErrNotFound
	}
	return p, nil
}

var _ store.Store = (*Store)(nil)
