package session

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
)

type SessionGetter interface {
	GetSession(ctx context.Context, sid string) (store.Session, error)
}

// Context is the signed-in state of one session. The role follows the
// user document.
type Context struct {
	SessionId  string
	CsrfToken  string
	UserId     string
	ValidUntil time.Time
	mu         sync.Mutex
	user       model.User
	watchers   map[chan model.Role]bool
	cancel     context.CancelFunc
}

func (c *Context) Role() model.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.Role
}

func (c *Context) User() model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Context) HasRole(roles ...model.Role) bool {
	r := c.Role()
	for _, x := range roles {
		if r == x {
			return true
		}
	}
	return false
}

// WatchRole sends the current role and then every change until ctx ends.
// A slow reader only misses intermediate values.
func (c *Context) WatchRole(ctx context.Context) <-chan model.Role {
	ch := make(chan model.Role, 1)
	c.mu.Lock()
	ch <- c.user.Role
	c.watchers[ch] = true
	c.mu.Unlock()
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.watchers[ch] {
			delete(c.watchers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}()
	return ch
}

func (c *Context) setUser(u model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := u.Role != c.user.Role
	c.user = u
	if !changed {
		return
	}
	for ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- u.Role
	}
}

func (c *Context) close() {
	c.cancel()
	c.mu.Lock()
	for ch := range c.watchers {
		close(ch)
		delete(c.watchers, ch)
	}
	c.mu.Unlock()
}

// Registry holds the session contexts of this process.
type Registry struct {
	mu       sync.Mutex
	contexts map[string]*Context
	sessions SessionGetter
	resolver *Resolver
	log      log.Logger
}

func NewRegistry(sessions SessionGetter, resolver *Resolver) *Registry {
	r := &Registry{sessions: sessions, resolver: resolver}
	r.contexts = make(map[string]*Context)
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "session").Value()
	return r
}

// Open starts following the user of s and registers its context, replacing
// a context already registered for the same session.
func (r *Registry) Open(ctx context.Context, s store.Session) (*Context, error) {
	c, err := r.follow(s)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	old := r.contexts[s.Id]
	r.contexts[s.Id] = c
	r.mu.Unlock()
	if old != nil {
		old.close()
	}
	r.log.Debug().Str("user_id", s.UserId).Str("role", string(c.Role())).Msg("session opened")
	return c, nil
}

func (r *Registry) follow(s store.Session) (*Context, error) {
	wctx, cancel := context.WithCancel(context.Background())
	u, updates, err := r.resolver.Resolve(wctx, s.UserId)
	if err != nil {
		cancel()
		return nil, err
	}
	c := &Context{SessionId: s.Id, CsrfToken: s.CsrfToken, UserId: s.UserId, ValidUntil: s.ValidUntil, user: u, cancel: cancel}
	c.watchers = make(map[chan model.Role]bool)
	go func() {
		for u := range updates {
			c.setUser(u)
		}
	}()
	return c, nil
}

// Get returns the context of a live session, reopening it from the store
// when this process has not seen it yet. Unknown or expired sessions give
// store.ErrNotFound.
func (r *Registry) Get(ctx context.Context, sid string) (*Context, error) {
	r.mu.Lock()
	c, ok := r.contexts[sid]
	r.mu.Unlock()
	if ok {
		if time.Now().Before(c.ValidUntil) {
			return c, nil
		}
		r.Close(sid)
		return nil, store.ErrNotFound
	}
	s, err := r.sessions.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	c, err = r.follow(s)
	if err != nil {
		return nil, err
	}
	// a concurrent Get may have registered the session meanwhile
	r.mu.Lock()
	cur, ok := r.contexts[sid]
	if !ok {
		r.contexts[sid] = c
	}
	r.mu.Unlock()
	if ok {
		c.close()
		return cur, nil
	}
	r.log.Debug().Str("user_id", s.UserId).Str("role", string(c.Role())).Msg("session reopened")
	return c, nil
}

func (r *Registry) Close(sid string) {
	r.mu.Lock()
	c, ok := r.contexts[sid]
	delete(r.contexts, sid)
	r.mu.Unlock()
	if ok {
		c.close()
		r.log.Debug().Str("user_id", c.UserId).Msg("session closed")
	}
}

// CloseUser closes every session of uid.
func (r *Registry) CloseUser(uid string) {
	r.mu.Lock()
	closing := []*Context{}
	for sid, c := range r.contexts {
		if c.UserId == uid {
			closing = append(closing, c)
			delete(r.contexts, sid)
		}
	}
	r.mu.Unlock()
	for _, c := range closing {
		c.close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}
