package webstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nuha.dev/fleettrack/internal/geocode"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/session"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/tracking"
)

const (
	CWatch   string = "WATCH"
	CUnwatch string = "UNWATCH"

	MaxWatch = 5
	// pending messages per client, the oldest is dropped beyond this
	bufLimit = 64
)

const (
	TView      string = "view"
	TError     string = "error"
	TUnwatched string = "unwatched"
)

type TokenStore interface {
	SessionByWsToken(ctx context.Context, token string) (store.Session, error)
	GetVehicle(ctx context.Context, number string) (model.Vehicle, error)
}

type WebStreamConfig struct {
	ListenAddr string
}

type WebstreamServer struct {
	server *http.Server
	log    log.Logger
	config WebStreamConfig
	st     TokenStore
	reg    *session.Registry
	feed   tracking.VehicleWatcher
	geo    geocode.Geocoder
}

type message struct {
	Type          string         `json:"type"`
	VehicleNumber string         `json:"vehicleNumber,omitempty"`
	View          *tracking.View `json:"view,omitempty"`
	Message       string         `json:"message,omitempty"`
}

func NewWebstream(st TokenStore, reg *session.Registry, feed tracking.VehicleWatcher, geo geocode.Geocoder, config WebStreamConfig) *WebstreamServer {
	o := &WebstreamServer{config: config, st: st, reg: reg, feed: feed, geo: geo}
	o.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           http.HandlerFunc(o.serve_http),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "websocket").Value()
	return o
}

func (ws *WebstreamServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebstreamServer) Run() error {
	ws.log.Info().Msgf("starting ws-server on : %s", ws.server.Addr)
	err := ws.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		ws.log.Error().Err(err).Msg("")
		return err
	}
	return nil
}

func (ws *WebstreamServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

func (ws *WebstreamServer) serve_http(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while upgrading websocket")
		return
	}
	//read login info
	readCtx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()
	_, msg, err := c.Read(readCtx)
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while reading auth token")
		c.Close(websocket.StatusPolicyViolation, "no token")
		return
	}

	sess, err := ws.validate_token(r.Context(), string(msg))
	if err != nil {
		c.Close(websocket.StatusPolicyViolation, "invalid token")
		ws.log.Info().Err(err).Msg("invalid websocket token")
		return
	}
	ctx, stop := context.WithCancel(context.Background())
	wc := &WebstreamClient{srv: ws, c: c, sess: sess, ctx: ctx, stop: stop}
	wc.log = ws.log
	wc.log.Context = log.NewContext(nil).Str("module", "websocket").Str("user_id", sess.UserId).Value()
	wc.buf = make([][]byte, 0, 10)
	wc.notify = make(chan struct{}, 1)
	wc.watches = make(map[string]context.CancelFunc)
	wc.log.Info().Msg("websocket client connected")

	wg := sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		wc.writeLoop()
	}()
	go func() {
		defer wg.Done()
		wc.roleLoop()
	}()
	go func() {
		defer wg.Done()
		wc.readloop()
	}()
	wg.Wait()
	c.Close(websocket.StatusNormalClosure, "")
	wc.log.Info().Err(wc.err).Msg("websocket client disconnected")
}

func (ws *WebstreamServer) validate_token(ctx context.Context, token string) (*session.Context, error) {
	s, err := ws.st.SessionByWsToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return ws.reg.Get(ctx, s.Id)
}

type WebstreamClient struct {
	lock    sync.Mutex
	srv     *WebstreamServer
	c       *websocket.Conn
	sess    *session.Context
	log     log.Logger
	ctx     context.Context
	stop    context.CancelFunc
	closed  bool
	err     error
	buf     [][]byte
	notify  chan struct{}
	watches map[string]context.CancelFunc
}

func (wc *WebstreamClient) closeErr(err error) {
	wc.lock.Lock()
	if !wc.closed {
		wc.closed = true
		wc.err = err
	}
	wc.lock.Unlock()
	wc.stop()
}

func (wc *WebstreamClient) readloop() {
	defer wc.unwatchAll()
	for {
		_, msg, err := wc.c.Read(wc.ctx)
		if err != nil {
			wc.closeErr(err)
			return
		}
		parts := strings.SplitN(strings.TrimSpace(string(msg)), " ", 2)
		if len(parts) < 2 {
			wc.send(message{Type: TError, Message: "unknown command"})
			continue
		}
		numbers := strings.Split(parts[1], ",")
		switch parts[0] {
		case CWatch:
			wc.log.Debug().Strs("watch", numbers).Msg("receive watch message")
			for _, n := range numbers {
				wc.watch(model.NormalizeVehicleNumber(n))
			}
		case CUnwatch:
			wc.log.Debug().Strs("unwatch", numbers).Msg("receive unwatch message")
			for _, n := range numbers {
				wc.unwatch(model.NormalizeVehicleNumber(n))
			}
		default:
			wc.send(message{Type: TError, Message: "unknown command"})
		}
	}
}

func (wc *WebstreamClient) authorize(number string) error {
	if wc.sess.HasRole(model.RoleAdmin) {
		return nil
	}
	v, err := wc.srv.st.GetVehicle(wc.ctx, number)
	if err != nil {
		return err
	}
	if v.UserId != wc.sess.UserId {
		return store.ErrNotFound
	}
	return nil
}

func (wc *WebstreamClient) watch(number string) {
	if number == "" {
		return
	}
	wc.lock.Lock()
	_, ok := wc.watches[number]
	n := len(wc.watches)
	wc.lock.Unlock()
	if ok {
		wc.log.Warn().Str("vehicle", number).Msg("already watching")
		return
	}
	if n >= MaxWatch {
		wc.send(message{Type: TError, VehicleNumber: number, Message: "too many watches"})
		return
	}
	err := wc.authorize(number)
	if errors.Is(err, store.ErrNotFound) {
		wc.send(message{Type: TError, VehicleNumber: number, Message: "Vehicle not found."})
		return
	} else if err != nil {
		wc.log.Error().Err(err).Str("vehicle", number).Msg("error authorizing watch")
		wc.send(message{Type: TError, VehicleNumber: number, Message: "Something went wrong."})
		return
	}

	ctx, cancel := context.WithCancel(wc.ctx)
	wc.lock.Lock()
	wc.watches[number] = cancel
	wc.lock.Unlock()
	v := tracking.NewViewer(wc.srv.feed, wc.srv.geo, number, func(view tracking.View) {
		wc.send(message{Type: TView, VehicleNumber: number, View: &view})
	})
	go func() {
		err := v.Run(ctx)
		if err != nil {
			wc.log.Error().Err(err).Str("vehicle", number).Msg("viewer stopped")
			wc.send(message{Type: TError, VehicleNumber: number, Message: "Something went wrong."})
		}
	}()
	wc.log.Trace().Msgf("watching %s", number)
}

func (wc *WebstreamClient) unwatch(number string) {
	wc.lock.Lock()
	cancel, ok := wc.watches[number]
	delete(wc.watches, number)
	wc.lock.Unlock()
	if !ok {
		wc.log.Warn().Str("vehicle", number).Msg("invalid unwatch")
		return
	}
	cancel()
	wc.send(message{Type: TUnwatched, VehicleNumber: number})
}

func (wc *WebstreamClient) unwatchAll() {
	wc.lock.Lock()
	for n, cancel := range wc.watches {
		cancel()
		delete(wc.watches, n)
	}
	wc.lock.Unlock()
}

// roleLoop re-checks the watches whenever the session's role changes and
// ends the connection with the session.
func (wc *WebstreamClient) roleLoop() {
	roles := wc.sess.WatchRole(wc.ctx)
	<-roles
	for {
		select {
		case <-wc.ctx.Done():
			return
		case role, ok := <-roles:
			if !ok {
				if wc.ctx.Err() == nil {
					wc.c.Close(websocket.StatusPolicyViolation, "session closed")
					wc.closeErr(errors.New("session closed"))
				}
				return
			}
			wc.log.Info().Str("role", string(role)).Msg("role changed")
			wc.lock.Lock()
			numbers := make([]string, 0, len(wc.watches))
			for n := range wc.watches {
				numbers = append(numbers, n)
			}
			wc.lock.Unlock()
			for _, n := range numbers {
				if wc.authorize(n) != nil {
					wc.unwatch(n)
				}
			}
		}
	}
}

func (wc *WebstreamClient) writeLoop() {
	for {
		select {
		case <-wc.ctx.Done():
			return
		case <-wc.notify:
		}
		wc.lock.Lock()
		pending := wc.buf
		wc.buf = make([][]byte, 0, 10)
		wc.lock.Unlock()
		for _, d := range pending {
			err := wc.c.Write(wc.ctx, websocket.MessageText, d)
			if err != nil {
				wc.log.Error().Err(err).Msg("Error while writing to connection")
				wc.closeErr(err)
				return
			}
		}
	}
}

func (wc *WebstreamClient) send(m message) {
	d, err := json.Marshal(m)
	if err != nil {
		wc.log.Error().Err(err).Msg("")
		return
	}
	wc.Push(d)
}

// Push queues d for the write loop. It reports true once the client is closed.
func (wc *WebstreamClient) Push(d []byte) bool {
	wc.lock.Lock()
	if wc.closed {
		wc.lock.Unlock()
		return true
	}
	if len(wc.buf) >= bufLimit {
		wc.buf = wc.buf[1:]
	}
	wc.buf = append(wc.buf, d)
	wc.lock.Unlock()
	select {
	case wc.notify <- struct{}{}:
	default:
	}
	return false
}
