package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/fleettrack/internal/pairing"
	"nuha.dev/fleettrack/internal/sampler"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/tracking"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
	CONNECTION_REPLACED string = "connection_replaced"
)

type Store interface {
	store.VehicleStore
	store.UserStore
	store.PairingStore
}

type ServerConfig struct {
	ListenerAddr string
	TunnelAddr   string
	TunnelToken  string
	Sampler      sampler.WatchOptions
}

// Server accepts device connections. Each logged-in device drives one
// vehicle, a newer login for the same vehicle replaces the older one.
type Server struct {
	mu          sync.Mutex
	log         log.Logger
	config      *ServerConfig
	st          Store
	users       store.UserStore
	codec       *pairing.Codec
	vld         *validator.Validate
	cid_counter uint64
	listener    net.Listener
	tunnel      *Tunnel
	links       map[string]*link
	wg          sync.WaitGroup
	closed      bool
}

func NewServer(st Store, codec *pairing.Codec, config *ServerConfig) *Server {
	s := &Server{st: st, users: st, codec: codec, config: config}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "device-server").Value()
	s.vld = validator.New()
	s.links = make(map[string]*link)
	return s
}

// Run listens until Close. With a tunnel configured it also serves the
// streams of the tunnel.
func (s *Server) Run() error {
	if s.config.TunnelAddr != "" {
		t := NewTunnel(s, s.config.TunnelAddr, s.config.TunnelToken)
		s.mu.Lock()
		s.tunnel = t
		s.mu.Unlock()
		go t.Run()
	}
	if s.config.ListenerAddr == "" {
		return nil
	}
	s.log.Info().Msgf("starting device-server on %s", s.config.ListenerAddr)
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	pln := &proxyproto.Listener{Listener: ln}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = pln
	s.mu.Unlock()

	for {
		_c, err := pln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.log.Error().Err(err).Msg("failed to accept new connection")
			pln.Close()
			return err
		}
		s.ServeConn(_c, "")
	}
}

// ServeConn handles c in the background. raddr overrides the device address.
func (s *Server) ServeConn(_c net.Conn, raddr string) {
	cid := atomic.AddUint64(&s.cid_counter, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// the proxy header is read on first use of the connection
		c := NewConn(_c, raddr, cid)
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
		s.handle(c)
	}()
}

func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	t := s.tunnel
	links := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	if t != nil {
		t.Close()
	}
	for _, l := range links {
		l.cancel()
	}
	s.wg.Wait()
}

func (s *Server) ConnInfo(number string) (ConnInfo, bool) {
	s.mu.Lock()
	l, ok := s.links[number]
	s.mu.Unlock()
	if !ok {
		return ConnInfo{}, false
	}
	return l.info(), true
}

func (s *Server) readLogin(c *Conn) (LoginMessage, error) {
	login := LoginMessage{}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg := NewFrameMessage()
	err := ReadMessage(c, msg)
	if err != nil {
		return login, err
	}
	_ = c.SetReadDeadline(time.Time{})
	if msg.Protocol != LOGIN {
		return login, errors.New("message type is not login")
	}
	err = json.Unmarshal(msg.Payload, &login)
	return login, err
}

func (s *Server) resolvePairing(ctx context.Context, code string) (store.Pairing, error) {
	id, err := s.codec.Decode(strings.TrimSpace(code))
	if err != nil {
		return store.Pairing{}, err
	}
	return s.st.GetPairing(ctx, id)
}

func (s *Server) handle(c *Conn) {
	defer c.Close()
	login, err := s.readLogin(c)
	if err != nil {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error reading login message")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &link{s: s, c: c, login: login, ctx: ctx, cancel: cancel}
	l.log = s.log

	l.pairing, err = s.resolvePairing(ctx, login.PairingCode)
	if err != nil {
		s.log.Info().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Str("pairing_code", login.PairingCode).Msg("invalid pairing code")
		_ = l.ack(-1, AckInvalidPairing)
		return
	}
	s.log.Info().Str("event", LOGIN_MESSAGE).EmbedObject(l).Str("user_id", l.pairing.UserId).Msg("")

	var meta *tracking.Metadata
	if !l.pairing.LocationOnly {
		meta = &tracking.Metadata{
			UserId:      l.pairing.UserId,
			Name:        l.pairing.Name,
			GoodsType:   l.pairing.GoodsType,
			GoodsAmount: l.pairing.GoodsAmount,
		}
	}
	w := tracking.NewWriter(s.st, l.pairing.VehicleNumber, meta)
	l.driver = tracking.NewDriver(l, s.config.Sampler, w)

	if !s.attach(l) {
		return
	}
	defer s.detach(l)

	err = l.driver.Run(ctx)
	if errors.Is(err, tracking.ErrPermissionDenied) {
		return
	} else if err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).EmbedObject(l).Msg("driver stopped")
	}
}

func (s *Server) attach(l *link) bool {
	number := l.pairing.VehicleNumber
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	old := s.links[number]
	s.links[number] = l
	s.mu.Unlock()
	if old != nil {
		s.log.Info().Str("event", CONNECTION_REPLACED).EmbedObject(old).Msg("replacing older connection")
		_ = old.ack(-1, AckReplaced)
		old.cancel()
	}
	return true
}

func (s *Server) detach(l *link) {
	s.mu.Lock()
	if s.links[l.pairing.VehicleNumber] == l {
		delete(s.links, l.pairing.VehicleNumber)
	}
	s.mu.Unlock()
}
