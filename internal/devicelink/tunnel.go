package devicelink

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/phuslu/log"
)

var errTunnelRejected = errors.New("tunnel rejected")

// Tunnel dials a relay and serves every stream it opens as a device
// connection. The relay writes the device address as the first line.
type Tunnel struct {
	s     *Server
	addr  string
	token string
	log   log.Logger
	mu    sync.Mutex
	sess  *yamux.Session
	stop  chan struct{}
	once  sync.Once
}

func NewTunnel(s *Server, addr string, token string) *Tunnel {
	t := &Tunnel{s: s, addr: addr, token: token, stop: make(chan struct{})}
	t.log = log.DefaultLogger
	t.log.Context = log.NewContext(nil).Str("module", "tunnel").Value()
	return t
}

// Run keeps the tunnel up until Close, redialling after a pause.
func (t *Tunnel) Run() {
	for {
		t0 := time.Now()
		err := t.runOnce()
		if err != nil {
			t.log.Error().Err(err).Str("addr", t.addr).Msg("tunnel down")
		}
		wait := 5 * time.Second
		if time.Since(t0) > 10*time.Second {
			wait = time.Second
		}
		select {
		case <-t.stop:
			return
		case <-time.After(wait):
		}
	}
}

func (t *Tunnel) Close() {
	t.once.Do(func() {
		close(t.stop)
		t.mu.Lock()
		if t.sess != nil {
			t.sess.Close()
		}
		t.mu.Unlock()
	})
}

func (t *Tunnel) dial() (net.Conn, error) {
	t.log.Info().Msgf("Dialling tunnel %s", t.addr)
	yconn, err := net.DialTimeout("tcp", t.addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	_, err = yconn.Write([]byte(t.token))
	if err != nil {
		yconn.Close()
		return nil, err
	}
	status := []byte{0}
	_ = yconn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err = yconn.Read(status)
	if err != nil {
		yconn.Close()
		return nil, err
	}
	_ = yconn.SetReadDeadline(time.Time{})
	if status[0] != '+' {
		yconn.Close()
		return nil, errTunnelRejected
	}
	t.log.Info().Msg("yamux tunnel accepted")
	return yconn, nil
}

func (t *Tunnel) runOnce() error {
	yconn, err := t.dial()
	if err != nil {
		return err
	}
	session, err := yamux.Client(yconn, nil)
	if err != nil {
		yconn.Close()
		return err
	}
	t.mu.Lock()
	select {
	case <-t.stop:
		t.mu.Unlock()
		session.Close()
		return nil
	default:
	}
	t.sess = session
	t.mu.Unlock()
	defer session.Close()
	for {
		tconn, err := session.Accept()
		if err != nil {
			select {
			case <-t.stop:
				return nil
			default:
			}
			return err
		}
		go t.serveStream(tconn)
	}
}

func (t *Tunnel) serveStream(tconn net.Conn) {
	r := bufio.NewReader(tconn)
	_ = tconn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raddr, err := r.ReadString('\n')
	if err != nil {
		t.log.Error().Err(err).Msg("error reading stream address")
		tconn.Close()
		return
	}
	_ = tconn.SetReadDeadline(time.Time{})
	t.s.ServeConn(&bufferedConn{Conn: tconn, r: r}, strings.TrimSpace(raddr))
}

// bufferedConn keeps bytes already read past the address line.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
