package devicelink

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// Conn is a device connection. raddr is the device address, which differs
// from the socket peer for tunnelled streams.
type Conn struct {
	cid      uint64
	raddr    string
	tuple    []string
	created  time.Time
	byte_in  uint64
	byte_out uint64
	r        *bufio.Reader
	net.Conn
}

func NewConn(c net.Conn, raddr string, cid uint64) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())
	if raddr == "" {
		raddr = c.RemoteAddr().String()
	}
	return &Conn{
		cid:     cid,
		raddr:   raddr,
		tuple:   []string{sourceip, sourceport, targetip, targetport},
		created: time.Now(),
		r:       bufio.NewReader(c),
		Conn:    c,
	}
}

func (c *Conn) Peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddUint64(&c.byte_in, uint64(n))
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *Conn) DeviceAddr() string {
	return c.raddr
}

func (c *Conn) Stat() (byte_in uint64, byte_out uint64) {
	return atomic.LoadUint64(&c.byte_in), atomic.LoadUint64(&c.byte_out)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Str("remote_address", c.raddr).Strs("socket", c.tuple)
}
