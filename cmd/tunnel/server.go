package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"net"
	"time"

	yamux "github.com/hashicorp/yamux"
	"github.com/phuslu/log"
)

var eaddr = flag.String("eaddr", ":6000", "address for device connections")
var taddr = flag.String("taddr", ":6001", "address for tunnel connection")
var secret = flag.String("token", "token", "token for tunnel auth connection")
var certfile = flag.String("cert", "", "tls certificate file")
var keyfile = flag.String("key", "", "tls key file ")

func main() {
	flag.Parse()
	log.DefaultLogger.Context = log.NewContext(nil).Str("module", "tunnel-relay").Value()
	log.Info().Msgf("using device addr %s and tunnel addr %s", *eaddr, *taddr)

	var ylistener net.Listener
	var err error
	if *certfile == "" && *keyfile == "" {
		log.Info().Msg("starting non-tls listener")
		ylistener, err = net.Listen("tcp", *taddr)
	} else {
		log.Info().Msg("starting tls listener")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(*certfile, *keyfile)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load certificate")
		}
		ylistener, err = tls.Listen("tcp", *taddr, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	if err != nil {
		log.Fatal().Err(err).Msg("unable to listen")
	}

	for {
		yconn, err := ylistener.Accept()
		if err != nil {
			log.Error().Err(err).Msg("")
			continue
		}
		log.Info().Msgf("accepting connection from %s", yconn.RemoteAddr())
		runServer(yconn)
		time.Sleep(2 * time.Second)
		log.Info().Msg("waiting for the tunnel again")
	}
}

// runServer relays device connections over yconn until the session ends.
func runServer(yconn net.Conn) {
	token := make([]byte, 64)
	_ = yconn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := yconn.Read(token)
	if err != nil {
		log.Error().Err(err).Msg("error reading tunnel token")
		yconn.Close()
		return
	}
	_ = yconn.SetReadDeadline(time.Time{})
	if *secret != string(token[:n]) {
		_, _ = yconn.Write([]byte{'-'})
		yconn.Close()
		log.Warn().Msgf("tunnel from %s rejected", yconn.RemoteAddr())
		return
	}
	_, _ = yconn.Write([]byte{'+'})
	log.Info().Msgf("establishing tunnel connection from %s", yconn.RemoteAddr())
	session, err := yamux.Server(yconn, nil)
	if err != nil {
		log.Error().Err(err).Msg("error trying to create server")
		yconn.Close()
		return
	}
	defer session.Close()

	listener, err := net.Listen("tcp", *eaddr)
	if err != nil {
		log.Error().Err(err).Msg("unable to open device port")
		return
	}
	defer func() {
		log.Info().Msg("closing device listener")
		listener.Close()
	}()
	go func() {
		<-session.CloseChan()
		log.Info().Msg("tunnel session closed")
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Error().Err(err).Msg("")
			return
		}
		log.Info().Msgf("new connection from %s", conn.RemoteAddr())
		go forward(session, conn)
	}
}

func forward(session *yamux.Session, conn net.Conn) {
	defer conn.Close()
	tstream, err := session.OpenStream()
	if err != nil {
		log.Error().Err(err).Msg("error trying to open stream")
		return
	}
	log.Debug().Msgf("new streamID : %d", tstream.StreamID())
	c := make(chan error, 1)
	go func() {
		fmt.Fprintf(tstream, "%s\n", conn.RemoteAddr())
		_, err := io.Copy(tstream, conn)
		if err != nil {
			log.Error().Err(err).Msgf("error copying to stream %d from %s", tstream.StreamID(), conn.RemoteAddr())
		}
		tstream.Close()
		c <- err
	}()
	_, err = io.Copy(conn, tstream)
	if err != nil {
		log.Error().Err(err).Msgf("error copying to %s from stream %d", conn.RemoteAddr(), tstream.StreamID())
	}
	conn.Close()
	<-c
}
