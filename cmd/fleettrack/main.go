package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/config"
	"nuha.dev/fleettrack/internal/devicelink"
	"nuha.dev/fleettrack/internal/events"
	"nuha.dev/fleettrack/internal/fanout"
	"nuha.dev/fleettrack/internal/feed"
	"nuha.dev/fleettrack/internal/geocode"
	"nuha.dev/fleettrack/internal/identity"
	"nuha.dev/fleettrack/internal/pairing"
	"nuha.dev/fleettrack/internal/session"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/store/impl/memstore"
	"nuha.dev/fleettrack/internal/store/impl/pgstore"
	"nuha.dev/fleettrack/internal/webapp"
	"nuha.dev/fleettrack/internal/webapp/webstream"
)

var configFile = flag.String("config", "", "config file (yaml, json or toml)")

func main() {
	flag.Parse()
	conf, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	conf.ApplyLogLevel()
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "main").Value()

	bus, err := events.New(conf.NodeId)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to create event bus")
	}

	var st store.Store
	switch conf.Store {
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store, nothing survives a restart")
		st = memstore.New(bus)
	default:
		pool, err := pgxpool.Connect(context.Background(), conf.DbURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer pool.Close()
		st = pgstore.NewStore(pool, bus)
	}

	f := feed.New(st)
	f.Attach(bus)

	if conf.NatsURL != "" {
		nc, err := nats.Connect(conf.NatsURL, nats.Name("fleettrack"), nats.MaxReconnects(-1))
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to nats")
		}
		defer nc.Drain()
		bridge := fanout.New(nc, f)
		bridge.Attach(bus)
		err = bridge.Run()
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to start fan-out")
		}
		defer bridge.Stop()
	}

	codec, err := pairing.NewCodec(conf.PairingSalt)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid pairing salt")
	}
	reg := session.NewRegistry(st, session.NewResolver(st, f))
	id := identity.New(st, reg, identity.NewLogVerifier(conf.PublicURL), identity.Config{
		RequireVerifiedEmail: conf.RequireVerifiedEmail,
		SessionLength:        conf.SessionLength,
	})
	geo := geocode.New(conf.Geocoder)

	devices := devicelink.NewServer(st, codec, &devicelink.ServerConfig{
		ListenerAddr: conf.DeviceAddress,
		TunnelAddr:   conf.TunnelAddress,
		TunnelToken:  conf.TunnelToken,
		Sampler:      conf.Sampler,
	})
	api := webapp.NewApi(id, reg, st, codec, devices, &webapp.ApiConfig{
		ListenAddr:   conf.ApiAddress,
		VerifyCSRF:   conf.VerifyCSRF,
		CookieDomain: conf.CookieDomain,
	})
	ws := webstream.NewWebstream(st, reg, f, geo, webstream.WebStreamConfig{ListenAddr: conf.WsAddress})

	errs := make(chan error, 3)
	go func() { errs <- api.Run() }()
	go func() { errs <- ws.Run() }()
	go func() { errs <- devices.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	for running := true; running; {
		select {
		case s := <-sig:
			logger.Info().Str("signal", s.String()).Msg("shutting down")
			running = false
		case err := <-errs:
			if err != nil {
				logger.Error().Err(err).Msg("server stopped, shutting down")
				running = false
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = api.Shutdown(ctx)
	_ = ws.Shutdown(ctx)
	devices.Close()
}
