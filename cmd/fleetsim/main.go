package main

import (
	"context"
	"encoding/json"
	"flag"
	"math"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/fleettrack/internal/devicelink"
	"nuha.dev/fleettrack/internal/geocode"
)

var addr = flag.String("addr", "localhost:6000", "device-server address")
var code = flag.String("code", "", "pairing code shown by StartTracking")
var device = flag.String("device", "fleetsim", "device name")
var lat = flag.Float64("lat", 19.0760, "starting latitude")
var lng = flag.Float64("lng", 72.8777, "starting longitude")
var interval = flag.Duration("interval", 5*time.Second, "time between fixes")
var step = flag.Float64("step", 30, "largest move per fix in meters")
var debug = flag.Bool("debug", false, "sets log level to debug")
var whereami = flag.Bool("whereami", false, "print the address of every fix sent")
var geocoderURL = flag.String("geocoder", geocode.DefaultBaseURL, "reverse geocoder base url")

const metersPerDegree = 111320.0

func send(c net.Conn, proto byte, v interface{}) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return devicelink.WriteMessage(c, proto, d)
}

func readAck(c net.Conn) (devicelink.AckMessage, error) {
	ack := devicelink.AckMessage{}
	msg := devicelink.NewFrameMessage()
	err := devicelink.ReadMessage(c, msg)
	if err != nil {
		return ack, err
	}
	err = json.Unmarshal(msg.Payload, &ack)
	return ack, err
}

// describe resolves the address shown next to a fix.
func describe(ctx context.Context, geo geocode.Geocoder, lat, lng float64) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := geo.Reverse(ctx, lat, lng)
	if err != nil {
		return "error fetching address: " + err.Error()
	}
	if !res.Found() {
		return "address not found"
	}
	return res.DisplayName
}

func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if *code == "" {
		log.Fatal().Msg("--code is required")
	}

	c, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect")
	}
	defer c.Close()
	err = send(c, devicelink.LOGIN, devicelink.LoginMessage{PairingCode: *code, Device: *device})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to send login")
	}
	ack, err := readAck(c)
	if err != nil {
		log.Fatal().Err(err).Msg("no login acknowledge")
	}
	if ack.Status != 0 {
		log.Fatal().Str("message", ack.Message).Msg("login refused")
	}
	log.Info().Str("addr", *addr).Msg("tracking")

	go func() {
		for {
			ack, err := readAck(c)
			if err != nil {
				log.Fatal().Err(err).Msg("connection closed")
			}
			log.Warn().Int("status", ack.Status).Str("message", ack.Message).Msg("server message")
		}
	}()

	var geo geocode.Geocoder
	if *whereami {
		geo = geocode.New(geocode.Config{BaseURL: *geocoderURL, UserAgent: "fleetsim"})
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	heading := rnd.Float64() * 2 * math.Pi
	curLat, curLng := *lat, *lng
	for {
		heading += (rnd.Float64() - 0.5) * math.Pi / 4
		d := rnd.Float64() * *step
		curLat += d * math.Cos(heading) / metersPerDegree
		curLng += d * math.Sin(heading) / (metersPerDegree * math.Cos(curLat*math.Pi/180))
		loc := devicelink.LocationMessage{
			GpsTime:   time.Now().UTC(),
			Latitude:  curLat,
			Longitude: curLng,
			Accuracy:  float32(3 + rnd.Float64()*5),
			Speed:     float32(d / interval.Seconds()),
		}
		err = send(c, devicelink.LOCATION, loc)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to send location")
		}
		if geo != nil {
			log.Info().Float64("lat", curLat).Float64("lng", curLng).Str("address", describe(context.Background(), geo, curLat, curLng)).Msg("fix sent")
		} else {
			log.Debug().Float64("lat", curLat).Float64("lng", curLng).Msg("fix sent")
		}
		time.Sleep(*interval)
	}
}
