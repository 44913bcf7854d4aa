package fanout

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/events"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/util"
)

const SubjectPrefix = "fleettrack"

// Conn is the part of *nats.Conn the bridge uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type Deliverer interface {
	Deliver(topic string, data interface{})
}

type envelope struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Doc    json.RawMessage `json:"doc"`
}

// Bridge republishes local change events on NATS and feeds remote ones into
// the local feed. Remote changes are never republished.
type Bridge struct {
	nc     Conn
	origin string
	feed   Deliverer
	sub    *nats.Subscription
	log    log.Logger
}

func New(nc Conn, feed Deliverer) *Bridge {
	b := &Bridge{nc: nc, feed: feed, origin: util.GenUUID()}
	b.log = log.DefaultLogger
	b.log.Context = log.NewContext(nil).Str("module", "fanout").Str("origin", b.origin).Value()
	return b
}

func Subject(topic string, key string) string {
	kind := strings.TrimSuffix(topic, ".changed")
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return SubjectPrefix + "." + kind + "." + r.Replace(key)
}

func (b *Bridge) Attach(bus *events.Bus) {
	h := func(ctx context.Context, topic string, data interface{}) {
		b.Publish(topic, data)
	}
	bus.Handle("fanout.vehicle", events.VehicleChanged, h)
	bus.Handle("fanout.user", events.UserChanged, h)
}

func (b *Bridge) Publish(topic string, data interface{}) {
	var key string
	switch doc := data.(type) {
	case model.Vehicle:
		key = doc.VehicleNumber
	case model.User:
		key = doc.Id
	default:
		return
	}
	doc, err := json.Marshal(data)
	if err != nil {
		b.log.Error().Err(err).Msg("error encoding document")
		return
	}
	msg, _ := json.Marshal(envelope{Origin: b.origin, Topic: topic, Doc: doc})
	err = b.nc.Publish(Subject(topic, key), msg)
	if err != nil {
		b.log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("error publishing change")
	}
}

func (b *Bridge) Run() error {
	sub, err := b.nc.Subscribe(SubjectPrefix+".>", b.receive)
	if err != nil {
		return err
	}
	b.sub = sub
	b.log.Info().Msg("nats fan-out started")
	return nil
}

func (b *Bridge) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
}

func (b *Bridge) receive(m *nats.Msg) {
	env := envelope{}
	err := json.Unmarshal(m.Data, &env)
	if err != nil {
		b.log.Warn().Err(err).Str("subject", m.Subject).Msg("malformed fan-out message")
		return
	}
	if env.Origin == b.origin {
		return
	}
	switch env.Topic {
	case events.VehicleChanged:
		v, err := model.DecodeVehicle(env.Doc)
		if err != nil {
			b.log.Warn().Err(err).Str("subject", m.Subject).Msg("invalid remote vehicle")
			return
		}
		b.feed.Deliver(env.Topic, v)
	case events.UserChanged:
		u, err := model.DecodeUser(env.Doc)
		if err != nil {
			b.log.Warn().Err(err).Str("subject", m.Subject).Msg("invalid remote user")
			return
		}
		b.feed.Deliver(env.Topic, u)
	default:
		b.log.Debug().Str("topic", env.Topic).Msg("ignoring unknown topic")
	}
}
