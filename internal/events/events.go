package events

import (
	"context"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
)

const (
	VehicleChanged string = "vehicle.changed"
	UserChanged    string = "user.changed"
)

// 2020-01-01T00:00:00Z in milliseconds
const epochMillis uint64 = 1577836800000

type Emitter interface {
	Emit(ctx context.Context, topic string, data interface{})
}

type Bus struct {
	b   *bus.Bus
	log log.Logger
}

func New(node uint64) (*Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, epochMillis)
	if err != nil {
		return nil, err
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(VehicleChanged, UserChanged)
	o := &Bus{b: b}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "events").Value()
	return o, nil
}

// Emit never fails the caller, the mutation it reports has already happened.
func (e *Bus) Emit(ctx context.Context, topic string, data interface{}) {
	err := e.b.Emit(ctx, topic, data)
	if err != nil {
		e.log.Error().Err(err).Str("topic", topic).Msg("error emitting event")
	}
}

func (e *Bus) Handle(key string, topic string, f func(ctx context.Context, topic string, data interface{})) {
	e.b.RegisterHandler(key, bus.Handler{
		Matcher: "^" + topic + "$",
		Handle: func(ctx context.Context, ev bus.Event) {
			f(ctx, ev.Topic, ev.Data)
		},
	})
}

func (e *Bus) Remove(key string) {
	e.b.DeregisterHandler(key)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(ctx context.Context, topic string, data interface{}) {}
