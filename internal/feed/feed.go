package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/phuslu/log"
	"nuha.dev/fleettrack/internal/events"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/sublist"
)

const bufferLen = 8

type DocStore interface {
	GetVehicle(ctx context.Context, number string) (model.Vehicle, error)
	GetUser(ctx context.Context, id string) (model.User, error)
}

// Feed delivers the current document of a vehicle or user and every later
// change to it.
type Feed struct {
	st       DocStore
	vehicles *sublist.SublistMap
	users    *sublist.SublistMap
	log      log.Logger
}

func New(st DocStore) *Feed {
	f := &Feed{st: st}
	f.vehicles = sublist.NewSublistMap()
	f.users = sublist.NewSublistMap()
	f.log = log.DefaultLogger
	f.log.Context = log.NewContext(nil).Str("module", "feed").Value()
	return f
}

// Attach makes f follow the change events of b.
func (f *Feed) Attach(b *events.Bus) {
	h := func(ctx context.Context, topic string, data interface{}) {
		f.Deliver(topic, data)
	}
	b.Handle("feed.vehicle", events.VehicleChanged, h)
	b.Handle("feed.user", events.UserChanged, h)
}

// Deliver publishes a changed document to its watchers.
func (f *Feed) Deliver(topic string, data interface{}) {
	var key string
	var lists *sublist.SublistMap
	switch doc := data.(type) {
	case model.Vehicle:
		key, lists = doc.VehicleNumber, f.vehicles
	case model.User:
		key, lists = doc.Id, f.users
	default:
		f.log.Warn().Str("topic", topic).Msgf("unexpected document type %T", data)
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		f.log.Error().Err(err).Str("topic", topic).Msg("error encoding document")
		return
	}
	l, _ := lists.GetSublist(key, true)
	l.Send(b)
}

// WatchVehicle streams the vehicle document until ctx ends. Nothing is sent
// while the document does not exist.
func (f *Feed) WatchVehicle(ctx context.Context, number string) (<-chan model.Vehicle, error) {
	raw, err := f.watch(ctx, f.vehicles, number, func() (interface{}, error) {
		return f.st.GetVehicle(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	out := make(chan model.Vehicle)
	go func() {
		defer close(out)
		for d := range raw {
			v, err := model.DecodeVehicle(d)
			if err != nil {
				f.log.Error().Err(err).Str("vehicle", number).Msg("dropping invalid vehicle document")
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *Feed) WatchUser(ctx context.Context, id string) (<-chan model.User, error) {
	raw, err := f.watch(ctx, f.users, id, func() (interface{}, error) {
		return f.st.GetUser(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	out := make(chan model.User)
	go func() {
		defer close(out)
		for d := range raw {
			u, err := model.DecodeUser(d)
			if err != nil {
				f.log.Error().Err(err).Str("user", id).Msg("dropping invalid user document")
				continue
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *Feed) watch(ctx context.Context, lists *sublist.SublistMap, key string, load func() (interface{}, error)) (<-chan []byte, error) {
	sub := newChanSub()
	l := lists.Subscribe(key, sub)
	if l.Data() == nil {
		doc, err := load()
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			lists.Release(key, sub)
			return nil, err
		}
		if err == nil {
			b, err := json.Marshal(doc)
			if err != nil {
				lists.Release(key, sub)
				return nil, err
			}
			l.Seed(b)
		}
	}
	go func() {
		<-ctx.Done()
		lists.Release(key, sub)
		sub.close()
	}()
	return sub.ch, nil
}

// chanSub keeps the newest payloads, dropping the oldest when the reader lags.
type chanSub struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newChanSub() *chanSub {
	return &chanSub{ch: make(chan []byte, bufferLen)}
}

func (c *chanSub) Push(key string, d []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	for {
		select {
		case c.ch <- d:
			return false
		default:
		}
		select {
		case <-c.ch:
		default:
		}
	}
}

func (c *chanSub) close() {
	c.mu.Lock()
	c.closed = true
	close(c.ch)
	c.mu.Unlock()
}
