package sublist

import (
	"sync"
)

type Subscriber interface {
	// Push delivers d published under key. Returning true drops the subscriber.
	Push(key string, d []byte) (closed bool)
}

type SublistMap struct {
	mu   *sync.Mutex
	list map[string]*Sublist
}

// Sublist holds the subscribers of one key and the last payload sent to it.
type Sublist struct {
	key  string
	list map[Subscriber]bool
	data []byte
	mu   *sync.Mutex
}

func NewSublistMap() *SublistMap {
	m := SublistMap{}
	m.mu = &sync.Mutex{}
	m.list = map[string]*Sublist{}
	return &m
}

func (s *SublistMap) GetSublist(key string, create bool) (*Sublist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if ok {
		return l, true
	}
	if !create {
		return nil, false
	}
	m := &Sublist{key: key, list: make(map[Subscriber]bool), mu: &sync.Mutex{}}
	s.list[key] = m
	return m, true
}

// Subscribe adds sub to the list of key, creating the list if needed.
func (s *SublistMap) Subscribe(key string, sub Subscriber) *Sublist {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if !ok {
		l = &Sublist{key: key, list: make(map[Subscriber]bool), mu: &sync.Mutex{}}
		s.list[key] = l
	}
	l.Subscribe(sub)
	return l
}

// Release removes sub from the list of key. A list left with no subscribers
// and no payload is dropped.
func (s *SublistMap) Release(key string, sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if !ok {
		return
	}
	l.mu.Lock()
	delete(l.list, sub)
	if len(l.list) == 0 && l.data == nil {
		delete(s.list, key)
	}
	l.mu.Unlock()
}

func (s *SublistMap) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Subscribe adds sub and replays the last payload to it, if any.
func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	if s.data != nil {
		if sub.Push(s.key, s.data) {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

func (s *Sublist) Send(d []byte) {
	s.mu.Lock()
	s.data = d
	s.send(d)
	s.mu.Unlock()
}

// Seed sends d only when nothing was sent before. It reports whether d was used.
func (s *Sublist) Seed(d []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		return false
	}
	s.data = d
	s.send(d)
	return true
}

func (s *Sublist) send(d []byte) {
	for sub := range s.list {
		closed := sub.Push(s.key, d)
		if closed {
			delete(s.list, sub)
		}
	}
}

func (s *Sublist) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
