package sublist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSub struct {
	closed bool
	got    []string
}

func (m *mockSub) Push(key string, d []byte) bool {
	m.got = append(m.got, key+":"+string(d))
	return m.closed
}

func TestGetSublist(t *testing.T) {
	m := NewSublistMap()
	_, ok := m.GetSublist("A", false)
	assert.False(t, ok)
	l1, ok := m.GetSublist("A", true)
	require.True(t, ok)
	l2, _ := m.GetSublist("A", false)
	assert.Same(t, l1, l2)
	assert.Equal(t, 1, m.Len())
}

func TestSubscribeReplaysLast(t *testing.T) {
	m := NewSublistMap()
	l, _ := m.GetSublist("A", true)
	first := &mockSub{}
	l.Subscribe(first)
	assert.Empty(t, first.got)

	l.Send([]byte("1"))
	l.Send([]byte("2"))
	late := &mockSub{}
	l.Subscribe(late)
	assert.Equal(t, []string{"A:1", "A:2"}, first.got)
	assert.Equal(t, []string{"A:2"}, late.got)
}

func TestClosedSubscriberDropped(t *testing.T) {
	m := NewSublistMap()
	l, _ := m.GetSublist("A", true)
	s := &mockSub{}
	l.Subscribe(s)
	assert.Equal(t, 1, l.Len())
	s.closed = true
	l.Send([]byte("1"))
	assert.Equal(t, 0, l.Len())
	l.Send([]byte("2"))
	assert.Equal(t, []string{"A:1"}, s.got)
}

func TestSeed(t *testing.T) {
	m := NewSublistMap()
	l, _ := m.GetSublist("A", true)
	s := &mockSub{}
	l.Subscribe(s)
	assert.True(t, l.Seed([]byte("db")))
	assert.False(t, l.Seed([]byte("db2")))
	l.Send([]byte("live"))
	assert.False(t, l.Seed([]byte("db3")))
	assert.Equal(t, []string{"A:db", "A:live"}, s.got)
	assert.Equal(t, []byte("live"), l.Data())
}

func TestUnsubscribe(t *testing.T) {
	m := NewSublistMap()
	l, _ := m.GetSublist("A", true)
	s := &mockSub{}
	l.Subscribe(s)
	l.Unsubscribe(s)
	l.Send([]byte("1"))
	assert.Empty(t, s.got)
}

func TestReleaseDropsEmptyList(t *testing.T) {
	m := NewSublistMap()
	a, b := &mockSub{}, &mockSub{}
	m.Subscribe("A", a)
	m.Subscribe("A", b)
	m.Release("A", a)
	assert.Equal(t, 1, m.Len())
	m.Release("A", b)
	assert.Equal(t, 0, m.Len())

	l := m.Subscribe("B", a)
	l.Send([]byte("1"))
	m.Release("B", a)
	assert.Equal(t, 1, m.Len())
	m.Release("C", a)

	late := &mockSub{}
	m.Subscribe("B", late)
	assert.Equal(t, []string{"B:1"}, late.got)
}
