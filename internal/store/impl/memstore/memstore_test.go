package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/util"
)

type recorder struct {
	lock   sync.Mutex
	topics []string
	data   []interface{}
}

func (r *recorder) Emit(ctx context.Context, topic string, data interface{}) {
	r.lock.Lock()
	r.topics = append(r.topics, topic)
	r.data = append(r.data, data)
	r.lock.Unlock()
}

func TestMergeVehicleKeepsOmittedFields(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := New(rec)

	_, err := s.MergeVehicle(ctx, "MH12AB1234", &model.VehiclePatch{
		UserId:          util.StrPtr("u1"),
		Name:            util.StrPtr("Asha"),
		GoodsType:       util.StrPtr("Fruits"),
		GoodsAmount:     util.StrPtr("500kg"),
		CurrentLocation: model.NewLocation(19.07, 72.87, time.Now()),
	})
	require.NoError(t, err)

	v, err := s.MergeVehicle(ctx, "MH12AB1234", &model.VehiclePatch{
		CurrentLocation: model.NewLocation(19.08, 72.88, time.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, "Fruits", v.GoodsType)
	assert.Equal(t, "u1", v.UserId)
	assert.Equal(t, 19.08, v.CurrentLocation.Lat)

	assert.Equal(t, []string{"vehicle.changed", "vehicle.changed"}, rec.topics)
	last := rec.data[1].(model.Vehicle)
	assert.Equal(t, 19.08, last.CurrentLocation.Lat)
}

func TestMergeVehicleRejectsInvalidLocation(t *testing.T) {
	s := New(nil)
	_, err := s.MergeVehicle(context.Background(), "X1", &model.VehiclePatch{
		CurrentLocation: &model.Location{Lat: 120, Lng: 0, Timestamp: "2024-05-01T10:00:00Z"},
	})
	assert.Error(t, err)
	_, err = s.GetVehicle(context.Background(), "X1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReturnedVehicleIsACopy(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, err := s.MergeVehicle(ctx, "X1", &model.VehiclePatch{CurrentLocation: model.NewLocation(1, 1, time.Now())})
	require.NoError(t, err)
	v, _ := s.GetVehicle(ctx, "X1")
	v.CurrentLocation.Lat = 50
	v2, _ := s.GetVehicle(ctx, "X1")
	assert.Equal(t, 1.0, v2.CurrentLocation.Lat)
}

func TestGetVehiclesByUser(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	for _, p := range []struct{ n, u string }{{"B2", "u1"}, {"A1", "u1"}, {"C3", "u2"}} {
		_, err := s.MergeVehicle(ctx, p.n, &model.VehiclePatch{UserId: util.StrPtr(p.u)})
		require.NoError(t, err)
	}
	vs, err := s.GetVehiclesByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "A1", vs[0].VehicleNumber)

	all, err := s.GetVehicles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.GetVehiclesByUser(ctx, "u9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateAccountEmailInUse(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := New(rec)
	u := model.User{Id: "u1", Role: model.RoleDriver, Name: "A", Email: "a@example.com"}
	require.NoError(t, s.CreateAccount(ctx, store.Account{UserId: "u1", Email: "a@example.com"}, u))

	u2 := model.User{Id: "u2", Role: model.RoleAdmin, Name: "B", Email: "A@example.com"}
	err := s.CreateAccount(ctx, store.Account{UserId: "u2", Email: "A@example.com"}, u2)
	assert.ErrorIs(t, err, store.ErrEmailInUse)
	_, err = s.GetUser(ctx, "u2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, rec.topics, 1)
}

func TestGetUsersOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	now := time.Now()
	require.NoError(t, s.CreateAccount(ctx, store.Account{UserId: "u2", Email: "b@example.com"}, model.User{Id: "u2", Role: model.RoleAdmin, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.CreateAccount(ctx, store.Account{UserId: "u1", Email: "a@example.com"}, model.User{Id: "u1", Role: model.RoleDriver, CreatedAt: now}))
	users, err := s.GetUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].Id)
	assert.Equal(t, "u2", users[1].Id)
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	u := model.User{Id: "u1", Role: model.RoleDriver}
	require.NoError(t, s.CreateAccount(ctx, store.Account{UserId: "u1", Email: "a@example.com", VerifyToken: "tok"}, u))
	acc, err := s.VerifyEmail(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, acc.Verified)
	_, err = s.VerifyEmail(ctx, "tok")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionsAndWsTokens(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.CreateSession(ctx, store.Session{Id: "s1", UserId: "u1", ValidUntil: time.Now().Add(time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, store.Session{Id: "s2", UserId: "u1", ValidUntil: time.Now().Add(-time.Second)}))

	_, err := s.GetSession(ctx, "s2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutWsToken(ctx, "s1", "ws1"))
	sess, err := s.SessionByWsToken(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.Id)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err = s.SessionByWsToken(ctx, "ws1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, "s1"), store.ErrNotFound)
}

func TestPairing(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	id, err := s.CreatePairing(ctx, store.Pairing{UserId: "u1", VehicleNumber: "X1"})
	require.NoError(t, err)
	p, err := s.GetPairing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "X1", p.VehicleNumber)
	assert.False(t, p.CreatedAt.IsZero())
	_, err = s.GetPairing(ctx, id+1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
