package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/util"
)

// Runs against a scratch database named by FLEETTRACK_TEST_DB_URL.
func testStore(t *testing.T) *Store {
	url := os.Getenv("FLEETTRACK_TEST_DB_URL")
	if url == "" {
		t.Skip("FLEETTRACK_TEST_DB_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	st := NewStore(pool, nil)
	require.NoError(t, st.ApplySchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE vehicles, pairing, websocket_session, session, account, users`)
	require.NoError(t, err)
	return st
}

func TestMergeVehicle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.MergeVehicle(ctx, "MH12AB1234", &model.VehiclePatch{
		UserId:    util.StrPtr("u1"),
		Name:      util.StrPtr("Asha"),
		GoodsType: util.StrPtr("Fruits"),
	})
	require.NoError(t, err)
	v, err := st.GetVehicle(ctx, "MH12AB1234")
	require.NoError(t, err)
	assert.False(t, v.HasLocation())

	v, err = st.MergeVehicle(ctx, "MH12AB1234", &model.VehiclePatch{
		CurrentLocation: model.NewLocation(19.07, 72.87, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, "Fruits", v.GoodsType)
	require.True(t, v.HasLocation())
	assert.Equal(t, "2024-05-01T10:00:00Z", v.CurrentLocation.Timestamp)

	vs, err := st.GetVehiclesByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	_, err = st.GetVehicle(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccounts(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	u := model.User{Id: util.GenUUID(), Role: model.RoleDriver, Name: "A", Email: "a@example.com", CreatedAt: time.Now()}
	require.NoError(t, st.CreateAccount(ctx, store.Account{UserId: u.Id, Email: u.Email, PasswordHash: "x", VerifyToken: "tok"}, u))

	u2 := model.User{Id: util.GenUUID(), Role: model.RoleDriver, Email: "a@example.com", CreatedAt: time.Now()}
	err := st.CreateAccount(ctx, store.Account{UserId: u2.Id, Email: u2.Email, PasswordHash: "x"}, u2)
	assert.ErrorIs(t, err, store.ErrEmailInUse)
	_, err = st.GetUser(ctx, u2.Id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	acc, err := st.VerifyEmail(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, acc.Verified)

	users, err := st.GetUsers(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, users)

	got, err := st.SetUserRole(ctx, u.Id, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)

	require.NoError(t, st.CreateSession(ctx, store.Session{Id: "s1", UserId: u.Id, CsrfToken: "c", ValidUntil: time.Now().Add(time.Hour)}))
	require.NoError(t, st.PutWsToken(ctx, "s1", "w1"))
	sess, err := st.SessionByWsToken(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, u.Id, sess.UserId)
	require.NoError(t, st.DeleteSession(ctx, "s1"))
	_, err = st.GetWsToken(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	id, err := st.CreatePairing(ctx, store.Pairing{UserId: u.Id, VehicleNumber: "X1", Name: "A", GoodsType: "g", GoodsAmount: "1"})
	require.NoError(t, err)
	p, err := st.GetPairing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "X1", p.VehicleNumber)
}
