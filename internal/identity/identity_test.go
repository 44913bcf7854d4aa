package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/fleettrack/internal/events"
	"nuha.dev/fleettrack/internal/feed"
	"nuha.dev/fleettrack/internal/model"
	"nuha.dev/fleettrack/internal/session"
	"nuha.dev/fleettrack/internal/store"
	"nuha.dev/fleettrack/internal/store/impl/memstore"
)

type captureVerifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (c *captureVerifier) SendVerification(ctx context.Context, email string, token string) error {
	c.mu.Lock()
	c.tokens[email] = token
	c.mu.Unlock()
	return nil
}

func setup(t *testing.T, requireVerified bool) (*Service, *memstore.Store, *captureVerifier) {
	b, err := events.New(1)
	require.NoError(t, err)
	st := memstore.New(b)
	f := feed.New(st)
	f.Attach(b)
	reg := session.NewRegistry(st, session.NewResolver(st, f))
	v := &captureVerifier{tokens: map[string]string{}}
	return New(st, reg, v, Config{RequireVerifiedEmail: requireVerified}), st, v
}

func code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func TestRegisterValidation(t *testing.T) {
	s, _, _ := setup(t, true)
	ctx := context.Background()
	cases := []struct {
		req     RegisterRequest
		message string
	}{
		{RegisterRequest{Email: "a@example.com", Password: "secret1"}, "Please fill in all fields."},
		{RegisterRequest{Name: "A", Email: "not-an-email", Password: "secret1"}, "Please enter a valid email."},
		{RegisterRequest{Name: "A", Email: "a@example.com", Password: "12345"}, "Password must be at least 6 characters."},
		{RegisterRequest{Name: "A", Email: "a@example.com", Password: "secret1", Role: "owner"}, "Something went wrong."},
	}
	for _, c := range cases {
		_, err := s.Register(ctx, c.req)
		require.Error(t, err)
		assert.Equal(t, c.message, err.Error())
	}
}

func TestRegisterEmailInUse(t *testing.T) {
	s, st, _ := setup(t, true)
	ctx := context.Background()
	_, err := s.Register(ctx, RegisterRequest{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = s.Register(ctx, RegisterRequest{Name: "B", Email: "a@example.com", Password: "secret2", Role: model.RoleAdmin})
	require.Error(t, err)
	assert.Equal(t, "This email is already in use.", err.Error())
	assert.Equal(t, CodeEmailInUse, code(err))

	vs, err := st.GetVehicles(ctx)
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestSignInRequiresVerification(t *testing.T) {
	s, _, v := setup(t, true)
	ctx := context.Background()
	u, err := s.Register(ctx, RegisterRequest{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleDriver, u.Role)

	_, err = s.SignIn(ctx, "a@example.com", "secret1")
	assert.Equal(t, CodeEmailNotVerified, code(err))

	require.NoError(t, s.VerifyEmail(ctx, v.tokens["a@example.com"]))
	assert.Equal(t, CodeInvalidToken, code(s.VerifyEmail(ctx, v.tokens["a@example.com"])))

	_, err = s.SignIn(ctx, "a@example.com", "wrong-pass")
	assert.Equal(t, CodeInvalidCredential, code(err))

	c, err := s.SignIn(ctx, "A@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.Id, c.UserId)
	assert.Equal(t, model.RoleDriver, c.Role())
	assert.NotEmpty(t, c.CsrfToken)

	require.NoError(t, s.SignOut(ctx, c.SessionId))
	assert.ErrorIs(t, s.SignOut(ctx, c.SessionId), store.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	s, st, _ := setup(t, false)
	ctx := context.Background()
	_, err := s.Register(ctx, RegisterRequest{Name: "A", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	c, err := s.SignIn(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	assert.Equal(t, CodeInvalidCredential, code(s.ChangePassword(ctx, c.SessionId, "nope", "secret2")))
	require.NoError(t, s.ChangePassword(ctx, c.SessionId, "secret1", "secret2"))

	_, err = st.GetSession(ctx, c.SessionId)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.SignIn(ctx, "a@example.com", "secret2")
	assert.NoError(t, err)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Something went wrong.", Message("auth/unknown"))
	assert.Equal(t, "Please enter a valid email.", Message(CodeInvalidEmail))
}
