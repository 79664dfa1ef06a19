package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passage/adapters/hasher"
	"github.com/layer-3/passage/adapters/store"
	"github.com/layer-3/passage/adapters/tokenizer"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/service"
	transport "github.com/layer-3/passage/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendCode(ctx context.Context, address, code string, purpose core.Purpose) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[address] = code
	return nil
}

func (i *inbox) code(address string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[address]
}

func newServer(t *testing.T) (*httptest.Server, *inbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := tokenizer.GenerateKey()
	require.NoError(t, err)

	principals := store.NewMemoryPrincipalStore()
	pw := hasher.NewBcryptHasher(bcrypt.MinCost)
	box := &inbox{codes: make(map[string]string)}
	router := transport.SetupRouter(transport.RouterConfig{
		Auth: service.NewAuthService(tokenizer.NewJWTTokenizer(key), principals, store.NewMemoryStore(), pw, nil, time.Hour),
		Enrollment: service.NewEnrollmentService(store.NewMemoryChallengeStore(), principals, pw, box,
			service.DefaultEnrollmentConfig()),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, box
}

func TestClientSessionLifecycle(t *testing.T) {
	srv, box := newServer(t)
	ctx := context.Background()
	c := New(srv.URL)

	require.NoError(t, c.RequestEnrollmentCode(ctx, "a@x.com"))
	profile, err := c.Register(ctx, "a@x.com", box.code("a@x.com"), "A", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", profile.Email)

	_, err = c.Me(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)

	res, err := c.Login(ctx, "a@x.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", res.TokenType)
	require.NotNil(t, c.Credential())
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.Credential().ExpiresAt, 5*time.Second)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, me.ID)

	require.NoError(t, c.Logout(ctx))
	assert.Nil(t, c.Credential())
	require.NoError(t, c.Logout(ctx), "logout without a credential is a no-op")
}

func TestClientRevokedCredentialTriggersReauth(t *testing.T) {
	srv, box := newServer(t)
	ctx := context.Background()

	first := New(srv.URL)
	require.NoError(t, first.RequestEnrollmentCode(ctx, "a@x.com"))
	_, err := first.Register(ctx, "a@x.com", box.code("a@x.com"), "A", "hunter22")
	require.NoError(t, err)
	_, err = first.Login(ctx, "a@x.com", "hunter22")
	require.NoError(t, err)

	var reauth atomic.Int32
	second := New(srv.URL, OnReauth(func() { reauth.Add(1) }))
	second.SetCredential(first.Credential())

	require.NoError(t, first.Logout(ctx))

	_, err = second.Me(ctx)
	assert.True(t, IsCode(err, core.CodeRevoked))
	assert.Nil(t, second.Credential())
	assert.Equal(t, int32(1), reauth.Load())
}

func TestClientAPIError(t *testing.T) {
	srv, _ := newServer(t)
	c := New(srv.URL)

	_, err := c.Login(context.Background(), "nobody@x.com", "whatever1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, core.CodeInvalidCredentials, apiErr.Code)
	assert.Nil(t, c.Credential())
}

func TestClientInvalidTokenTriggersReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid token","code":"invalid_token"}`))
	}))
	t.Cleanup(srv.Close)

	var reauth atomic.Int32
	c := New(srv.URL, OnReauth(func() { reauth.Add(1) }))
	c.SetCredential(&Credential{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	markers := NewMemoryMarkerStore()
	m := NewMonitor(c, markers, MonitorConfig{InactivityTimeout: time.Minute})
	m.begin()

	_, err := c.Me(context.Background())
	assert.True(t, IsCode(err, core.CodeInvalidToken))
	assert.Nil(t, c.Credential())
	assert.Equal(t, int32(1), reauth.Load())
	assert.False(t, m.Touch())
	_, err = markers.Load()
	assert.ErrorIs(t, err, ErrNoMarker)
}

// A restart with a fresh signing key leaves every issued token with a bad
// signature; the client drops it instead of retrying forever.
func TestClientForeignSignatureTriggersReauth(t *testing.T) {
	before, box := newServer(t)
	after, _ := newServer(t)
	ctx := context.Background()

	old := New(before.URL)
	require.NoError(t, old.RequestEnrollmentCode(ctx, "a@x.com"))
	_, err := old.Register(ctx, "a@x.com", box.code("a@x.com"), "A", "hunter22")
	require.NoError(t, err)
	_, err = old.Login(ctx, "a@x.com", "hunter22")
	require.NoError(t, err)

	var reauth atomic.Int32
	c := New(after.URL, OnReauth(func() { reauth.Add(1) }))
	c.SetCredential(old.Credential())

	_, err = c.Me(ctx)
	assert.True(t, IsCode(err, core.CodeInvalidToken))
	assert.Nil(t, c.Credential())
	assert.Equal(t, int32(1), reauth.Load())
}

func TestClientOtherUnauthorizedKeepsCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid email or password","code":"invalid_credentials"}`))
	}))
	t.Cleanup(srv.Close)

	var reauth atomic.Int32
	c := New(srv.URL, OnReauth(func() { reauth.Add(1) }))
	c.SetCredential(&Credential{Token: "tok"})

	_, err := c.Me(context.Background())
	assert.True(t, IsCode(err, core.CodeInvalidCredentials))
	assert.NotNil(t, c.Credential())
	assert.Zero(t, reauth.Load())
}
